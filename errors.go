package feather

import (
	"errors"
	"fmt"

	"github.com/feather-store/feather/hnsw"
	"github.com/feather-store/feather/persistence"
)

var (
	// ErrNotFound reports a missing item. The DB getters do not return it;
	// they signal absence with a false ok value or an empty result.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
)

// ErrDimensionMismatch indicates a vector length that does not match the
// modality's fixed dimension, or an attempt to re-register a modality with a
// different dimension.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Modality string
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch for modality %q: expected %d, got %d", e.Modality, e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrUnsupportedVersion indicates a store file with a valid magic but an
// unknown layout version.
type ErrUnsupportedVersion struct {
	Version uint32
	cause   error
}

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported store version: %d", e.Version)
}

func (e *ErrUnsupportedVersion) Unwrap() error { return e.cause }

// translateError maps subsystem errors into the public error contract.
func translateError(modality string, err error) error {
	if err == nil {
		return nil
	}

	var dm *hnsw.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Modality: modality, Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	var uv *persistence.ErrUnsupportedVersion
	if errors.As(err, &uv) {
		return &ErrUnsupportedVersion{Version: uv.Version, cause: err}
	}

	return err
}
