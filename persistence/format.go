// Package persistence implements the versioned single-file binary layout of a
// store: one header, a metadata section, then one self-describing section per
// modality index.
package persistence

import (
	"errors"
	"fmt"

	"github.com/feather-store/feather/metadata"
)

const (
	// MagicNumber identifies a store file ("FEAT", little-endian u32).
	MagicNumber uint32 = 0x46454154

	// VersionCurrent is the layout version the writer emits.
	VersionCurrent uint32 = 5

	// VersionMin is the oldest layout the reader accepts.
	VersionMin uint32 = 2
)

var (
	// ErrInvalidMagic is returned when the file does not start with MagicNumber.
	// Callers typically treat such a file as absent and start fresh.
	ErrInvalidMagic = errors.New("invalid magic number")

	// ErrCorruptData is returned (wrapped) when a record or section is cut
	// short or a length prefix exceeds the remaining bytes. Reads stop at the
	// first corrupt record and return everything decoded before it.
	ErrCorruptData = errors.New("corrupt data")
)

// ErrUnsupportedVersion indicates a file with a valid magic but an unknown
// layout version.
type ErrUnsupportedVersion struct {
	Version uint32
}

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported store version: %d", e.Version)
}

// VectorItem is one (id, vector) pair inside a modality section.
type VectorItem struct {
	ID     uint64
	Vector []float32
}

// ModalitySection is the persisted image of one modality index: vectors in
// internal-index (insertion) order. Graph topology is not serialized; it is
// rebuilt by re-insertion on load.
type ModalitySection struct {
	Name  string
	Dim   int
	Items []VectorItem
}

// Snapshot is the full persisted image of a store.
type Snapshot struct {
	Version    uint32
	Records    map[uint64]*metadata.Metadata
	Modalities []ModalitySection
}

// NewSnapshot returns an empty snapshot at the current version.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version: VersionCurrent,
		Records: make(map[uint64]*metadata.Metadata),
	}
}
