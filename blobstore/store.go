// Package blobstore abstracts where snapshot backups live: a local directory,
// process memory, or S3-compatible object storage.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BlobStore stores immutable named blobs.
type BlobStore interface {
	// Put writes the blob under name, replacing any previous content.
	Put(ctx context.Context, name string, r io.Reader) error

	// Open opens the blob for reading. The caller closes the reader.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of blobs starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
