package blobstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, newStore func(t *testing.T) BlobStore) {
	ctx := context.Background()

	t.Run("PutOpenRoundTrip", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Put(ctx, "snapshots/a.bin", strings.NewReader("hello")))

		rc, err := s.Open(ctx, "snapshots/a.bin")
		require.NoError(t, err)
		defer rc.Close()

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("PutReplaces", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Put(ctx, "a", strings.NewReader("one")))
		require.NoError(t, s.Put(ctx, "a", strings.NewReader("two")))

		rc, err := s.Open(ctx, "a")
		require.NoError(t, err)
		defer rc.Close()

		data, _ := io.ReadAll(rc)
		assert.Equal(t, "two", string(data))
	})

	t.Run("OpenMissing", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Open(ctx, "absent")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Put(ctx, "a", strings.NewReader("x")))
		require.NoError(t, s.Delete(ctx, "a"))

		_, err := s.Open(ctx, "a")
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleting a missing blob is not an error
		assert.NoError(t, s.Delete(ctx, "a"))
	})

	t.Run("List", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Put(ctx, "backups/1", strings.NewReader("x")))
		require.NoError(t, s.Put(ctx, "backups/2", strings.NewReader("y")))
		require.NoError(t, s.Put(ctx, "other/3", strings.NewReader("z")))

		names, err := s.List(ctx, "backups/")
		require.NoError(t, err)
		assert.Equal(t, []string{"backups/1", "backups/2"}, names)
	})
}

func TestMemory(t *testing.T) {
	testStore(t, func(t *testing.T) BlobStore {
		return NewMemory()
	})
}

func TestLocal(t *testing.T) {
	testStore(t, func(t *testing.T) BlobStore {
		s, err := NewLocal(t.TempDir())
		require.NoError(t, err)
		return s
	})
}
