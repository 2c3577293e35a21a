package feather

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feather-store/feather/blobstore"
	"github.com/feather-store/feather/metadata"
)

func buildBackupStore(t *testing.T) *DB {
	t.Helper()
	db := openTest(t)

	require.NoError(t, db.Add(1, []float32{1, 0, 0}, func(o *AddOptions) {
		o.Metadata = metaWith(func(m *metadata.Metadata) {
			m.Content = "alpha"
			m.NamespaceID = "ns"
		})
	}))
	require.NoError(t, db.Add(2, []float32{0, 1, 0}))
	require.NoError(t, db.Add(3, []float32{0.5, 0.5}, func(o *AddOptions) {
		o.Modality = "visual"
	}))
	db.Link(1, 2, func(o *LinkOptions) { o.RelType = metadata.RelSupports })

	return db
}

func assertRestored(t *testing.T, db *DB) {
	t.Helper()

	assert.Equal(t, 3, db.Size())
	assert.Equal(t, 3, db.Dim(DefaultModality))
	assert.Equal(t, 2, db.Dim("visual"))

	m, ok := db.GetMetadata(1)
	require.True(t, ok)
	assert.Equal(t, "alpha", m.Content)
	assert.Equal(t, "ns", m.NamespaceID)

	edges := db.GetEdges(1)
	require.Len(t, edges, 1)
	assert.Equal(t, uint64(2), edges[0].TargetID)

	incoming := db.GetIncoming(2)
	require.Len(t, incoming, 1)
	assert.Equal(t, uint64(1), incoming[0].SourceID)

	results, err := db.Search([]float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].ID)
}

func TestBackupRestore(t *testing.T) {
	codecs := map[string]Compression{
		"Zstd": CompressionZstd,
		"LZ4":  CompressionLZ4,
		"None": CompressionNone,
	}

	for name, codec := range codecs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := blobstore.NewMemory()

			db := buildBackupStore(t)
			require.NoError(t, db.BackupTo(ctx, store, "snap.bin", func(o *BackupOptions) {
				o.Compression = codec
			}))

			names, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"snap.bin"}, names)

			// Restore into an unrelated empty store
			target := openTest(t)
			require.NoError(t, target.RestoreFrom(ctx, store, "snap.bin"))
			assertRestored(t, target)
		})
	}
}

func TestBackupToLocalStore(t *testing.T) {
	ctx := context.Background()

	store, err := blobstore.NewLocal(filepath.Join(t.TempDir(), "backups"))
	require.NoError(t, err)

	db := buildBackupStore(t)
	require.NoError(t, db.BackupTo(ctx, store, "daily/snap.bin"))

	target := openTest(t)
	require.NoError(t, target.RestoreFrom(ctx, store, "daily/snap.bin"))
	assertRestored(t, target)
}

func TestBackupRateLimited(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemory()

	db := buildBackupStore(t)

	start := time.Now()
	require.NoError(t, db.BackupTo(ctx, store, "snap.bin", func(o *BackupOptions) {
		o.RateLimitBytesPerSec = 1 << 20 // ample for a tiny snapshot
	}))
	assert.Less(t, time.Since(start), 5*time.Second)

	target := openTest(t)
	require.NoError(t, target.RestoreFrom(ctx, store, "snap.bin", func(o *BackupOptions) {
		o.RateLimitBytesPerSec = 1 << 20
	}))
	assertRestored(t, target)
}

func TestRestoreMissingBlob(t *testing.T) {
	db := openTest(t)

	err := db.RestoreFrom(context.Background(), blobstore.NewMemory(), "absent")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestRestoreReplacesState(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemory()

	db := buildBackupStore(t)
	require.NoError(t, db.BackupTo(ctx, store, "snap.bin"))

	target := openTest(t)
	require.NoError(t, target.Add(99, []float32{9, 9, 9}))

	require.NoError(t, target.RestoreFrom(ctx, store, "snap.bin"))

	_, ok := target.GetMetadata(99)
	assert.False(t, ok, "restore replaces prior contents")
	assertRestored(t, target)
}

func TestBackupClosedStore(t *testing.T) {
	db := openTest(t)
	require.NoError(t, db.Close())

	err := db.BackupTo(context.Background(), blobstore.NewMemory(), "snap.bin")
	assert.ErrorIs(t, err, ErrClosed)
}
