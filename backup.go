package feather

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/time/rate"

	"github.com/feather-store/feather/blobstore"
	"github.com/feather-store/feather/metadata"
	"github.com/feather-store/feather/persistence"
)

// Compression selects the codec a backup stream is written with.
type Compression uint8

const (
	// CompressionZstd is the default codec (good ratio, fast decode).
	CompressionZstd Compression = iota
	// CompressionLZ4 trades ratio for speed.
	CompressionLZ4
	// CompressionNone stores the raw store payload.
	CompressionNone
)

// BackupOptions contains options for BackupTo and RestoreFrom.
type BackupOptions struct {
	// Compression selects the stream codec. Defaults to zstd.
	Compression Compression

	// RateLimitBytesPerSec throttles the stream. 0 means unlimited.
	RateLimitBytesPerSec int
}

// BackupTo streams a snapshot of the store into a blob. The stream is one
// codec tag byte followed by the (possibly compressed) store file payload;
// the primary on-disk format is untouched.
func (db *DB) BackupTo(ctx context.Context, store blobstore.BlobStore, name string, optFns ...func(o *BackupOptions)) error {
	if db.closed {
		return ErrClosed
	}

	opts := BackupOptions{Compression: CompressionZstd}
	for _, fn := range optFns {
		fn(&opts)
	}

	snap := db.snapshot()

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeBackupStream(ctx, pw, snap, &opts))
	}()

	err := store.Put(ctx, name, pr)
	// Unblock the writer if Put bailed early
	_ = pr.CloseWithError(err)

	db.opts.logger.LogBackup("backup", name, err)
	return err
}

// RestoreFrom replaces the store's contents with the snapshot stored in a
// blob. Vector indices and the reverse edge index are rebuilt, as on Open.
func (db *DB) RestoreFrom(ctx context.Context, store blobstore.BlobStore, name string, optFns ...func(o *BackupOptions)) error {
	if db.closed {
		return ErrClosed
	}

	opts := BackupOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	rc, err := store.Open(ctx, name)
	if err != nil {
		db.opts.logger.LogBackup("restore", name, err)
		return err
	}
	defer rc.Close()

	snap, err := readBackupStream(ctx, rc, &opts)
	if err != nil {
		db.opts.logger.LogBackup("restore", name, err)
		return translateError("", err)
	}

	db.modalities = make(map[string]*modalityIndex)
	db.meta = metadata.NewTable()
	db.reverse = metadata.NewReverseIndex()

	if err := db.applySnapshot(snap); err != nil {
		db.opts.logger.LogBackup("restore", name, err)
		return err
	}

	if len(db.modalities) == 0 {
		if _, err := db.getOrCreateIndex(DefaultModality, db.opts.defaultDimension); err != nil {
			return err
		}
	}

	db.opts.logger.LogBackup("restore", name, nil)
	return nil
}

func writeBackupStream(ctx context.Context, w io.Writer, snap *persistence.Snapshot, opts *BackupOptions) error {
	if _, err := w.Write([]byte{byte(opts.Compression)}); err != nil {
		return err
	}

	if opts.RateLimitBytesPerSec > 0 {
		limiter := rate.NewLimiter(rate.Limit(opts.RateLimitBytesPerSec), opts.RateLimitBytesPerSec)
		w = &rateLimitedWriter{w: w, limiter: limiter, ctx: ctx}
	}

	switch opts.Compression {
	case CompressionZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		if err := persistence.Write(enc, snap); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()

	case CompressionLZ4:
		enc := lz4.NewWriter(w)
		if err := persistence.Write(enc, snap); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()

	case CompressionNone:
		return persistence.Write(w, snap)

	default:
		return fmt.Errorf("unknown compression codec: %d", opts.Compression)
	}
}

func readBackupStream(ctx context.Context, r io.Reader, opts *BackupOptions) (*persistence.Snapshot, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}

	if opts.RateLimitBytesPerSec > 0 {
		limiter := rate.NewLimiter(rate.Limit(opts.RateLimitBytesPerSec), opts.RateLimitBytesPerSec)
		r = &rateLimitedReader{r: r, limiter: limiter, ctx: ctx}
	}

	switch Compression(tag[0]) {
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return persistence.Read(dec)

	case CompressionLZ4:
		return persistence.Read(lz4.NewReader(r))

	case CompressionNone:
		return persistence.Read(r)

	default:
		return nil, fmt.Errorf("unknown compression codec in backup stream: %d", tag[0])
	}
}

// rateLimitedWriter throttles writes through a token bucket.
type rateLimitedWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

func (w *rateLimitedWriter) Write(p []byte) (int, error) {
	if err := waitN(w.ctx, w.limiter, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}

// rateLimitedReader throttles reads through a token bucket.
type rateLimitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	if err := waitN(r.ctx, r.limiter, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// waitN reserves n tokens, splitting requests larger than the bucket.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
