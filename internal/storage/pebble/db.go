package pebblestore

import (
	"context"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
)

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways requests a WAL fsync on each committed batch/write.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble coalesce WAL syncs for operations that
	// land within the configured interval (group commit).
	FsyncModeInterval
	// FsyncModeNever leaves WAL syncing entirely to Pebble's own policies.
	FsyncModeNever
)

// defaultGroupCommitWindow is used for FsyncModeInterval and the
// unspecified mode.
const defaultGroupCommitWindow = 5 * time.Millisecond

// Options configures the Pebble store wrapper.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Fsync determines when to sync the WAL.
	Fsync FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
	// Metrics allows observing read/commit latencies and sizes. Optional.
	Metrics MetricsHook
}

// MetricsHook is a minimal hook surface for storage observations.
type MetricsHook interface {
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, bytes int)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveRead(time.Duration, int)        {}
func (NoopMetrics) ObserveBatchCommit(time.Duration, int) {}

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = pebble.ErrNotFound

// DB wraps a Pebble database instance with fsync policy and basic helpers.
type DB struct {
	inner     *pebble.DB
	writeSync bool
	metrics   MetricsHook
}

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	popts := &pebble.Options{}
	if window := groupCommitWindow(opts); window > 0 {
		popts.WALMinSyncInterval = func() time.Duration { return window }
	}

	inner, err := pebble.Open(opts.DataDir, popts)
	if err != nil {
		return nil, err
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	return &DB{
		inner:     inner,
		writeSync: opts.Fsync == FsyncModeAlways,
		metrics:   metrics,
	}, nil
}

// groupCommitWindow resolves the WAL sync coalescing window for the mode;
// zero means no window (always and never modes).
func groupCommitWindow(opts Options) time.Duration {
	switch opts.Fsync {
	case FsyncModeInterval:
		if opts.FsyncInterval > 0 {
			return opts.FsyncInterval
		}
		return defaultGroupCommitWindow
	case FsyncModeAlways, FsyncModeNever:
		return 0
	default:
		return defaultGroupCommitWindow
	}
}

// Close closes the Pebble database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// NewBatch creates a new batch for atomic multi-key updates.
func (db *DB) NewBatch() *pebble.Batch {
	return db.inner.NewBatch()
}

// CommitBatch commits the provided batch with the configured fsync policy.
func (db *DB) CommitBatch(ctx context.Context, b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebble: nil batch")
	}
	start := time.Now()
	size := b.Len()
	defer func() { db.metrics.ObserveBatchCommit(time.Since(start), size) }()

	if db.writeSync {
		return b.Commit(pebble.Sync)
	}
	return b.Commit(pebble.NoSync)
}

// commitOne runs a single mutation inside its own committed batch.
func (db *DB) commitOne(ctx context.Context, mutate func(*pebble.Batch) error) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := mutate(b); err != nil {
		return err
	}
	return db.CommitBatch(ctx, b)
}

// Set sets a key to a value, respecting the fsync policy.
func (db *DB) Set(key, value []byte) error {
	return db.commitOne(context.Background(), func(b *pebble.Batch) error {
		return b.Set(key, value, nil)
	})
}

// Delete removes a key, respecting the fsync policy.
func (db *DB) Delete(key []byte) error {
	return db.commitOne(context.Background(), func(b *pebble.Batch) error {
		return b.Delete(key, nil)
	})
}

// DeleteRange removes all keys in [start, end) in one committed batch.
func (db *DB) DeleteRange(ctx context.Context, start, end []byte) error {
	return db.commitOne(ctx, func(b *pebble.Batch) error {
		return b.DeleteRange(start, end, nil)
	})
}

// Get copies the value for the given key. Returns ErrNotFound for missing
// keys.
func (db *DB) Get(key []byte) ([]byte, error) {
	start := time.Now()
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	buf := append([]byte(nil), val...)
	if cerr := closer.Close(); cerr != nil {
		return nil, cerr
	}
	db.metrics.ObserveRead(time.Since(start), len(buf))
	return buf, nil
}

// NewIter creates a raw Pebble iterator with the provided options.
func (db *DB) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return db.inner.NewIter(opts)
}
