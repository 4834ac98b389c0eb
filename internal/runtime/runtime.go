package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	cfgpkg "github.com/zizaeric/workbox/internal/config"
	"github.com/zizaeric/workbox/internal/metrics"
	"github.com/zizaeric/workbox/internal/queue"
	"github.com/zizaeric/workbox/internal/queuestore"
	pebblestore "github.com/zizaeric/workbox/internal/storage/pebble"
	"github.com/zizaeric/workbox/internal/synctrigger"
	"github.com/zizaeric/workbox/pkg/log"
)

// storeDirName is the on-disk database name; changing it orphans state
// written by older builds.
const storeDirName = "workbox-background-sync"

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        log.Logger
	// Metrics is optional; when nil, queue and storage activity is not
	// counted.
	Metrics *metrics.Metrics
	// Trigger overrides the connectivity watcher. Tests use this.
	Trigger synctrigger.Trigger
}

// Runtime owns the storage handle, the shared entry store, the sync trigger,
// and the open queues of a process.
type Runtime struct {
	db      *pebblestore.DB
	store   *queuestore.Store
	trigger synctrigger.Trigger
	watcher *synctrigger.Watcher
	config  cfgpkg.Config
	logger  log.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	queues map[string]*queue.Queue
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.ErrorLevel))
	}

	var storageHook pebblestore.MetricsHook
	if opts.Metrics != nil {
		storageHook = opts.Metrics
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       filepath.Join(opts.DataDir, storeDirName),
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Metrics:       storageHook,
	})
	if err != nil {
		return nil, err
	}
	store, err := queuestore.Open(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rt := &Runtime{
		db:      db,
		store:   store,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
		queues:  map[string]*queue.Queue{},
	}
	if opts.Trigger != nil {
		rt.trigger = opts.Trigger
	} else {
		rt.watcher = synctrigger.NewWatcher(synctrigger.WatcherOptions{
			ProbeURL: opts.Config.ProbeURL,
			Interval: time.Duration(opts.Config.ProbeIntervalSeconds) * time.Second,
			Logger:   logger,
		})
		rt.trigger = rt.watcher
	}
	return rt, nil
}

// Start launches the connectivity watcher (when the runtime owns one).
func (r *Runtime) Start(ctx context.Context) {
	if r.watcher != nil {
		r.watcher.Start(ctx)
	}
}

// Close stops the watcher and closes underlying resources.
func (r *Runtime) Close() error {
	if r.watcher != nil {
		r.watcher.Stop()
	}
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// OpenQueue constructs a queue bound to this runtime's store and trigger.
func (r *Runtime) OpenQueue(name string, opts queue.Options) (*queue.Queue, error) {
	if opts.Trigger == nil {
		opts.Trigger = r.trigger
	}
	if opts.Logger == nil {
		opts.Logger = r.logger
	}
	if opts.Metrics == nil && r.metrics != nil {
		opts.Metrics = r.metrics
	}
	if opts.MaxRetentionTime <= 0 && r.config.MaxRetentionMinutes > 0 {
		opts.MaxRetentionTime = time.Duration(r.config.MaxRetentionMinutes) * time.Minute
	}
	q, err := queue.New(name, r.store, opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.queues[name] = q
	r.mu.Unlock()
	return q, nil
}

// EnsureQueue returns the open queue with the name, opening it if needed.
func (r *Runtime) EnsureQueue(name string) (*queue.Queue, error) {
	r.mu.Lock()
	q := r.queues[name]
	r.mu.Unlock()
	if q != nil {
		return q, nil
	}
	return r.OpenQueue(name, queue.Options{})
}

// Queue returns the open queue with the name, or nil.
func (r *Runtime) Queue(name string) *queue.Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queues[name]
}

// QueueNames returns the names of open queues plus any queue with stored
// entries.
func (r *Runtime) QueueNames(ctx context.Context) ([]string, error) {
	stored, err := r.store.QueueNames(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, n := range stored {
		seen[n] = true
	}
	r.mu.Lock()
	for n := range r.queues {
		if !seen[n] {
			seen[n] = true
			stored = append(stored, n)
		}
	}
	r.mu.Unlock()
	return stored, nil
}

// Store exposes the shared entry store (internal use only).
func (r *Runtime) Store() *queuestore.Store { return r.store }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
