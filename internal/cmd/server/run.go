package serverrun

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/zizaeric/workbox/internal/config"
	"github.com/zizaeric/workbox/internal/metrics"
	"github.com/zizaeric/workbox/internal/queue"
	"github.com/zizaeric/workbox/internal/runtime"
	httpserver "github.com/zizaeric/workbox/internal/server/http"
	queuesvc "github.com/zizaeric/workbox/internal/services/queues"
	pebblestore "github.com/zizaeric/workbox/internal/storage/pebble"
	logpkg "github.com/zizaeric/workbox/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type Options struct {
	DataDir       string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Run starts the daemon and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so callers that
	// don't pass a signal-aware context still shut down cleanly.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	if opts.HTTPAddr == "" {
		opts.HTTPAddr = opts.Config.HTTPAddr
	}

	cfg := &logpkg.Config{
		Level:  getenvDefault("WORKBOX_LOG_LEVEL", "info"),
		Format: getenvDefault("WORKBOX_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(cfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(cfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	m := metrics.New(nil)
	rt, err := runtime.Open(runtime.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
		Logger:        procLogger,
		Metrics:       m,
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.Start(sctx)

	procLogger.Info("Starting workbox server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Str("probe_url", opts.Config.ProbeURL),
		logpkg.Str("level", cfg.Level),
		logpkg.Str("format", cfg.Format),
	)

	// Open configured queues up front so their stored entries drain on the
	// first connectivity edge, not on the first push.
	for _, name := range opts.Config.Queues {
		if _, err := rt.OpenQueue(name, queue.Options{}); err != nil {
			procLogger.Warn("open queue failed", logpkg.Str("queue", name), logpkg.Err(err))
			continue
		}
		if q := rt.Queue(name); q != nil {
			q.RegisterSync(sctx)
		}
	}

	svc := queuesvc.NewWithLogger(rt, procLogger)
	hsrv := httpserver.New(rt, svc, procLogger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server error", logpkg.Err(err))
		}
	}()

	<-sctx.Done()
	hsrv.Close()
	wg.Wait()
	return nil
}
