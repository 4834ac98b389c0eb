package synctrigger

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/zizaeric/workbox/pkg/log"
)

// ErrClosed is returned by Register after the watcher has been stopped.
var ErrClosed = errors.New("synctrigger: watcher closed")

// ProbeFunc reports whether the network is currently reachable.
type ProbeFunc func(ctx context.Context) bool

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// ProbeURL is requested with HEAD to detect connectivity. Ignored when
	// Probe is set.
	ProbeURL string
	// Interval between probes. Defaults to 30s.
	Interval time.Duration
	// Probe overrides the HTTP probe. Used by tests and embedded hosts.
	Probe ProbeFunc
	// Logger for watcher events. Defaults to a silent logger.
	Logger log.Logger
}

// Watcher is a connectivity-polling Trigger. Tags registered while offline
// are parked and fired once on the offline-to-online edge; tags registered
// while online fire on the next tick.
type Watcher struct {
	probe    ProbeFunc
	interval time.Duration
	logger   log.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]bool
	online   bool
	closed   bool
	stop     chan struct{}
}

// NewWatcher builds a Watcher; call Start to begin probing.
func NewWatcher(opts WatcherOptions) *Watcher {
	probe := opts.Probe
	if probe == nil {
		url := opts.ProbeURL
		client := &http.Client{Timeout: 5 * time.Second}
		probe = func(ctx context.Context) bool {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
			if err != nil {
				return false
			}
			resp, err := client.Do(req)
			if err != nil {
				return false
			}
			resp.Body.Close()
			return true
		}
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.ErrorLevel))
	}
	return &Watcher{
		probe:    probe,
		interval: interval,
		logger:   logger.WithComponent("synctrigger"),
		handlers: map[string]Handler{},
		pending:  map[string]bool{},
	}
}

// Register implements Trigger. The tag stays parked until a tick that finds
// the network online delivers it to a subscribed handler.
func (w *Watcher) Register(_ context.Context, tag string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.pending[tag] = true
	return nil
}

// Subscribe implements Trigger.
func (w *Watcher) Subscribe(tag string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[tag] = h
}

// Start launches the probe loop. Safe to call once.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.stop != nil || w.closed {
		w.mu.Unlock()
		return
	}
	w.stop = make(chan struct{})
	stop := w.stop
	w.mu.Unlock()

	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				w.Tick(ctx)
			}
		}
	}()
}

// Stop halts the probe loop and fails future registrations.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
}

// Tick runs one probe-and-dispatch round. Exposed so tests and one-shot
// drains can drive the watcher without the timer.
func (w *Watcher) Tick(ctx context.Context) {
	online := w.probe(ctx)

	w.mu.Lock()
	wasOnline := w.online
	w.online = online
	var fire []string
	if online {
		for tag := range w.pending {
			if w.handlers[tag] != nil {
				fire = append(fire, tag)
			}
		}
	}
	handlers := make(map[string]Handler, len(fire))
	for _, tag := range fire {
		handlers[tag] = w.handlers[tag]
	}
	w.mu.Unlock()

	if online && !wasOnline {
		w.logger.Info("connectivity restored", log.Int("pending", len(fire)))
	}
	if !online && wasOnline {
		w.logger.Info("connectivity lost")
	}

	for _, tag := range fire {
		err := handlers[tag](ctx, Event{Tag: tag})
		w.mu.Lock()
		if err != nil {
			// keep the tag parked; the next online tick retries it
			w.logger.Debug("sync handler failed, tag kept pending",
				log.Str("tag", tag), log.Err(err))
		} else {
			delete(w.pending, tag)
		}
		w.mu.Unlock()
	}
}
