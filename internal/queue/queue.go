package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/zizaeric/workbox/internal/queuestore"
	"github.com/zizaeric/workbox/internal/request"
	"github.com/zizaeric/workbox/internal/synctrigger"
	"github.com/zizaeric/workbox/pkg/log"
)

// TagPrefix is prepended to the queue name to form its sync tag.
const TagPrefix = "workbox-background-sync:"

// DefaultMaxRetentionTime is how long an entry stays replayable.
const DefaultMaxRetentionTime = 7 * 24 * time.Hour

var (
	// ErrDuplicateQueueName reports a queue name already claimed in this
	// process.
	ErrDuplicateQueueName = errors.New("queue: duplicate queue name")
	// ErrEntryRequired reports a nil entry argument.
	ErrEntryRequired = errors.New("queue: entry required")
	// ErrRequestRequired reports an entry without a request.
	ErrRequestRequired = errors.New("queue: entry request required")
	// ErrReplayFailed reports a replay drain halted by a failed fetch. The
	// failed entry and everything behind it remain stored.
	ErrReplayFailed = errors.New("queue: replay failed")
)

// Fetcher issues a replayed request. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// MetricsHook counts queue activity. All methods must be safe for
// concurrent use.
type MetricsHook interface {
	IncEnqueued(queue string)
	IncReplayed(queue string)
	IncReplayFailed(queue string)
	IncExpired(queue string)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) IncEnqueued(string)     {}
func (NoopMetrics) IncReplayed(string)     {}
func (NoopMetrics) IncReplayFailed(string) {}
func (NoopMetrics) IncExpired(string)      {}

// OnSync is invoked when the queue's sync tag fires.
type OnSync func(ctx context.Context, q *Queue) error

// Options configures a Queue.
type Options struct {
	// OnSync handles sync events. Defaults to Queue.ReplayRequests.
	OnSync OnSync
	// MaxRetentionTime bounds entry age; older entries are dropped on read.
	// Defaults to 7 days.
	MaxRetentionTime time.Duration
	// Trigger is the host background-sync facility. When nil the queue
	// replays once at construction instead (cold-start fallback).
	Trigger synctrigger.Trigger
	// Fetcher issues replayed requests. Defaults to http.DefaultClient.
	Fetcher Fetcher
	// Logger for queue events.
	Logger log.Logger
	// Metrics counts queue activity.
	Metrics MetricsHook
	// NowMs overrides the clock, in milliseconds since epoch. Tests only.
	NowMs func() int64
}

// Entry is an element handed to or returned from the queue.
type Entry struct {
	// Request is the live request. Required on push; rebuilt on shift/pop.
	Request *http.Request
	// TimestampMs is the enqueue time. Zero means now on push.
	TimestampMs int64
	// Metadata is preserved verbatim alongside the entry.
	Metadata map[string]string
}

// Queue is a durable FIFO of failed requests identified by a unique name.
type Queue struct {
	name    string
	tag     string
	store   *queuestore.Store
	onSync  OnSync
	maxAge  time.Duration
	trigger synctrigger.Trigger
	fetcher Fetcher
	logger  log.Logger
	metrics MetricsHook
	nowMs   func() int64

	// replayMu serializes replay drivers; ReplayRequests is not re-entrant.
	replayMu sync.Mutex
}

// New constructs a Queue and claims its name process-wide.
//
// With a trigger, the queue subscribes its sync tag and replays when the tag
// fires. Without one, the only replay opportunity is process start, so
// OnSync runs once before New returns; its error is logged, not returned.
func New(name string, store *queuestore.Store, opts Options) (*Queue, error) {
	if name == "" {
		return nil, errors.New("queue: name required")
	}
	if store == nil {
		return nil, errors.New("queue: store required")
	}
	if !claimName(name) {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateQueueName, name)
	}

	q := &Queue{
		name:    name,
		tag:     TagPrefix + name,
		store:   store,
		onSync:  opts.OnSync,
		maxAge:  opts.MaxRetentionTime,
		trigger: opts.Trigger,
		fetcher: opts.Fetcher,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		nowMs:   opts.NowMs,
	}
	if q.onSync == nil {
		q.onSync = func(ctx context.Context, q *Queue) error { return q.ReplayRequests(ctx) }
	}
	if q.maxAge <= 0 {
		q.maxAge = DefaultMaxRetentionTime
	}
	if q.fetcher == nil {
		q.fetcher = http.DefaultClient
	}
	if q.logger == nil {
		q.logger = log.NewLogger(log.WithLevel(log.ErrorLevel))
	}
	q.logger = q.logger.With(log.Component("queue"), log.Str("queue", name))
	if q.metrics == nil {
		q.metrics = NoopMetrics{}
	}
	if q.nowMs == nil {
		q.nowMs = func() int64 { return time.Now().UnixMilli() }
	}

	if q.trigger != nil {
		q.trigger.Subscribe(q.tag, func(ctx context.Context, _ synctrigger.Event) error {
			return q.onSync(ctx, q)
		})
	} else {
		if err := q.onSync(context.Background(), q); err != nil {
			q.logger.Warn("cold-start replay failed", log.Err(err))
		}
	}
	return q, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Tag returns the queue's sync tag.
func (q *Queue) Tag() string { return q.tag }

// PushRequest serializes the entry's request and appends it to the queue,
// then registers for a sync callback.
func (q *Queue) PushRequest(ctx context.Context, e *Entry) error {
	return q.add(ctx, e, false)
}

// UnshiftRequest serializes the entry's request and prepends it to the
// queue, then registers for a sync callback.
func (q *Queue) UnshiftRequest(ctx context.Context, e *Entry) error {
	return q.add(ctx, e, true)
}

func (q *Queue) add(ctx context.Context, e *Entry, front bool) error {
	if e == nil {
		return ErrEntryRequired
	}
	if e.Request == nil {
		return ErrRequestRequired
	}
	data, err := request.Capture(e.Request)
	if err != nil {
		return fmt.Errorf("queue %q: capture request: %w", q.name, err)
	}
	ts := e.TimestampMs
	if ts == 0 {
		ts = q.nowMs()
	}
	stored := &queuestore.Entry{
		QueueName:   q.name,
		Request:     data,
		TimestampMs: ts,
		Metadata:    e.Metadata,
	}
	if front {
		_, err = q.store.AddFirst(ctx, stored)
	} else {
		_, err = q.store.AddLast(ctx, stored)
	}
	if err != nil {
		return fmt.Errorf("queue %q: %w", q.name, err)
	}
	q.metrics.IncEnqueued(q.name)
	q.logger.Debug("request queued",
		log.Str("url", data.URL), log.Str("method", data.Method), log.Bool("front", front))
	q.RegisterSync(ctx)
	return nil
}

// ShiftRequest returns and removes the oldest entry, or nil when the queue
// is empty. Entries past the retention window are dropped, not returned.
func (q *Queue) ShiftRequest(ctx context.Context) (*Entry, error) {
	return q.take(ctx, q.store.PopFirst)
}

// PopRequest returns and removes the newest entry, or nil when the queue is
// empty. Entries past the retention window are dropped, not returned.
func (q *Queue) PopRequest(ctx context.Context) (*Entry, error) {
	return q.take(ctx, q.store.PopLast)
}

func (q *Queue) take(ctx context.Context, pop func(context.Context, string) (*queuestore.Entry, error)) (*Entry, error) {
	for {
		stored, err := pop(ctx, q.name)
		if err != nil {
			return nil, fmt.Errorf("queue %q: %w", q.name, err)
		}
		if stored == nil {
			return nil, nil
		}
		if q.expired(stored) {
			q.dropExpired(stored)
			continue
		}
		req, err := stored.Request.Rebuild(ctx)
		if err != nil {
			return nil, fmt.Errorf("queue %q: rebuild request: %w", q.name, err)
		}
		return &Entry{Request: req, TimestampMs: stored.TimestampMs, Metadata: stored.Metadata}, nil
	}
}

// ReplayRequests drains the queue head-to-tail, re-issuing each stored
// request. A response of any status counts as delivered; only transport
// errors fail. On failure the entry is re-inserted at the head with its
// original timestamp and metadata and the drain stops with ErrReplayFailed.
func (q *Queue) ReplayRequests(ctx context.Context) error {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()

	replayed := 0
	for {
		stored, err := q.store.PopFirst(ctx, q.name)
		if err != nil {
			return fmt.Errorf("queue %q: %w", q.name, err)
		}
		if stored == nil {
			break
		}
		if q.expired(stored) {
			q.dropExpired(stored)
			continue
		}
		req, err := stored.Request.Rebuild(ctx)
		if err != nil {
			return fmt.Errorf("queue %q: rebuild request: %w", q.name, err)
		}
		resp, err := q.fetcher.Do(req)
		if err != nil {
			q.metrics.IncReplayFailed(q.name)
			readd := &queuestore.Entry{
				QueueName:   q.name,
				Request:     stored.Request,
				TimestampMs: stored.TimestampMs,
				Metadata:    stored.Metadata,
			}
			if _, aerr := q.store.AddFirst(ctx, readd); aerr != nil {
				return fmt.Errorf("queue %q: re-enqueue after failed replay: %w", q.name, aerr)
			}
			q.logger.Warn("replay halted",
				log.Str("url", stored.Request.URL), log.Int("replayed", replayed), log.Err(err))
			return fmt.Errorf("%w: %s %s: %v", ErrReplayFailed, stored.Request.Method, stored.Request.URL, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		q.metrics.IncReplayed(q.name)
		replayed++
	}
	q.logger.Info("replay complete", log.Int("replayed", replayed))
	return nil
}

// RegisterSync asks the trigger for a callback on the queue's tag.
// Registration failure is expected on some hosts and is swallowed; the
// entries stay durable and drain on the next sync event or cold start.
func (q *Queue) RegisterSync(ctx context.Context) {
	if q.trigger == nil {
		return
	}
	if err := q.trigger.Register(ctx, q.tag); err != nil {
		q.logger.Debug("sync registration failed", log.Err(err))
	}
}

func (q *Queue) expired(e *queuestore.Entry) bool {
	return q.nowMs()-e.TimestampMs > q.maxAge.Milliseconds()
}

func (q *Queue) dropExpired(e *queuestore.Entry) {
	q.metrics.IncExpired(q.name)
	q.logger.Debug("entry expired", log.Str("url", e.Request.URL), log.Int64("ts_ms", e.TimestampMs))
}
