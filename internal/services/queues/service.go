package queuesvc

import (
	"context"
	"fmt"

	"github.com/zizaeric/workbox/internal/queuestore"
	"github.com/zizaeric/workbox/internal/runtime"
	"github.com/zizaeric/workbox/pkg/log"
)

// Service exposes admin operations over the runtime's queues and store.
type Service struct {
	rt     *runtime.Runtime
	logger log.Logger
}

// New builds a Service with a silent logger.
func New(rt *runtime.Runtime) *Service {
	return NewWithLogger(rt, log.NewLogger(log.WithLevel(log.ErrorLevel)))
}

// NewWithLogger builds a Service using the provided logger.
func NewWithLogger(rt *runtime.Runtime, logger log.Logger) *Service {
	return &Service{rt: rt, logger: logger.WithComponent("queuesvc")}
}

// List returns every known queue with its stored entry count.
func (s *Service) List(ctx context.Context) ([]QueueInfo, error) {
	names, err := s.rt.QueueNames(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]QueueInfo, 0, len(names))
	for _, name := range names {
		n, err := s.rt.Store().Count(ctx, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, QueueInfo{Name: name, Entries: n})
	}
	return infos, nil
}

// Stats returns every known queue with its entry count and the enqueue
// timestamps of its head and tail entries.
func (s *Service) Stats(ctx context.Context) ([]QueueStats, error) {
	names, err := s.rt.QueueNames(ctx)
	if err != nil {
		return nil, err
	}
	stats := make([]QueueStats, 0, len(names))
	for _, name := range names {
		n, err := s.rt.Store().Count(ctx, name)
		if err != nil {
			return nil, err
		}
		st := QueueStats{Name: name, Entries: n}
		if head, err := s.rt.Store().GetFirst(ctx, name); err != nil {
			return nil, err
		} else if head != nil {
			st.HeadTimestampMs = head.TimestampMs
		}
		if tail, err := s.rt.Store().GetLast(ctx, name); err != nil {
			return nil, err
		} else if tail != nil {
			st.TailTimestampMs = tail.TimestampMs
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// Entries returns one queue's entries in FIFO order, optionally filtered by
// a CEL expression over id/queue/url/method/ts_ms/age_ms/body_bytes/metadata.
func (s *Service) Entries(ctx context.Context, queueName, filterExpr string) ([]EntryView, error) {
	filter, err := newCELFilter(filterExpr)
	if err != nil {
		return nil, fmt.Errorf("queuesvc: bad filter: %w", err)
	}
	entries, err := s.rt.Store().GetAll(ctx, queueName)
	if err != nil {
		return nil, err
	}
	views := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		if !filter.Eval(e) {
			continue
		}
		views = append(views, viewOf(e))
	}
	return views, nil
}

// Drain opens (or reuses) the named queue and replays it once.
func (s *Service) Drain(ctx context.Context, queueName string) error {
	q, err := s.rt.EnsureQueue(queueName)
	if err != nil {
		return err
	}
	s.logger.Info("drain requested", log.Str("queue", queueName))
	return q.ReplayRequests(ctx)
}

// DrainAll replays every queue that has stored entries, continuing past
// per-queue failures and reporting the first one.
func (s *Service) DrainAll(ctx context.Context) error {
	names, err := s.rt.QueueNames(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, name := range names {
		if err := s.Drain(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeleteEntry removes one entry by id. Reports whether it existed.
func (s *Service) DeleteEntry(ctx context.Context, id int64) (bool, error) {
	return s.rt.Store().DeleteByID(ctx, id)
}

func viewOf(e *queuestore.Entry) EntryView {
	v := EntryView{
		ID:          e.ID,
		QueueName:   e.QueueName,
		TimestampMs: e.TimestampMs,
		Metadata:    e.Metadata,
	}
	if e.Request != nil {
		v.URL = e.Request.URL
		v.Method = e.Request.Method
		v.BodyBytes = len(e.Request.Body)
	}
	return v
}
