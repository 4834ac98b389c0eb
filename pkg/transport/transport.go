package transport

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/zizaeric/workbox/internal/queue"
	"github.com/zizaeric/workbox/internal/request"
	"github.com/zizaeric/workbox/pkg/log"
)

// CaptureIDKey is the metadata key under which each queued request's
// capture id is stored.
const CaptureIDKey = "captureId"

// QueuedHeader names the response header carrying the capture id of a
// queued request.
const QueuedHeader = "X-Workbox-Queued"

// Options configures a Transport.
type Options struct {
	// Base performs the actual network round trip. Defaults to
	// http.DefaultTransport.
	Base http.RoundTripper
	// ConsecutiveFailures opens the breaker once reached. Defaults to 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	// Defaults to 30s.
	OpenTimeout time.Duration
	// RetryAfterSeconds is advertised on synthesized 503 responses.
	// Defaults to 60.
	RetryAfterSeconds int
	// Logger for queue-on-failure events.
	Logger log.Logger
}

// Transport queues requests that fail at the transport level.
type Transport struct {
	base       http.RoundTripper
	q          *queue.Queue
	breaker    *gobreaker.CircuitBreaker
	retryAfter int
	logger     log.Logger
}

// New wraps the queue in a RoundTripper. The transport owns no queue
// lifecycle; callers construct and keep the queue.
func New(q *queue.Queue, opts Options) *Transport {
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}
	failures := opts.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	openTimeout := opts.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	retryAfter := opts.RetryAfterSeconds
	if retryAfter <= 0 {
		retryAfter = 60
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.ErrorLevel))
	}
	return &Transport{
		base: base,
		q:    q,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "workbox:" + q.Name(),
			Timeout: openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
		}),
		retryAfter: retryAfter,
		logger:     logger.WithComponent("transport").With(log.Str("queue", q.Name())),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Buffer the one-shot body before the network attempt so a failed
	// request can still be serialized.
	data, err := request.Capture(req)
	if err != nil {
		return nil, err
	}

	result, err := t.breaker.Execute(func() (interface{}, error) {
		return t.base.RoundTrip(req)
	})
	if err == nil {
		return result.(*http.Response), nil
	}

	captureID := uuid.NewString()
	entryReq, rerr := data.Rebuild(req.Context())
	if rerr != nil {
		return nil, rerr
	}
	perr := t.q.PushRequest(req.Context(), &queue.Entry{
		Request:  entryReq,
		Metadata: map[string]string{CaptureIDKey: captureID},
	})
	if perr != nil {
		// queueing failed too; surface the original network error
		t.logger.Error("queueing failed request failed", log.Err(perr))
		return nil, err
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		t.logger.Debug("breaker open, request queued without attempt",
			log.Str("url", data.URL), log.Str("capture_id", captureID))
	} else {
		t.logger.Info("network failure, request queued",
			log.Str("url", data.URL), log.Str("capture_id", captureID), log.Err(err))
	}
	return t.queuedResponse(req, captureID), nil
}

// queuedResponse synthesizes the 503 returned for a queued request.
func (t *Transport) queuedResponse(req *http.Request, captureID string) *http.Response {
	header := http.Header{}
	header.Set("Retry-After", strconv.Itoa(t.retryAfter))
	header.Set(QueuedHeader, captureID)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &http.Response{
		Status:     "503 Service Unavailable",
		StatusCode: http.StatusServiceUnavailable,
		Proto:      req.Proto,
		ProtoMajor: req.ProtoMajor,
		ProtoMinor: req.ProtoMinor,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader("request queued for background replay\n")),
		Request:    req,
	}
}
