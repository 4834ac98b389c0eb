package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zizaeric/workbox/internal/queue"
	"github.com/zizaeric/workbox/internal/runtime"
	queuesvc "github.com/zizaeric/workbox/internal/services/queues"
	"github.com/zizaeric/workbox/pkg/log"
)

// Server is the admin HTTP server.
type Server struct {
	rt     *runtime.Runtime
	svc    *queuesvc.Service
	srv    *http.Server
	lis    net.Listener
	logger log.Logger
}

// New builds the server and its routes.
func New(rt *runtime.Runtime, svc *queuesvc.Service, logger log.Logger) *Server {
	s := &Server{rt: rt, svc: svc, logger: logger.WithComponent("http")}

	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Get("/v1/healthz", s.handleHealth)
	r.Get("/v1/queues", s.handleListQueues)
	r.Get("/v1/queues/stats", s.handleQueueStats)
	r.Route("/v1/queues/{name}", func(r chi.Router) {
		r.Get("/entries", s.handleListEntries)
		r.Delete("/entries/{id}", s.handleDeleteEntry)
		r.Post("/drain", s.handleDrain)
		r.Post("/push", s.handlePush)
	})
	r.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{Handler: r}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close shuts the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

// requestID stamps each response with a request id for log correlation.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	infos, err := s.svc.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": infos})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": stats})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	views, err := s.svc.Entries(r.Context(), name, r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	deleted, err := s.svc.DeleteEntry(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, errors.New("entry not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.svc.Drain(r.Context(), name); err != nil {
		if errors.Is(err, queue.ErrReplayFailed) {
			writeJSON(w, http.StatusBadGateway, map[string]string{"status": "halted", "error": err.Error()})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "drained"})
}

// pushBody is the JSON accepted by the push endpoint.
type pushBody struct {
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     string            `json:"body,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body pushBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url required"))
		return
	}
	if body.Method == "" {
		body.Method = http.MethodGet
	}
	q, err := s.rt.EnsureQueue(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	req, err := newPushRequest(r.Context(), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := q.PushRequest(r.Context(), &queue.Entry{Request: req, Metadata: body.Metadata}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func newPushRequest(ctx context.Context, body pushBody) (*http.Request, error) {
	var rd io.Reader
	if body.Body != "" {
		rd = strings.NewReader(body.Body)
	}
	req, err := http.NewRequestWithContext(ctx, body.Method, body.URL, rd)
	if err != nil {
		return nil, err
	}
	for k, v := range body.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
