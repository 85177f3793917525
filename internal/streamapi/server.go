// Package streamapi exposes the job coordinator over HTTP. Job events are
// streamed as Server-Sent Events with the event sequence number as the SSE
// id, so a client that reconnects with Last-Event-ID resumes where it left
// off.
package streamapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dusk-indust/testgen/internal/orchestrator"
)

// DefaultHeartbeat is how often an idle event stream gets a keep-alive
// comment.
const DefaultHeartbeat = 15 * time.Second

// Server serves the job API for one coordinator.
type Server struct {
	coord     *orchestrator.Coordinator
	heartbeat time.Duration
	jobOpts   []orchestrator.JobOption

	http *http.Server
	addr net.Addr
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHeartbeat sets the keep-alive interval of event streams. Zero or
// negative disables keep-alives.
func WithHeartbeat(d time.Duration) ServerOption {
	return func(s *Server) { s.heartbeat = d }
}

// WithJobOptions applies opts to every job created through the API, e.g. an
// orchestrator.WithSubscriber that mirrors events elsewhere.
func WithJobOptions(opts ...orchestrator.JobOption) ServerOption {
	return func(s *Server) { s.jobOpts = append(s.jobOpts, opts...) }
}

// NewServer creates a Server for coord.
func NewServer(coord *orchestrator.Coordinator, opts ...ServerOption) *Server {
	s := &Server{coord: coord, heartbeat: DefaultHeartbeat}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", s.handleCreate)
	mux.HandleFunc("GET /jobs", s.handleList)
	mux.HandleFunc("GET /jobs/{id}", s.handleGet)
	mux.HandleFunc("POST /jobs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /jobs/{id}/events", s.handleEvents)
	return mux
}

// Start binds addr and serves h in a background goroutine. Bind errors are
// returned synchronously.
func (s *Server) Start(ctx context.Context, addr string, h http.Handler) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("streamapi: listen %s: %w", addr, err)
	}
	s.addr = ln.Addr()
	s.http = &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("streamapi: serve %s: %v", s.addr, err)
		}
	}()
	return nil
}

// Addr is the bound address once Start has returned.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Stop gracefully shuts down the HTTP server. Open event streams end when
// ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var cfg orchestrator.JobConfig
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode job config: %w", err))
		return
	}

	// The job outlives the request that created it.
	h, err := s.coord.CreateJob(context.WithoutCancel(r.Context()), cfg, s.jobOpts...)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Location", "/jobs/"+h.JobID())
	writeJSON(w, http.StatusCreated, h.Info())
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Jobs())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	info, err := s.coord.Job(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.coord.Cancel(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	info, err := s.coord.Job(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, info)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	from, err := resumeFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h, err := s.coord.Attach(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer h.Dispose()

	ctx := r.Context()
	events := make(chan orchestrator.Event)
	sub := h.Subscribe(from, func(ev orchestrator.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})

	sw := NewSSEWriter(w)
	sw.Init()

	var tick <-chan time.Time
	if s.heartbeat > 0 {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case ev := <-events:
			if err := sw.WriteEvent(ev); err != nil {
				log.Printf("streamapi: job %s: %v", h.JobID(), err)
				return
			}
			if ev.IsTerminal() {
				return
			}
		case <-sub.Done():
			return
		case <-tick:
			if err := sw.Comment("keep-alive"); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// resumeFrom returns the first sequence number the client wants. The
// Last-Event-ID header wins over the from query parameter.
func resumeFrom(r *http.Request) (uint64, error) {
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		n, err := strconv.ParseUint(last, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid Last-Event-ID %q", last)
		}
		return n + 1, nil
	}
	if q := r.URL.Query().Get("from"); q != "" {
		n, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid from %q", q)
		}
		return max(n, 1), nil
	}
	return 1, nil
}

func statusFor(err error) int {
	var cfgErr *orchestrator.ConfigurationError
	switch {
	case errors.Is(err, orchestrator.ErrJobNotFound):
		return http.StatusNotFound
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error()}
	var cfgErr *orchestrator.ConfigurationError
	if errors.As(err, &cfgErr) {
		body.Field = cfgErr.Field
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("streamapi: write response: %v", err)
	}
}
