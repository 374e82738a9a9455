// Package httpapi serves the orchestrator over HTTP: run lifecycle, the
// pending action queue, a live trace websocket and Prometheus metrics.
package httpapi

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rendis/socialflow/internal/engine"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 4 << 20

// Deps holds the dependencies of the HTTP server.
type Deps struct {
	Orchestrator *engine.Orchestrator
	// NodeTypes lists the registered node types for GET /nodes.
	NodeTypes func() []string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server is the HTTP transport of the orchestrator.
type Server struct {
	deps     Deps
	upgrader websocket.Upgrader
	// pingInterval keeps idle trace sockets alive through proxies.
	pingInterval time.Duration
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pingInterval: 30 * time.Second,
	}
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Runs.
	mux.HandleFunc("POST /runs", s.handleStartRun)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /runs/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /runs/{id}/action-result", s.handleRunActionResult)
	mux.HandleFunc("GET /runs/{id}/trace/ws", s.handleTraceWS)
	mux.HandleFunc("GET /runs/{id}/diagram", s.handleRunDiagram)

	// Actions.
	mux.HandleFunc("POST /actions", s.handleEnqueueAction)
	mux.HandleFunc("GET /actions/poll", s.handlePollAction)
	mux.HandleFunc("POST /actions/{requestId}/result", s.handleReportResult)
	mux.HandleFunc("GET /actions/{requestId}", s.handleGetActionResult)

	// Introspection.
	mux.HandleFunc("GET /nodes", s.handleListNodes)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	return s.logRequests(mux)
}

// logRequests logs every request at debug level with its status.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.deps.Logger.DebugContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the trace websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
