package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/omerix/offline-sync/internal/connectivity"
	"github.com/omerix/offline-sync/internal/opqueue"
	"github.com/omerix/offline-sync/internal/scheduler"
	"github.com/omerix/offline-sync/internal/security"
	"github.com/omerix/offline-sync/internal/syncer"
)

// SessionStore holds the bearer token used to replay queued writes.
type SessionStore interface {
	Token(ctx context.Context) (string, error)
	Set(token string) error
	Clear() error
	Info() security.SessionInfo
}

// Deps are the components the local API exposes.
type Deps struct {
	Queue     *opqueue.Queue
	Manager   *syncer.Manager
	Writer    *syncer.Writer
	Monitor   *connectivity.Monitor
	Session   SessionStore
	Hub       *Hub
	Scheduler *scheduler.Scheduler // optional; its routes answer 503 without it

	// Metrics serves GET /metrics; nil disables the route.
	Metrics http.Handler
	// Instrument wraps the whole handler, typically metrics.Collector.Middleware.
	Instrument func(http.Handler) http.Handler

	// Secret signs local API tokens; nil disables authentication.
	Secret  []byte
	Version string
	Logger  *slog.Logger
}

// Server is the local HTTP API of the sync daemon
type Server struct {
	port       int
	deps       Deps
	logger     *slog.Logger
	startedAt  time.Time
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(port int, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	return &Server{
		port:      port,
		deps:      deps,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Handler builds the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/status", s.handleStatus)
	protected.HandleFunc("GET /api/queue", s.handleQueueList)
	protected.HandleFunc("POST /api/queue", s.handleQueueAdd)
	protected.HandleFunc("DELETE /api/queue/{id}", s.handleQueueRemove)
	protected.HandleFunc("POST /api/queue/{id}/requeue", s.handleQueueRequeue)
	protected.HandleFunc("POST /api/writes", s.handleWrite)
	protected.HandleFunc("POST /api/sync", s.handleSync)
	protected.HandleFunc("PUT /api/session/token", s.handleTokenSet)
	protected.HandleFunc("DELETE /api/session/token", s.handleTokenClear)
	protected.HandleFunc("POST /api/connectivity", s.handleConnectivity)
	protected.HandleFunc("GET /api/scheduler/status", s.handleSchedulerStatus)
	protected.HandleFunc("GET /api/scheduler/jobs", s.handleSchedulerListJobs)
	protected.HandleFunc("GET /api/scheduler/jobs/{id}", s.handleSchedulerGetJob)
	protected.HandleFunc("PATCH /api/scheduler/jobs/{id}", s.handleSchedulerUpdateJob)
	protected.HandleFunc("POST /api/scheduler/jobs/{id}/run", s.handleSchedulerRunJob)
	if s.deps.Metrics != nil {
		protected.Handle("GET /metrics", s.deps.Metrics)
	}

	auth := security.AuthMiddleware(s.deps.Secret)
	perm := security.RequirePermission()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.Handle("/", auth(perm(protected)))

	var h http.Handler = s.loggingMiddleware(mux)
	if s.deps.Instrument != nil {
		h = s.deps.Instrument(h)
	}
	return s.corsMiddleware(h)
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.deps.Version})
}

// handleStatus reports connectivity, queue and session state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	st := Status{
		Version:       s.deps.Version,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Online:        true,
		Queue:         stats,
		Pending:       stats.Live(),
	}
	if s.deps.Monitor != nil {
		st.Online = s.deps.Monitor.Online()
		st.Connectivity = s.deps.Monitor.Last()
	}
	if s.deps.Manager != nil {
		if res, ok := s.deps.Manager.Synchronizer().LastResult(); ok {
			st.LastFlush = &res
		}
	}
	if s.deps.Session != nil {
		st.Session = s.deps.Session.Info()
	}
	writeJSON(w, http.StatusOK, st)
}

// sessionToken returns the stored token; an expired one counts as signed out.
func (s *Server) sessionToken(ctx context.Context) string {
	if s.deps.Session == nil {
		return ""
	}
	token, err := s.deps.Session.Token(ctx)
	if err != nil {
		s.logger.Debug("session token unavailable", "error", err)
		return ""
	}
	return token
}
