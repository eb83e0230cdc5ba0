// Package http provides the HTTP API in front of the session registry.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/roelfdiedericks/wabridge/internal/automation"
	. "github.com/roelfdiedericks/wabridge/internal/logging"
	"github.com/roelfdiedericks/wabridge/internal/sessions"
)

// Registry is the part of *sessions.Registry the API uses.
type Registry interface {
	Create(ctx context.Context, p sessions.CreateParams) (string, error)
	Get(id string) (*sessions.Session, error)
	List() []sessions.Info
	Destroy(ctx context.Context, id string) (sessions.DestroyResult, error)
	SendMessage(ctx context.Context, id string, req automation.Request) error
}

// Server represents the HTTP server
type Server struct {
	server      *http.Server
	registry    Registry
	apiKeys     []string
	authOff     bool
	rateLimiter *RateLimiter
	sendLimiter *rate.Limiter
	sendLocks   *keyedMutex
	gatherer    prometheus.Gatherer
	wg          sync.WaitGroup
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Listen       string // Address to listen on (e.g., ":8080", "127.0.0.1:8080")
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	APIKeys      []string // bcrypt hashes or, for development, plaintext keys
	AuthDisabled bool
	SendRate     float64 // sends per second across all sessions; 0 = unlimited
	SendBurst    int
	Gatherer     prometheus.Gatherer // nil = prometheus.DefaultGatherer
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *ServerConfig, registry Registry) (*Server, error) {
	if len(cfg.APIKeys) == 0 && !cfg.AuthDisabled {
		return nil, errors.New("http: at least one API key is required (use 'wabridge hash-key'), or set auth.disabled")
	}
	if cfg.AuthDisabled {
		L_warn("http: API key authentication is disabled")
	}

	addr := cfg.Listen
	if addr == "" {
		addr = ":8080"
	}

	limit, burst := rate.Inf, cfg.SendBurst
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
	}
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		registry:    registry,
		apiKeys:     cfg.APIKeys,
		authOff:     cfg.AuthDisabled,
		rateLimiter: NewRateLimiter(10 * time.Second),
		sendLimiter: rate.NewLimiter(limit, burst),
		sendLocks:   newKeyedMutex(),
		gatherer:    cfg.Gatherer,
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  durationOr(cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: durationOr(cfg.WriteTimeout, 180*time.Second),
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	// Apply middleware chain: logging -> strip headers -> auth
	r.Use(s.logRequest, s.stripHeaders)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.apiKeyAuth)
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		r.Route("/api/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreate)
			r.Get("/", s.handleList)
			r.Get("/{id}", s.handleGet)
			r.Delete("/{id}", s.handleDestroy)
			r.Post("/{id}/messages", s.handleSend)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Kind: "not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Kind: "method_not_allowed"})
	})
	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	ln, err := listen(s.server.Addr)
	if err != nil {
		return fmt.Errorf("http: listen %s: %w", s.server.Addr, err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", ln.Addr().String())

		err := s.server.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			L_error("http: server error", "error", err)
		}
	}()

	return nil
}

// listen binds addr up front so Start can report a port already in use.
func listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Stop gracefully shuts down the HTTP server, waiting for in-flight requests
// until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return err
	}

	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}

// logRequest wraps an HTTP handler to log requests
func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lw, r)

		L_debug("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	})
}

// loggingResponseWriter wraps ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// stripHeaders removes fingerprinting headers
func (s *Server) stripHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")

		next.ServeHTTP(w, r)
	})
}
