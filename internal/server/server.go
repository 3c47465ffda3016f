// Package server provides the formgate HTTP server: a gin engine wrapped in
// net/http middleware and served by an http.Server with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/formgate/internal/middleware"
	"github.com/vyrodovalexey/formgate/internal/observability"
)

// ginModeOnce ensures gin.SetMode is only called once.
var ginModeOnce sync.Once

const notFoundBody = `{"success":false,"code":"invalid_request","error":"Not found."}`

// Config holds configuration for the HTTP server.
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

// Server is the HTTP server.
type Server struct {
	engine      *gin.Engine
	config      Config
	logger      observability.Logger
	middlewares []middleware.Middleware

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
	running    bool
}

// New creates a server.
func New(config Config, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.NoRoute(func(c *gin.Context) {
		c.Data(http.StatusNotFound, "application/json", []byte(notFoundBody))
	})

	return &Server{
		engine: engine,
		config: config,
		logger: logger,
	}
}

// Use appends net/http middleware. The first middleware added is the
// outermost.
func (s *Server) Use(mws ...middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, mws...)
}

// Mount routes every method on path to h. h decides which methods it
// accepts.
func (s *Server) Mount(path string, h http.Handler) {
	s.engine.Any(path, gin.WrapH(h))
}

// Get routes GET and HEAD on path to h.
func (s *Server) Get(path string, h http.Handler) {
	s.engine.GET(path, gin.WrapH(h))
	s.engine.HEAD(path, gin.WrapH(h))
}

// MountMetrics serves the Prometheus default registry on path.
func (s *Server) MountMetrics(path string) {
	s.Get(path, promhttp.Handler())
}

// Handler returns the engine wrapped in the configured middleware.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return middleware.Chain(s.engine, s.middlewares...)
}

// Start listens on the configured address and serves until Stop is called.
// It returns nil after a graceful stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("server already running")
	}
	s.httpServer = &http.Server{
		Handler:        middleware.Chain(s.engine, s.middlewares...),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	s.listener = ln
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", ln.Addr().String()),
		observability.Duration("read_timeout", s.config.ReadTimeout),
		observability.Duration("write_timeout", s.config.WriteTimeout),
	)

	err := srv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully, waiting for in-flight requests
// until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
