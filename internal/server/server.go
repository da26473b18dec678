// Package server exposes the local control API: status, intents, the latest
// frame and an event stream.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/server/handlers"
	"github.com/babelcloud/gbox/packages/caster/internal/server/router"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
)

// APIServer serves the local control API for one controller.
type APIServer struct {
	addr       string
	controller handlers.Controller
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
	routesOnce sync.Once

	mu        sync.RWMutex
	listener  net.Listener
	running   bool
	startTime time.Time
	buildID   string
	serveErr  chan error
}

func NewAPIServer(addr string, controller handlers.Controller) *APIServer {
	return &APIServer{
		addr:       addr,
		controller: controller,
		mux:        http.NewServeMux(),
		logger:     util.ComponentLogger("api"),
		serveErr:   make(chan error, 1),
	}
}

// Start binds the listen address and serves in the background.
func (s *APIServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("api server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errdefs.Connection("listen api", s.addr, err)
	}

	s.startTime = time.Now()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Handler:           loggingMiddleware(s.logger, s.mux),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          util.NewStdLogger("api", slog.LevelDebug),
	}
	s.listener = ln
	s.running = true

	go func() {
		err := s.httpServer.Serve(ln)
		if err == http.ErrServerClosed {
			err = nil
		}
		s.serveErr <- err
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr is the bound address, or nil before Start.
func (s *APIServer) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the server
func (s *APIServer) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	httpServer := s.httpServer
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("API server shutdown error", "error", err)
		// Event streams are hijacked; force close what is left.
		if err := httpServer.Close(); err != nil {
			s.logger.Warn("API server force close error", "error", err)
		}
	}

	err := <-s.serveErr
	s.logger.Info("API server stopped")
	return err
}

// IsRunning returns whether the server is running
func (s *APIServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// setupRoutes registers all routers on the mux once.
func (s *APIServer) setupRoutes() {
	s.routesOnce.Do(func() {
		s.buildID = GetBuildID()
		routers := []router.Router{
			&router.APIRouter{},
		}
		for _, r := range routers {
			r.RegisterRoutes(s.mux, s)
		}
	})
}

// Handler returns the routed handler without binding a listener.
func (s *APIServer) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startTime.IsZero() {
		s.startTime = time.Now()
	}
	s.setupRoutes()
	return loggingMiddleware(s.logger, s.mux)
}

// ServerService interface implementations for handlers

// GetUptime returns server uptime
func (s *APIServer) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// GetBuildID returns build ID
func (s *APIServer) GetBuildID() string {
	return s.buildID
}

// GetVersion returns version info
func (s *APIServer) GetVersion() string {
	return BuildInfo.Version
}

func (s *APIServer) Controller() handlers.Controller {
	return s.controller
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	length int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.status = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lw.status == 0 {
		lw.status = http.StatusOK
	}
	n, err := lw.ResponseWriter.Write(b)
	lw.length += n
	return n, err
}

func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("http.Hijacker interface is not supported")
	}
	return hj.Hijack()
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.status,
			"bytes", lw.length,
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}
