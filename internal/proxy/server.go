package proxy

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/missionrelay/missionrelay/internal/chain"
	"github.com/missionrelay/missionrelay/internal/config"
	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/health"
)

// Server is the Failover Proxy's HTTP listener: it wires the chain store,
// account store, health tracker, and optional auth/rate-limit middleware
// into a Handler and owns the listen/shutdown lifecycle.
type Server struct {
	cfg     *config.Config
	handler *Handler
	auth    *Authenticator
	limiter *RateLimiter
	server  *http.Server
}

// NewServer builds a Server from cfg and the shared component instances the
// daemon wiring layer constructs (chain store, account store, health
// tracker, proxy-key store).
func NewServer(cfg *config.Config, chains *chain.Store, accounts *credentials.AccountStore, proxyKeys *credentials.ProxyKeyStore, tracker *health.Tracker) *Server {
	handler := NewHandler(chains, accounts, tracker, time.Duration(cfg.HTTPClientTimeoutSec)*time.Second)

	s := &Server{cfg: cfg, handler: handler}

	if cfg.AuthEnabled || proxyKeys != nil {
		s.auth = NewAuthenticator(cfg.AuthAPIKey, proxyKeys)
	}
	if cfg.RateLimitEnabled {
		s.limiter = NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.RateLimitBurst)
	}
	return s
}

// Start binds the listener, installs signal-triggered graceful shutdown,
// and blocks until the server stops. It auto-selects a nearby free port if
// cfg.Port is already taken.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", s.handler.HandleChatCompletions)
	mux.HandleFunc("/v1/models", s.handler.HandleModels)

	var handler http.Handler = mux
	if s.limiter != nil {
		handler = RateLimitMiddleware(s.limiter)(handler)
		log.Printf("[missionrelay] rate limiting enabled: %d requests per %ds (burst %d)",
			s.cfg.RateLimitRequests, s.cfg.RateLimitWindow, s.cfg.RateLimitBurst)
	}
	if s.auth != nil {
		handler = s.auth.Middleware(handler)
		log.Printf("[missionrelay] bearer auth enabled")
	} else {
		log.Printf("[missionrelay] warning: auth disabled, anyone who can reach this port can use the proxy")
	}
	handler = loggingMiddleware(handler)

	port := s.cfg.Port
	if !isPortAvailable(port) {
		log.Printf("[missionrelay] port %d is in use, finding another...", port)
		newPort, err := findAvailablePort(port)
		if err != nil {
			return fmt.Errorf("failed to find available port: %w", err)
		}
		port = newPort
		s.cfg.Port = port
		log.Printf("[missionrelay] using port %d instead", port)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses may run far longer than any fixed timeout
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[missionrelay] failover proxy listening on port %d", port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		log.Printf("[missionrelay] received signal %v, shutting down...", sig)
		return s.Shutdown()
	}
}

// GetPort returns the port the server actually bound to, after any
// auto-selection.
func (s *Server) GetPort() int {
	return s.cfg.Port
}

// Shutdown gracefully drains in-flight requests (up to 10s) then stops the
// listener.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	log.Printf("[missionrelay] server stopped")
	return nil
}

func isPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

func findAvailablePort(startPort int) (int, error) {
	for port := startPort + 1; port <= startPort+100; port++ {
		if isPortAvailable(port) {
			return port, nil
		}
	}
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected address type")
	}
	return tcpAddr.Port, nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf("[missionrelay] %s %s %d %v", r.Method, r.URL.Path, lrw.statusCode, time.Since(start))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
