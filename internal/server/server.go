package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pixora-labs/pixora/internal/config"
)

const shutdownTimeout = 30 * time.Second

// Server wraps http.Server with context-driven graceful shutdown.
type Server struct {
	httpServer *http.Server
	onShutdown []func(context.Context)
}

// New creates a server. writeTimeout must cover the slowest synchronous
// media request, which holds the connection until the provider answers.
func New(cfg config.ServerConfig, handler http.Handler, writeTimeout time.Duration) *Server {
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// OnShutdown registers fn to run after the listener stops accepting
// requests. Hooks run in registration order with the shutdown deadline.
func (s *Server) OnShutdown(fn func(context.Context)) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		slog.Info("server: listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("server: shutting down", "cause", context.Cause(ctx))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	for _, fn := range s.onShutdown {
		fn(shutdownCtx)
	}
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server: stopped gracefully")
	return nil
}
