package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/storyraise/newsletter-service/internal/config"
	"github.com/storyraise/newsletter-service/internal/pkg/logger"
)

// Server wraps the HTTP server with graceful shutdown.
type Server struct {
	config config.ServerConfig
	server *http.Server
}

// NewServer creates the API server around the configured handlers.
func NewServer(cfg config.ServerConfig, h *Handlers) *Server {
	router := SetupRoutes(h)
	return &Server{
		config: cfg,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.GetHost(), cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	logger.Info("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
