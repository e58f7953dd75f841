// Package http serves the prediction API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"caloriecast/monitoring"
	"go.uber.org/zap"
)

// Server is the prediction API HTTP server.
type Server struct {
	server  *http.Server
	handler http.Handler
	config  ServerConfig
	logger  *zap.Logger
}

// ServerConfig holds the transport settings for Server.
type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// DefaultServerConfig returns the settings used for local development.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         8000,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://localhost:3000",
		},
		MaxBodyBytes: 1 << 20,
	}
}

// NewServer wires routes and middleware. metrics may be nil, in which case
// /metrics is not served and requests are not instrumented.
func NewServer(config ServerConfig, predictor Predictor, metrics *monitoring.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	handlers := NewHandler(predictor, logger)
	handlers.Register(mux)
	if metrics != nil {
		handlers.Mount(mux, http.MethodGet, "/metrics", metrics.Handler())
	}

	middlewares := []Middleware{
		RecoveryMiddleware(logger), // 1. outermost, catches panics
		LoggerMiddleware(logger),   // 2. request id and access log
		MetricsMiddleware(metrics), // 3. sees the request the mux annotates
		CORSMiddleware(config.AllowedOrigins),
		RequestSizeMiddleware(config.MaxBodyBytes),
	}
	handler := Chain(middlewares...)(mux)

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
		handler: handler,
		config:  config,
		logger:  logger,
	}
}

// Start blocks until the server stops. A clean Stop returns nil.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests, waiting up to five seconds.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down http server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Handler exposes the fully wrapped handler for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}
