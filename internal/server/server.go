package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/stage/internal/arranger"
	"github.com/kartikbazzad/bunbase/stage/internal/config"
	"github.com/kartikbazzad/bunbase/stage/internal/gateway"
	"github.com/kartikbazzad/bunbase/stage/internal/handlers"
	"github.com/kartikbazzad/bunbase/stage/internal/health"
	"github.com/kartikbazzad/bunbase/stage/internal/metrics"
	"github.com/kartikbazzad/bunbase/stage/internal/middleware"
)

// Server is the gateway process: gin engine, proxy router and saved-set
// endpoints.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *gin.Engine
	router  *gateway.Router
	limiter *middleware.RateLimiter
}

// BuildTable turns the configured backends into a route table.
func BuildTable(cfg *config.Config) (*gateway.Table, error) {
	backends := make([]gateway.Backend, 0, len(cfg.Arranger))
	for _, name := range cfg.BackendNames() {
		b := cfg.Arranger[name]
		backends = append(backends, gateway.Backend{Name: name, Prefix: b.Prefix, Origin: b.API})
	}
	return gateway.NewTable(backends)
}

// TransportOptions maps the upstream configuration.
func TransportOptions(cfg config.UpstreamConfig) gateway.TransportOptions {
	return gateway.TransportOptions{
		VerifyTLS:             cfg.VerifyTLS,
		DialTimeout:           cfg.DialTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		RetryAttempts:         cfg.RetryAttempts,
	}
}

// New wires the gateway. transport may be nil, in which case one is built
// from cfg.Upstream.
func New(cfg *config.Config, log *slog.Logger, transport *gateway.Transport) (*Server, error) {
	table, err := BuildTable(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build route table: %w", err)
	}
	if transport == nil {
		transport = gateway.NewTransport(TransportOptions(cfg.Upstream))
	}

	for _, r := range table.Routes() {
		if !r.Usable() {
			log.Warn("backend has no usable origin; its requests will fail",
				"backend", r.Name, "prefix", r.Prefix, "error", r.OriginErr)
		}
	}
	if !cfg.Upstream.VerifyTLS {
		log.Warn("upstream TLS certificate verification is disabled")
	}

	router := gateway.NewRouter(table, gateway.RouterOptions{Transport: transport, Logger: log})
	savers := handlers.SaversFromTable(table, cfg.Sets.GraphQLPath, transport.Client(cfg.Sets.Timeout),
		arranger.WithSetType(cfg.Sets.Type),
		arranger.WithSetPath(cfg.Sets.Path),
	)
	setsHandler := handlers.NewSetsHandler(table, savers, cfg.Sets.Backend, log)
	limiter := middleware.PerMinute(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)

	engine := gin.New()
	engine.Use(middleware.Recovery(log))
	engine.Use(middleware.RequestID())
	engine.Use(middleware.AccessLog(log))
	engine.Use(metrics.Middleware())
	engine.Use(middleware.CORSMiddleware(cfg.Server.CORSOrigin))

	engine.GET("/health", health.Liveness())
	engine.GET("/ready", health.Readiness(table))
	engine.GET("/metrics", metrics.Handler())

	api := engine.Group("/api")
	api.Use(middleware.RateLimitMiddleware(limiter))
	api.GET("/routes", handlers.ListRoutes(table))
	api.POST("/sets", setsHandler.SaveSet)
	api.POST("/sets/compose", setsHandler.Compose)

	// Everything else is classified by the proxy, which answers 404 itself.
	engine.NoRoute(middleware.RateLimitMiddleware(limiter), router.Handle)

	return &Server{
		cfg:     cfg,
		logger:  log,
		engine:  engine,
		router:  router,
		limiter: limiter,
	}, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on cfg.Server.Addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	if s.limiter != nil {
		go s.sweepLimiter(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.router.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.router.Close()
	if err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	s.logger.Info("gateway stopped")
	return nil
}

func (s *Server) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.limiter.Sweep(); n > 0 {
				s.logger.Debug("dropped idle rate limiters", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
