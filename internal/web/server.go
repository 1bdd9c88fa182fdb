// Package web serves the browser channel: streamed chat over server-sent
// events, chat history, dashboard stats, health and Prometheus metrics.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ant-Pavel/systech-aidd/internal/config"
	"github.com/Ant-Pavel/systech-aidd/internal/database"
	"github.com/Ant-Pavel/systech-aidd/internal/identity"
	"github.com/Ant-Pavel/systech-aidd/internal/logger"
	"github.com/Ant-Pavel/systech-aidd/internal/metrics"
	"github.com/Ant-Pavel/systech-aidd/internal/relay"
	"github.com/Ant-Pavel/systech-aidd/internal/stats"
)

const serviceName = "systech-aidd"

// Deps holds everything the web handlers need.
type Deps struct {
	Logger       *slog.Logger
	Config       config.WebConfig
	HistoryLimit int
	Mapper       *identity.Mapper
	Relay        *relay.Relay
	Store        database.Store
	Stats        *stats.Collector
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Version      string
}

// Server is the HTTP entry point.
type Server struct {
	deps     Deps
	logger   *slog.Logger
	engine   *gin.Engine
	limiters *limiterPool
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HistoryLimit < 1 {
		deps.HistoryLimit = config.DefaultMaxHistoryMessages
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{
		deps:     deps,
		logger:   deps.Logger.With("component", "web_server"),
		limiters: newLimiterPool(deps.Config.RateLimitRPS, deps.Config.RateLimitBurst),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	// ClientIP honors forwarding headers only from these proxies.
	if err := r.SetTrustedProxies(s.deps.Config.TrustedProxies); err != nil {
		s.logger.Warn("Ignoring invalid trusted proxies", "proxies", s.deps.Config.TrustedProxies, "error", err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(
		gin.Recovery(),
		logger.GinMiddleware(s.logger),
		s.deps.Metrics.GinMiddleware(),
		corsMiddleware(s.deps.Config.AllowedOrigins),
	)

	r.GET("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(s.deps.Gatherer)))
	}

	api := r.Group("/api")
	{
		api.POST("/chat/message", s.handleChatMessage)
		api.GET("/chat/history", s.handleChatHistory)
		api.GET("/stats", s.handleStats)
	}
	return r
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.deps.Config.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Web server listening", "addr", s.deps.Config.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down web server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.Config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down web server: %w", err)
	}
	s.logger.Info("Web server stopped")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	status, code := "ok", http.StatusOK
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(c.Request.Context()); err != nil {
			s.logger.WarnContext(c.Request.Context(), "Health check failed", "error", err)
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": serviceName,
		"version": s.deps.Version,
	})
}
