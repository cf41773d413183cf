// Package api exposes the operator HTTP surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/api/handlers"
	"github.com/orrn/printq/internal/api/middleware"
	"github.com/orrn/printq/internal/archive"
	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/logging"
	"github.com/orrn/printq/internal/metrics"
	"github.com/orrn/printq/internal/orders"
)

// Deps are the components the routes operate on. Ingestor and Archiver may
// be nil.
type Deps struct {
	Store           core.JobStore
	Registry        *core.Registry
	Dispatcher      *core.Dispatcher
	Projector       *core.Projector
	Ingestor        *orders.Ingestor
	Archiver        *archive.Archiver
	DefaultPriority int
}

func NewRouter(ctx context.Context, cfg *config.Config, deps Deps, logger *slog.Logger) (*gin.Engine, error) {
	auth, err := middleware.NewAuthMiddleware(cfg.Auth)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logging.Component(logger, "http")))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	authGroup := r.Group("/api/auth")
	authGroup.POST("/login", auth.LoginHandler)
	authGroup.POST("/logout", auth.LogoutHandler)
	authGroup.GET("/status", auth.StatusHandler)

	protected := r.Group("/api")
	protected.Use(auth.RequireAuth())

	handlers.NewJobHandler(deps.Store, deps.Projector, deps.DefaultPriority).RegisterRoutes(protected)
	handlers.NewPrinterHandler(deps.Registry).RegisterRoutes(protected)
	handlers.NewStatusHandler(ctx, deps.Store, deps.Registry, deps.Dispatcher, deps.Projector, deps.Ingestor).RegisterRoutes(protected)
	if deps.Archiver != nil {
		handlers.NewArchiveHandler(deps.Archiver).RegisterRoutes(protected)
	}

	return r, nil
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func NewServer(cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logging.Component(logger, "http"),
	}
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
