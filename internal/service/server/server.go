package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
	"github.com/vertextoedge/resumable-downloader/internal/service/coordinator"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr      string
	AdminUsername string
	AdminPassword string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Engine is the transfer engine the API controls
type Engine interface {
	Start(ctx context.Context, req coordinator.StartRequest) error
	Pause(id string) bool
	Resume(id string) bool
	Cancel(id string) bool
	ListActive() []domain.ActiveTransfer
	Get(id string) (domain.ActiveTransfer, bool)
	State(id string) domain.TransferState
	ConfigureProgress(ctx context.Context, interval time.Duration, minBytes int64) error
}

// Server represents the HTTP control API server
type Server struct {
	config  *Config
	engine  Engine
	logger  *zap.Logger
	echo    *echo.Echo
	server  *http.Server
	started time.Time
}

// New creates a new HTTP server
func New(cfg *Config, engine Engine, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config:  cfg,
		engine:  engine,
		logger:  logger.Named("server"),
		echo:    echo.New(),
		started: time.Now(),
	}

	s.echo.Use(middleware.Recover())
	s.echo.Use(RequestLogger(s.logger))

	s.echo.GET("/health", s.handleHealth)

	api := s.echo.Group("/api")
	if cfg.AdminUsername != "" {
		api.Use(BasicAuth(cfg.AdminUsername, cfg.AdminPassword, s.logger))
	}
	h := &transferHandler{engine: engine, logger: s.logger}
	api.GET("/transfers", h.list)
	api.POST("/transfers", h.start)
	api.GET("/transfers/:id", h.get)
	api.DELETE("/transfers/:id", h.cancel)
	api.POST("/transfers/:id/pause", h.pause)
	api.POST("/transfers/:id/resume", h.resume)
	api.PUT("/progress", h.configureProgress)
	api.GET("/stats", h.stats)

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      s.echo,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"time":   time.Now().Format(time.RFC3339),
	})
}
