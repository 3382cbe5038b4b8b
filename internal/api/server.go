// Package api is the HTTP surface of the gateway. Handlers run the full
// mediation pipeline; nothing below this package talks to the client.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/promptgate/internal/audit"
	"github.com/promptgate/internal/config"
	"github.com/promptgate/internal/contextbuild"
	"github.com/promptgate/internal/inference"
	"github.com/promptgate/internal/patch"
	"github.com/promptgate/internal/policy"
)

// Server represents the API server
type Server struct {
	echo *echo.Echo
	cfg  *config.Config

	keys      *KeyCache
	collector *contextbuild.Collector
	registry  *contextbuild.Registry
	scanner   *policy.Scanner
	recorder  *audit.Recorder
	gate      *patch.Gate
	inference inference.Client
	limiters  *workspaceLimiters
}

// Deps are the pipeline collaborators the server wires into handlers.
type Deps struct {
	Keys      *KeyCache
	Collector *contextbuild.Collector
	Registry  *contextbuild.Registry
	Scanner   *policy.Scanner
	Recorder  *audit.Recorder
	Gate      *patch.Gate
	Inference inference.Client
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	server := &Server{
		echo:      e,
		cfg:       cfg,
		keys:      deps.Keys,
		collector: deps.Collector,
		registry:  deps.Registry,
		scanner:   deps.Scanner,
		recorder:  deps.Recorder,
		gate:      deps.Gate,
		inference: deps.Inference,
		limiters:  newWorkspaceLimiters(cfg.Inference.RatePerSec, cfg.Inference.RateBurst),
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")
	v1.Use(RequireAuth(s.keys, s.cfg.Workspace.BaseDir))

	v1.POST("/context", s.handleContextBuild)
	v1.POST("/patch/validate", s.handlePatchValidate)
	v1.POST("/patch/apply", s.handlePatchApply)
}

// Start begins the API server and blocks until an interrupt, then shuts
// down gracefully.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.cfg.Server.Port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
