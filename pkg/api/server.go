// Package api exposes the control plane's HTTP surface.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/thoughtpilot/ghostplane/pkg/audit"
	"github.com/thoughtpilot/ghostplane/pkg/cleanup"
	"github.com/thoughtpilot/ghostplane/pkg/config"
	"github.com/thoughtpilot/ghostplane/pkg/cors"
	"github.com/thoughtpilot/ghostplane/pkg/events"
	"github.com/thoughtpilot/ghostplane/pkg/forwarder"
	"github.com/thoughtpilot/ghostplane/pkg/health"
	"github.com/thoughtpilot/ghostplane/pkg/ingest"
	"github.com/thoughtpilot/ghostplane/pkg/monitor"
	"github.com/thoughtpilot/ghostplane/pkg/patchstore"
	"github.com/thoughtpilot/ghostplane/pkg/processor"
	"github.com/thoughtpilot/ghostplane/pkg/ratelimit"
	"github.com/thoughtpilot/ghostplane/pkg/recovery"
	"github.com/thoughtpilot/ghostplane/pkg/validation"
	"github.com/thoughtpilot/ghostplane/pkg/workflow"
)

// Deps are the components the HTTP surface serves.
type Deps struct {
	Config    *config.Config
	Ingest    *ingest.Pipeline
	Store     *patchstore.Store
	Forwarder *forwarder.Forwarder
	Events    *events.Log
	Audit     *audit.Logger
	Limiter   *ratelimit.Limiter
	Validator *validation.Validator
	Monitor   *monitor.Monitor
	Cleanup   *cleanup.Scanner
	Health    *health.Registry
	Aggregate *health.Aggregator
	Processor *processor.Processor
	Workflow  *workflow.Engine
	Recovery  *recovery.Manager
	CORS      *cors.Manager
}

// Server is the control plane HTTP server.
type Server struct {
	deps   Deps
	echo   *echo.Echo
	http   *http.Server
	logger *slog.Logger

	startedAt time.Time
}

// NewServer builds the server and its routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:      deps,
		echo:      echo.New(),
		logger:    slog.Default().With("component", "api-server"),
		startedAt: time.Now().UTC(),
	}
	s.routes()

	s.http = &http.Server{
		Addr:              net.JoinHostPort("", deps.Config.Server.Port),
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.Use(securityHeaders())
	e.Use(s.bodyLimit())
	e.Use(s.corsMiddleware())

	e.POST("/webhook", s.webhookHandler, s.rateLimited("webhook"))
	e.POST("/api/patches", s.patchesHandler, s.rateLimited("api"))
	e.POST("/api/summaries", s.summariesHandler, s.rateLimited("api"))

	e.GET("/health", s.healthHandler, s.rateLimited("health"))

	e.GET("/events", s.eventsHandler, s.rateLimited("api"))
	e.GET("/events/summary", s.eventsSummaryHandler, s.rateLimited("api"))
	e.GET("/events/patch", s.patchEventsHandler, s.rateLimited("api"))
	e.GET("/events/slack", s.slackEventsHandler, s.rateLimited("api"))

	e.GET("/api/resources", s.resourcesHandler, s.rateLimited("resources"))
	e.GET("/api/processes", s.processesHandler, s.rateLimited("processes"))

	e.GET("/api/processor", s.processorStatsHandler, s.rateLimited("processor"))
	e.POST("/api/processor", s.processorSubmitHandler, s.rateLimited("processor"))

	e.GET("/api/sequential", s.sequentialStatsHandler, s.rateLimited("sequential"))
	e.POST("/api/sequential", s.sequentialSubmitHandler, s.rateLimited("sequential"))
	e.GET("/api/sequential/:id", s.sequentialStatusHandler, s.rateLimited("sequential"))

	e.GET("/api/errors", s.errorsHandler, s.rateLimited("api"))
	e.GET("/api/rate-limits", s.rateLimitsHandler, s.rateLimited("api"))
	e.GET("/api/audit", s.auditHandler, s.rateLimited("api"))
	e.GET("/api/server-fixes", s.serverFixesHandler, s.rateLimited("api"))
	e.GET("/api/error-handler", s.errorHandlerHandler, s.rateLimited("api"))
	e.GET("/api/health-endpoints", s.healthEndpointsHandler, s.rateLimited("api"))
	e.GET("/api/cors", s.corsHandler, s.rateLimited("api"))

	e.POST("/api/validation", s.validationHandler, s.rateLimited("api"))
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.http.Shutdown(ctx)
}
