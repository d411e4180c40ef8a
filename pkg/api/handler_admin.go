package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/thoughtpilot/ghostplane/pkg/audit"
	"github.com/thoughtpilot/ghostplane/pkg/validation"
)

// errorsHandler handles GET /api/errors: recovery history and stats.
func (s *Server) errorsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"errors": s.deps.Recovery.History(limitParam(c, 50)),
		"stats":  s.deps.Recovery.GetStats(),
	})
}

// rateLimitsHandler handles GET /api/rate-limits.
func (s *Server) rateLimitsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Limiter.GetStats())
}

// auditHandler handles GET /api/audit with optional level/category
// filters.
func (s *Server) auditHandler(c *echo.Context) error {
	entries := s.deps.Audit.Query(
		audit.Level(c.QueryParam("level")),
		audit.Category(c.QueryParam("category")),
		limitParam(c, 100),
	)
	return c.JSON(http.StatusOK, map[string]any{
		"entries": entries,
		"stats":   s.deps.Audit.GetStats(),
	})
}

// serverFixesHandler handles GET /api/server-fixes: the stored patch
// files, newest first.
func (s *Server) serverFixesHandler(c *echo.Context) error {
	files, err := s.deps.Store.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "patch listing failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"patches": files,
		"dir":     s.deps.Store.Dir(),
		"hardening": map[string]any{
			"max_body_bytes":      s.deps.Config.Server.MaxBodyBytes,
			"read_header_timeout": "10s",
			"forward_timeout":     s.deps.Config.Ingest.ForwardTimeout.String(),
			"forward_retries":     s.deps.Config.Ingest.ForwardRetries,
		},
	})
}

// errorHandlerHandler handles GET /api/error-handler: classification
// vocabulary plus live stats.
func (s *Server) errorHandlerHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"error_types": []string{
			"network", "database", "timeout", "validation",
			"authentication", "system", "resource", "unknown",
		},
		"actions": []string{"retry", "restart", "escalate", "ignore"},
		"stats":   s.deps.Recovery.GetStats(),
	})
}

// healthEndpointsHandler handles GET /api/health-endpoints: registered
// checks, latest results, and the aggregated status.
func (s *Server) healthEndpointsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"system":  s.deps.Aggregate.Aggregate(c.Request().Context()),
		"history": s.deps.Health.History(limitParam(c, 100)),
	})
}

// corsHandler handles GET /api/cors.
func (s *Server) corsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"config":    s.deps.CORS.Config(),
		"decisions": s.deps.CORS.History(limitParam(c, 50)),
		"stats":     s.deps.CORS.GetStats(),
	})
}

// validationHandler handles POST /api/validation: runs the validator
// and returns its report.
func (s *Server) validationHandler(c *echo.Context) error {
	var req ValidationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Shape == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "type field is required")
	}

	level := validation.Level(req.Level)
	if level == "" {
		level = validation.LevelBasic
	}
	report := s.deps.Validator.Validate(req.Shape, req.Data, level)
	return c.JSON(http.StatusOK, report)
}
