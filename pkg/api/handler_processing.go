package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/thoughtpilot/ghostplane/pkg/processor"
	"github.com/thoughtpilot/ghostplane/pkg/workflow"
)

// processorStatsHandler handles GET /api/processor.
func (s *Server) processorStatsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"stats": s.deps.Processor.GetStats(),
		"types": s.deps.Processor.Types(),
	})
}

// processorSubmitHandler handles POST /api/processor.
func (s *Server) processorSubmitHandler(c *echo.Context) error {
	var req ProcessorSubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "type field is required")
	}

	id, err := s.deps.Processor.Submit(processor.RequestType(req.Type), req.Data, req.Priority)
	if err != nil {
		var unknown *processor.ErrUnknownType
		if errors.As(err, &unknown) {
			return echo.NewHTTPError(http.StatusBadRequest, unknown.Error())
		}
		var full *processor.ErrQueueFull
		if errors.As(err, &full) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, full.Error())
		}
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusAccepted, SubmitResponse{Status: "accepted", RequestID: id})
}

// sequentialStatsHandler handles GET /api/sequential.
func (s *Server) sequentialStatsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"stats":     s.deps.Workflow.GetStats(),
		"workflows": s.deps.Workflow.Workflows(),
	})
}

// sequentialSubmitHandler handles POST /api/sequential.
func (s *Server) sequentialSubmitHandler(c *echo.Context) error {
	var req SequentialSubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Workflow == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow field is required")
	}

	id, err := s.deps.Workflow.Submit(req.Workflow, req.Data, req.Priority)
	if err != nil {
		var unknown *workflow.ErrUnknownWorkflow
		if errors.As(err, &unknown) {
			return echo.NewHTTPError(http.StatusBadRequest, unknown.Error())
		}
		var full *workflow.ErrQueueFull
		if errors.As(err, &full) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, full.Error())
		}
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusAccepted, SubmitResponse{Status: "accepted", RequestID: id})
}

// sequentialStatusHandler handles GET /api/sequential/:id.
func (s *Server) sequentialStatusHandler(c *echo.Context) error {
	req, ok := s.deps.Workflow.GetRequest(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "request not found")
	}
	return c.JSON(http.StatusOK, req)
}
