package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

func limitParam(c *echo.Context, fallback int) int {
	raw := c.QueryParam("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return fallback
	}
	return limit
}

// eventsHandler handles GET /events.
func (s *Server) eventsHandler(c *echo.Context) error {
	limit := limitParam(c, 100)
	return c.JSON(http.StatusOK, map[string]any{
		"events": s.deps.Events.Recent(limit, c.QueryParam("type")),
	})
}

// eventsSummaryHandler handles GET /events/summary.
func (s *Server) eventsSummaryHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Events.Summary())
}

// patchEventsHandler handles GET /events/patch.
func (s *Server) patchEventsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"events": s.deps.Events.PatchEvents(limitParam(c, 100)),
	})
}

// slackEventsHandler handles GET /events/slack.
func (s *Server) slackEventsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"events": s.deps.Events.SlackEvents(limitParam(c, 100)),
	})
}
