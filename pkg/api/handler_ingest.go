package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// webhookHandler handles POST /webhook. Requests carrying a
// chat-platform signature are delegated to the external command
// surface; everything else is a patch descriptor.
func (s *Server) webhookHandler(c *echo.Context) error {
	if sig := c.Request().Header.Get("X-Slack-Signature"); sig != "" && !s.deps.Config.Server.DebugMode {
		return s.delegateSlack(c)
	}
	return s.ingestPatch(c)
}

// patchesHandler handles POST /api/patches: the ingest pipeline with no
// chat delegation.
func (s *Server) patchesHandler(c *echo.Context) error {
	return s.ingestPatch(c)
}

func (s *Server) ingestPatch(c *echo.Context) error {
	var payload map[string]any
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request body must be a JSON object")
	}

	result, err := s.deps.Ingest.ProcessPatch(c.Request().Context(), payload)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Status: "success", Result: result})
}

// delegateSlack acknowledges a chat-signed request and records it. The
// signature check and command parsing live in the external chat surface.
func (s *Server) delegateSlack(c *echo.Context) error {
	if err := c.Request().ParseForm(); err == nil {
		s.deps.Events.LogSlackEvent("command_received", map[string]any{
			"user_id":    c.Request().PostFormValue("user_id"),
			"channel_id": c.Request().PostFormValue("channel_id"),
			"command":    c.Request().PostFormValue("command"),
			"text":       c.Request().PostFormValue("text"),
		}, nil)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "delegated",
		"message": "chat-signed request handed to the command surface",
	})
}

// summariesHandler handles POST /api/summaries: validate, log,
// acknowledge. Nothing is persisted.
func (s *Server) summariesHandler(c *echo.Context) error {
	var payload map[string]any
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request body must be a JSON object")
	}

	ack, err := s.deps.Ingest.ProcessSummary(payload)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "success", "result": ack})
}
