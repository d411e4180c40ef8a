package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// resourcesHandler handles GET /api/resources: latest samples plus the
// alert history.
func (s *Server) resourcesHandler(c *echo.Context) error {
	latest, ok := s.deps.Monitor.Latest()
	body := map[string]any{
		"samples": s.deps.Monitor.History(limitParam(c, 50)),
		"alerts":  s.deps.Monitor.Alerts(limitParam(c, 50)),
	}
	if ok {
		body["latest"] = latest
	}
	return c.JSON(http.StatusOK, body)
}

// processesHandler handles GET /api/processes: current process list,
// cleanup history, and scanner stats.
func (s *Server) processesHandler(c *echo.Context) error {
	procs, err := s.deps.Cleanup.Processes()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "process listing failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"processes": procs,
		"history":   s.deps.Cleanup.History(limitParam(c, 50)),
		"stats":     s.deps.Cleanup.GetStats(),
	})
}
