package api

import (
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/thoughtpilot/ghostplane/pkg/version"
)

const downstreamProbeTimeout = 2 * time.Second

// healthHandler handles GET /health. Component flags are computed per
// request: only a downstream outage degrades the service; any other
// failed flag makes the overall status unknown.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	components := HealthComponents{
		GhostRunner:     "up",
		Port5555Bound:   portBound("5555"),
		FSWritable:      s.deps.Store.Writable(),
		FlaskResponsive: true, // this handler answering is the proof
		WebhookEndpoint: "operational",
	}
	if !s.deps.Forwarder.Reachable(ctx, downstreamProbeTimeout) {
		components.GhostRunner = "down"
	}

	status := "healthy"
	switch {
	case components.GhostRunner == "up" && components.Port5555Bound && components.FSWritable:
		status = "healthy"
	case components.GhostRunner == "down" && components.Port5555Bound && components.FSWritable:
		status = "degraded"
	default:
		status = "unknown"
	}

	metrics := HealthMetrics{}
	if sample, ok := s.deps.Monitor.Latest(); ok {
		metrics.CPU = sample.CPUPercent
		metrics.Memory = sample.MemoryPercent
		metrics.Disk = sample.DiskPercent
		metrics.Network = sample.Network
	}

	return c.JSON(http.StatusOK, HealthResponse{
		OverallStatus: status,
		Components:    components,
		SystemMetrics: metrics,
		Version:       version.Full(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}

func portBound(port string) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", port), 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
