// Package monitor samples host resource usage on a fixed cadence and
// raises threshold alerts.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/thoughtpilot/ghostplane/pkg/config"
)

// AlertLevel is the severity of a threshold alert.
type AlertLevel string

// Alert levels.
const (
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// NetworkIO holds cumulative network counters.
type NetworkIO struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// Sample is one resource usage measurement.
type Sample struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	ProcessCount  int       `json:"process_count"`
	Network       NetworkIO `json:"network"`
}

// Alert is one threshold violation.
type Alert struct {
	Timestamp    time.Time  `json:"timestamp"`
	ResourceName string     `json:"resource_name"`
	AlertLevel   AlertLevel `json:"alert_level"`
	Value        float64    `json:"value"`
	Threshold    float64    `json:"threshold"`
	Message      string     `json:"message"`
}

// AlertFunc receives alerts synchronously from the sampling loop.
type AlertFunc func(Alert)

// Monitor samples resources and keeps bounded histories of samples and
// alerts. Safe for concurrent use.
type Monitor struct {
	cfg    config.MonitorConfig
	logger *slog.Logger

	// sampler is replaceable for tests and degraded hosts.
	sampler func() (Sample, error)

	mu        sync.Mutex
	samples   []Sample
	alerts    []Alert
	callbacks []AlertFunc

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a resource monitor using the host sampler.
func NewMonitor(cfg config.MonitorConfig) *Monitor {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 50
	}
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = 100
	}
	m := &Monitor{
		cfg:    cfg,
		logger: slog.Default().With("component", "resource-monitor"),
	}
	m.sampler = m.sampleHost
	return m
}

// OnAlert registers a callback invoked synchronously for every alert.
func (m *Monitor) OnAlert(fn AlertFunc) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, fn)
	m.mu.Unlock()
}

// Start launches the sampling loop.
func (m *Monitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.run(ctx)
	m.logger.Info("Resource monitor started", "interval", m.cfg.Interval)
}

// Stop signals the sampling loop to exit and waits for it.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.logger.Info("Resource monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Collect()
		}
	}
}

// Collect takes one sample, stores it, and evaluates thresholds.
func (m *Monitor) Collect() (Sample, error) {
	sample, err := m.sampler()
	if err != nil {
		m.logger.Error("Resource sampling failed", "error", err)
		return Sample{}, err
	}
	sample.Timestamp = time.Now().UTC()

	m.mu.Lock()
	m.samples = append(m.samples, sample)
	if len(m.samples) > m.cfg.MaxSamples {
		m.samples = m.samples[len(m.samples)-m.cfg.MaxSamples:]
	}
	callbacks := make([]AlertFunc, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, alert := range m.evaluate(sample) {
		m.mu.Lock()
		m.alerts = append(m.alerts, alert)
		if len(m.alerts) > m.cfg.MaxAlerts {
			m.alerts = m.alerts[len(m.alerts)-m.cfg.MaxAlerts:]
		}
		m.mu.Unlock()

		m.logger.Warn("Resource alert",
			"resource", alert.ResourceName,
			"level", alert.AlertLevel,
			"value", alert.Value,
			"threshold", alert.Threshold)
		for _, fn := range callbacks {
			fn(alert)
		}
	}
	return sample, nil
}

// evaluate checks each resource against its thresholds. Critical wins
// over warning for the same resource.
func (m *Monitor) evaluate(s Sample) []Alert {
	var alerts []Alert
	check := func(name string, value float64, th config.Threshold) {
		level := AlertLevel("")
		threshold := 0.0
		switch {
		case th.Critical > 0 && value >= th.Critical:
			level, threshold = LevelCritical, th.Critical
		case th.Warning > 0 && value >= th.Warning:
			level, threshold = LevelWarning, th.Warning
		default:
			return
		}
		alerts = append(alerts, Alert{
			Timestamp:    s.Timestamp,
			ResourceName: name,
			AlertLevel:   level,
			Value:        value,
			Threshold:    threshold,
			Message:      fmt.Sprintf("%s usage %.1f exceeds %s threshold %.1f", name, value, level, threshold),
		})
	}

	check("cpu", s.CPUPercent, m.cfg.CPU)
	check("memory", s.MemoryPercent, m.cfg.Memory)
	check("disk", s.DiskPercent, m.cfg.Disk)
	check("process_count", float64(s.ProcessCount), m.cfg.ProcessCount)
	return alerts
}

// sampleHost reads host metrics through gopsutil.
func (m *Monitor) sampleHost() (Sample, error) {
	var s Sample

	// A sampled window; the instantaneous reading reports zero on the
	// first call.
	cpuPercents, err := cpu.Percent(time.Second, false)
	if err != nil {
		return s, fmt.Errorf("sampling cpu: %w", err)
	}
	if len(cpuPercents) > 0 {
		s.CPUPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return s, fmt.Errorf("sampling memory: %w", err)
	}
	s.MemoryPercent = vm.UsedPercent

	du, err := disk.Usage("/")
	if err != nil {
		return s, fmt.Errorf("sampling disk: %w", err)
	}
	s.DiskPercent = du.UsedPercent

	pids, err := process.Pids()
	if err != nil {
		return s, fmt.Errorf("listing processes: %w", err)
	}
	s.ProcessCount = len(pids)

	if counters, err := gopsnet.IOCounters(false); err == nil && len(counters) > 0 {
		s.Network = NetworkIO{
			BytesSent:   counters[0].BytesSent,
			BytesRecv:   counters[0].BytesRecv,
			PacketsSent: counters[0].PacketsSent,
			PacketsRecv: counters[0].PacketsRecv,
		}
	}
	return s, nil
}

// Latest returns the most recent sample, if any.
func (m *Monitor) Latest() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return Sample{}, false
	}
	return m.samples[len(m.samples)-1], true
}

// History returns up to limit most recent samples, oldest first.
func (m *Monitor) History(limit int) []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	samples := m.samples
	if limit > 0 && len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out
}

// Alerts returns up to limit most recent alerts, oldest first.
func (m *Monitor) Alerts(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	alerts := m.alerts
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[len(alerts)-limit:]
	}
	out := make([]Alert, len(alerts))
	copy(out, alerts)
	return out
}
