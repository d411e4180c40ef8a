// Ghostplane control plane: ingests patch webhooks, persists and
// forwards them, and monitors the host and its own subsystems.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/thoughtpilot/ghostplane/pkg/api"
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
	"github.com/thoughtpilot/ghostplane/pkg/slack"
	"github.com/thoughtpilot/ghostplane/pkg/validation"
	"github.com/thoughtpilot/ghostplane/pkg/workflow"
)

func main() {
	configPath := flag.String("config", os.Getenv("GHOSTPLANE_CONFIG"), "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, continuing with existing environment")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting ghostplane",
		"port", cfg.Server.Port,
		"patches_dir", cfg.Ingest.PatchesDir,
		"downstream", cfg.Ingest.DownstreamURL)

	ctx := context.Background()

	// Persistence and journaling first: everything else reports into them.
	store, err := patchstore.NewStore(cfg.Ingest.PatchesDir)
	if err != nil {
		slog.Error("Failed to open patch store", "error", err)
		os.Exit(1)
	}
	eventLog, err := events.NewLog(cfg.Events)
	if err != nil {
		slog.Error("Failed to open event journal", "error", err)
		os.Exit(1)
	}

	notifier := slack.NewService(cfg.Slack)
	if notifier == nil {
		slog.Info("Chat notifications disabled, no token or channel configured")
	}

	auditLog, err := audit.NewLogger(cfg.Audit, notifier)
	if err != nil {
		slog.Error("Failed to open audit log", "error", err)
		os.Exit(1)
	}
	auditLog.Start(ctx)
	defer auditLog.Stop()

	// Fault handling. Restart requests re-deliver SIGTERM to our own
	// process group so the supervisor relaunches a clean instance.
	recoveryMgr := recovery.NewManager(cfg.Recovery, notifier, auditLog)
	selfRestart := func(ctx context.Context) error {
		self, err := os.FindProcess(os.Getpid())
		if err != nil {
			return err
		}
		return self.Signal(syscall.SIGTERM)
	}
	recoveryMgr.RegisterRestart("patch-store", selfRestart)
	recoveryMgr.RegisterRestart("forwarder", selfRestart)

	// Ingest pipeline.
	fwd := forwarder.New(cfg.Ingest)
	pipeline := ingest.NewPipeline(store, fwd, eventLog, recoveryMgr)
	validator := validation.NewValidator()

	// Admission control.
	limiter := ratelimit.NewLimiter(cfg.RateLimit)
	limiter.Start(ctx)
	defer limiter.Stop()

	// Observability loops.
	mon := monitor.NewMonitor(cfg.Monitor)
	mon.OnAlert(func(a monitor.Alert) {
		eventLog.LogSystemEvent("resource_alert", map[string]any{
			"resource_name": a.ResourceName,
			"alert_level":   string(a.AlertLevel),
			"value":         a.Value,
			"threshold":     a.Threshold,
		})
		if a.AlertLevel == monitor.LevelCritical {
			auditLog.Log(audit.Entry{
				Level:     audit.LevelCritical,
				Category:  audit.CategoryResource,
				Message:   a.Message,
				Component: "resource-monitor",
			})
		}
	})
	mon.Start(ctx)
	defer mon.Stop()

	scanner := cleanup.NewScanner(cfg.Cleanup)
	scanner.Start(ctx)
	defer scanner.Stop()

	registry := health.NewRegistry(cfg.Health)
	health.RegisterResourceChecks(registry, mon)
	health.RegisterServiceCheck(registry, "ghost_runner", health.ComponentService,
		func(ctx context.Context) error {
			if !fwd.Reachable(ctx, 2*time.Second) {
				return errors.New("downstream runner unreachable")
			}
			return nil
		})
	registry.Start(ctx)
	defer registry.Stop()
	aggregator := health.NewAggregator(registry, mon)

	// Asynchronous processing.
	proc := processor.NewProcessor(cfg.Processor)
	proc.SetRecovery(recoveryMgr)
	proc.RegisterHandler(processor.TypeWebhook, func(ctx context.Context, payload map[string]any) (any, error) {
		return pipeline.ProcessPatch(ctx, payload)
	})
	proc.RegisterHandler(processor.TypeSummary, func(ctx context.Context, payload map[string]any) (any, error) {
		return pipeline.ProcessSummary(payload)
	})
	proc.RegisterHandler(processor.TypeHealthCheck, func(ctx context.Context, payload map[string]any) (any, error) {
		return aggregator.Aggregate(ctx), nil
	})
	proc.RegisterHandler(processor.TypeResourceCheck, func(ctx context.Context, payload map[string]any) (any, error) {
		return mon.Collect()
	})
	proc.RegisterHandler(processor.TypeProcessCheck, func(ctx context.Context, payload map[string]any) (any, error) {
		return scanner.Scan(), nil
	})
	proc.Start(ctx)
	defer proc.Stop()

	engine := workflow.NewEngine(cfg.Workflow)
	engine.SetRecovery(recoveryMgr)
	workflow.RegisterBuiltinWorkflows(engine, workflow.Deps{Events: eventLog, Validator: validator})
	engine.Start(ctx)
	defer engine.Stop()

	corsMgr := cors.NewManager(cfg.CORS)

	server := api.NewServer(api.Deps{
		Config:    cfg,
		Ingest:    pipeline,
		Store:     store,
		Forwarder: fwd,
		Events:    eventLog,
		Audit:     auditLog,
		Limiter:   limiter,
		Validator: validator,
		Monitor:   mon,
		Cleanup:   scanner,
		Health:    registry,
		Aggregate: aggregator,
		Processor: proc,
		Workflow:  engine,
		Recovery:  recoveryMgr,
		CORS:      corsMgr,
	})

	eventLog.LogSystemEvent("server_started", map[string]any{"port": cfg.Server.Port})
	auditLog.Log(audit.Entry{
		Level:     audit.LevelInfo,
		Category:  audit.CategorySystem,
		Message:   "control plane started",
		Component: "main",
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("HTTP server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown did not complete cleanly", "error", err)
	}

	eventLog.LogSystemEvent("server_stopped", nil)
	slog.Info("Ghostplane stopped")
}
