// Package main provides the entry point for the NetSentry server, a
// real-time security telemetry scoring and alert-dispatch pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/netsentry/internal/alerting"
	"github.com/lvonguyen/netsentry/internal/api"
	"github.com/lvonguyen/netsentry/internal/config"
	"github.com/lvonguyen/netsentry/internal/detect"
	"github.com/lvonguyen/netsentry/internal/event"
	"github.com/lvonguyen/netsentry/internal/observability"
	"github.com/lvonguyen/netsentry/internal/pipeline"
	"github.com/lvonguyen/netsentry/internal/store"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("NetSentry %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		fmt.Fprintln(os.Stderr, "falling back to defaults")
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Logging, "netsentry", Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting NetSentry",
		zap.String("version", Version),
		zap.String("config", *configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()
	metrics.StartSystemCollector(ctx)

	// Detection stack. Thresholds sit behind atomics so the config watcher
	// can retune them without a restart.
	thresholds := detect.NewThresholds(cfg.Detection.ThreatThreshold, cfg.Detection.AnomalyThreshold)
	ensemble := detect.NewEnsemble(thresholds,
		detect.NewAnomalyDetector(thresholds),
		detect.NewTrafficClassifier())
	normalizer := event.NewNormalizer(event.NormalizerConfig{
		HostIdentity: cfg.Detection.HostIdentity,
	})

	// Shared state. Redis is optional; everything degrades to in-process
	// stores when it is disabled or unreachable.
	var (
		cooldownStore alerting.CooldownStore = alerting.NewMemoryCooldownStore()
		sink          pipeline.Sink
	)
	if cfg.Redis.Enabled {
		client, err := store.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, using in-memory state", zap.Error(err))
		} else {
			cooldownStore = store.NewCooldownStore(client)
			sink = store.NewEventSink(client)
			defer client.Close()
			logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
		}
	}

	gate := alerting.NewGate(cooldownStore, cfg.Alerting.Cooldown,
		cfg.Alerting.EnabledChannels(), logger)
	go gate.StartSweeper(ctx, time.Hour)

	router := alerting.NewRouter(cfg.Alerting.Router(), logger,
		emailChannel(cfg), chatChannel(cfg), webhookChannel(cfg), logChannel(cfg, logger))

	coordinator := pipeline.NewCoordinator(cfg.Pipeline, pipeline.Dependencies{
		Normalizer: normalizer,
		Ensemble:   ensemble,
		Escalation: cfg.Detection.Escalation(),
		Gate:       gate,
		Router:     router,
		Sink:       sink,
		Logger:     logger,
		Metrics:    metrics,
	})
	coordinator.Start(ctx)

	stopWatch, err := config.Watch(*configPath, logger, func(next *config.Config) {
		thresholds.SetThreat(next.Detection.ThreatThreshold)
		thresholds.SetAnomaly(next.Detection.AnomalyThreshold)
	})
	if err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	} else {
		defer stopWatch()
	}

	server := api.NewServer(api.Config{
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, coordinator, metrics, logger)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	// Ordered shutdown: stop intake and drain the pipeline first, then tear
	// down the HTTP server via context cancellation.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	report := coordinator.Shutdown(shutdownCtx)
	logger.Info("pipeline drained",
		zap.Int64("drained", report.Drained),
		zap.Int("abandoned", report.Abandoned))

	cancel()
	logger.Info("server stopped")
}

func emailChannel(cfg *config.Config) *alerting.EmailChannel {
	if !cfg.Alerting.Email.Enabled {
		return nil
	}
	return alerting.NewEmailChannel(cfg.Alerting.Email)
}

func chatChannel(cfg *config.Config) *alerting.ChatChannel {
	if !cfg.Alerting.Chat.Enabled {
		return nil
	}
	return alerting.NewChatChannel(cfg.Alerting.Chat)
}

func webhookChannel(cfg *config.Config) *alerting.WebhookChannel {
	if !cfg.Alerting.Webhook.Enabled {
		return nil
	}
	return alerting.NewWebhookChannel(cfg.Alerting.Webhook)
}

func logChannel(cfg *config.Config, logger *zap.Logger) *alerting.LogChannel {
	if !cfg.Alerting.Log.Enabled {
		return nil
	}
	return alerting.NewLogChannel(logger)
}
