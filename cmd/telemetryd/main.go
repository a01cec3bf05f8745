package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"go.temporal.io/sdk/client"
	sdklog "go.temporal.io/sdk/log"
	temporalworker "go.temporal.io/sdk/worker"

	"github.com/harvestcrm/telemetryd/internal/config"
	"github.com/harvestcrm/telemetryd/internal/content"
	"github.com/harvestcrm/telemetryd/internal/logging"
	"github.com/harvestcrm/telemetryd/internal/settings"
	"github.com/harvestcrm/telemetryd/internal/sqliteutil"
	"github.com/harvestcrm/telemetryd/internal/usage"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()
	logger := logging.New()

	db, err := sqliteutil.Open(cfg.DBPath)
	if err != nil {
		logger.Error("open db failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	contentStore := content.NewStore(db)
	if err := contentStore.Init(ctx); err != nil {
		logger.Error("init content schema failed", "error", err)
		os.Exit(1)
	}
	settingsStore := settings.NewStore(db)
	if err := settingsStore.Init(ctx); err != nil {
		logger.Error("init settings schema failed", "error", err)
		os.Exit(1)
	}
	scheduleStore := usage.NewScheduleStore(db)
	if err := scheduleStore.Init(ctx); err != nil {
		logger.Error("init schedule schema failed", "error", err)
		os.Exit(1)
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    sdklog.NewStructuredLogger(logger.With("component", "temporal")),
	})
	if err != nil {
		logger.Error("dial temporal failed", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	meta := usage.PlatformMetadata{
		SiteURL:           cfg.Platform.SiteURL,
		PlatformVersion:   cfg.Platform.PlatformVersion,
		PlatformDBVersion: cfg.Platform.PlatformDBVersion,
		RuntimeVersion:    runtime.Version(),
		ExtensionVersion:  cfg.Platform.ExtensionVersion,
	}
	collector := usage.NewCollector(contentStore, logger)
	regions := usage.NewRegionsResolver(settingsStore, logger)
	builder := usage.NewBuilder(meta)
	transmitter := usage.NewTransmitter(
		cfg.Report.Endpoint,
		cfg.Report.Timeout,
		usage.SettingsOptOut(cfg.Report.Disabled, settingsStore),
		logger,
	)
	reporter := usage.NewReporter(collector, regions, builder, transmitter, settingsStore, logger)

	scheduler := usage.NewScheduler(temporalClient.ScheduleClient(), scheduleStore, usage.SchedulerOptions{
		TimeZone: os.Getenv("TZ"),
	}, logger)
	if err := scheduler.Ensure(ctx); err != nil {
		logger.Error("register weekly trigger failed", "error", err)
		os.Exit(1)
	}

	reportWorker := usage.RegisterReportWorker(temporalClient, reporter, logger)
	go func() {
		if err := reportWorker.Run(temporalworker.InterruptCh()); err != nil {
			logger.Error("report worker stopped", "error", err)
			os.Exit(1)
		}
	}()

	orchestrator := usage.NewOrchestrator(temporalClient, logger)
	serverLogger := logger.With("component", "usage.http")
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: usage.NewServer(reporter, scheduler, orchestrator, contentStore, settingsStore, serverLogger).Router(),
	}

	go func() {
		serverLogger.Info("admin API listening", "addr", cfg.HTTPAddr, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverLogger.Error("admin server error", "error", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(serverLogger, server)
}

func waitForShutdown(logger *slog.Logger, server *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return
	}
	logger.Info("telemetryd stopped")
}
