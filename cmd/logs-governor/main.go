package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/telemetrygov/logs-governor/internal/config"
	"github.com/telemetrygov/logs-governor/internal/encoding"
	"github.com/telemetrygov/logs-governor/internal/exporter"
	"github.com/telemetrygov/logs-governor/internal/health"
	"github.com/telemetrygov/logs-governor/internal/logging"
	"github.com/telemetrygov/logs-governor/internal/receiver"
	"github.com/telemetrygov/logs-governor/internal/stats"
	"github.com/telemetrygov/logs-governor/internal/telemetry"
	"github.com/telemetrygov/logs-governor/internal/uploader"
)

// version is set at build time via ldflags
var version = "dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, config.ErrVersionRequested) {
			os.Exit(0)
		}
		logging.Fatal("failed to load configuration", logging.F("error", err.Error()))
	}

	logging.SetLevel(toLevel(cfg.LogLevel))
	logging.SetResource(map[string]string{
		"service.name":    "logs-governor",
		"service.version": version,
	})

	// Set GOMEMLIMIT from the container memory limit when one is detected.
	if _, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(cfg.MemoryLimitRatio),
		memlimit.WithProvider(memlimit.FromCgroupHybrid),
	); err != nil {
		logging.Warn("could not set memory limit", logging.F("error", err.Error()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:        cfg.TelemetryEndpoint,
		Protocol:        cfg.TelemetryProtocol,
		Insecure:        cfg.TelemetryInsecure,
		Timeout:         cfg.TelemetryTimeout,
		PushInterval:    cfg.TelemetryPushInterval,
		Compression:     cfg.TelemetryCompression,
		Headers:         cfg.TelemetryHeaders,
		ShutdownTimeout: cfg.TelemetryShutdownTimeout,
	}, "logs-governor", version)
	if err != nil {
		logging.Fatal("failed to initialize telemetry", logging.F("error", err.Error()))
	}
	if tel.Enabled() {
		logging.SetHook(tel.NewLogHook())
	}

	client, err := uploader.New(cfg.UploaderConfig())
	if err != nil {
		logging.Fatal("failed to create upload client", logging.F("error", err.Error()))
	}
	defer client.Close()

	statsCollector := stats.New(cfg.StatsReportInterval)
	statsCollector.Start()

	encoder := encoding.New(cfg.EncoderConfig())

	node := exporter.New(exporter.Config{
		QueueSize: cfg.NodeQueueSize,
		Retry:     cfg.RetryPolicy(),
	}, encoder, client, statsCollector)
	node.Start()

	rcv := receiver.New(receiver.Config{
		Addr:               cfg.ReceiverAddr,
		Path:               cfg.ReceiverPath,
		MaxRequestBodySize: cfg.ReceiverMaxRequestBodySize,
		ReadTimeout:        cfg.ReceiverReadTimeout,
		ReadHeaderTimeout:  cfg.ReceiverReadHeaderTimeout,
		WriteTimeout:       cfg.ReceiverWriteTimeout,
		IdleTimeout:        cfg.ReceiverIdleTimeout,
	}, node)

	checker := health.New()
	checker.RegisterReadiness("export_node", func() error {
		if state := node.State(); state != exporter.StateRunning {
			return fmt.Errorf("node state is %s", state)
		}
		return nil
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/live", checker.LiveHandler())
	metricsMux.HandleFunc("/ready", checker.ReadyHandler())
	metricsServer := &http.Server{
		Addr:              cfg.StatsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(rcv.Start)
	g.Go(func() error {
		logging.Info("metrics endpoint started", logging.F("addr", cfg.StatsAddr, "path", "/metrics"))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	logging.Info("logs-governor started", logging.F(
		"receiver_addr", cfg.ReceiverAddr,
		"uploader_endpoint", cfg.UploaderEndpoint,
		"uploader_protocol", cfg.UploaderProtocol,
		"stats_addr", cfg.StatsAddr,
	))

	// Wait for shutdown signal or server failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logging.Info("shutting down", logging.F("signal", sig.String()))
	case <-gctx.Done():
		logging.Error("server failed, shutting down")
	}

	// Graceful shutdown: fail probes, stop ingest, drain the node, then close the rest.
	checker.SetShuttingDown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.NodeShutdownTimeout)
	defer shutdownCancel()

	if err := rcv.Stop(shutdownCtx); err != nil {
		logging.Error("receiver shutdown error", logging.F("error", err.Error()))
	}
	if err := node.Shutdown(shutdownCtx, time.Now().Add(cfg.NodeShutdownTimeout)); err != nil {
		logging.Error("node shutdown error", logging.F("error", err.Error()))
	}

	snap, err := node.Collect(shutdownCtx)
	if err == nil {
		logging.Info("final export counters", logging.F(
			"consumed", snap.Consumed,
			"exported", snap.Exported,
			"failed", snap.Failed,
		))
	}

	statsCollector.Stop()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("metrics server shutdown error", logging.F("error", err.Error()))
	}
	if err := g.Wait(); err != nil {
		logging.Error("server error", logging.F("error", err.Error()))
	}

	telCtx, telCancel := context.WithTimeout(context.Background(), tel.ShutdownTimeout())
	defer telCancel()
	if err := tel.Shutdown(telCtx); err != nil {
		logging.Error("telemetry shutdown error", logging.F("error", err.Error()))
	}

	logging.Info("shutdown complete")
}

func toLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
