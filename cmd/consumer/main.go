// consumer reads load messages from Kafka, forwards synthetic batches and
// exposes per-key activity counters over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"loadharness/internal/api"
	"loadharness/internal/broker"
	"loadharness/internal/config"
	"loadharness/internal/consumer"
	"loadharness/internal/counter"
	"loadharness/internal/dispatcher"
	"loadharness/internal/health"
	"loadharness/internal/observability"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	svcCfg := config.LoadServiceConfig("8081", "9091")
	brokerCfg := broker.LoadConfigFromEnv()
	dispatchCfg := dispatcher.LoadConfigFromEnv(dispatcher.ForwardSlotTimeout)

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	source := broker.NewKafkaSource(brokerCfg, brokerCfg.Topic)
	forwardSink := broker.NewKafkaSink(brokerCfg, brokerCfg.ForwardTopic)
	defer forwardSink.Close()

	slog.Info("Kafka consumer configured",
		"brokers", brokerCfg.Brokers,
		"topic", brokerCfg.Topic,
		"forward_topic", brokerCfg.ForwardTopic,
		"group_id", brokerCfg.GroupID,
	)

	counters := counter.New()
	forward := dispatcher.New(forwardSink, dispatchCfg, metrics)
	listener := consumer.Timed(consumer.NewListener(forward, counters), metrics)
	runner := consumer.NewRunner(source, listener, nil)

	healthChecker := health.NewChecker(map[string]health.ReadinessChecker{
		"broker":         source,
		"forward-broker": forwardSink,
	})

	router := api.NewConsumerRouter(api.ConsumerRouterConfig{
		Counter:       counters,
		Dispatcher:    forward,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server and consumer errors
	serverErr := make(chan error, 3)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start consuming
	consumeCtx, stopConsuming := context.WithCancel(ctx)
	defer stopConsuming()
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		if err := runner.Run(consumeCtx); err != nil {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var failure error
	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case failure = <-serverErr:
		slog.Error("Service component failed", "error", failure)
	}

	// Phase 1: Mark service as unhealthy
	healthChecker.SetShuttingDown()

	// Phase 2: Stop consuming. The message in progress is left uncommitted
	// and will be redelivered to the group.
	slog.Info("Stopping consumer")
	stopConsuming()
	<-runnerDone
	if err := source.Close(); err != nil {
		slog.Warn("Kafka source close error", "error", err)
	}

	// Phase 3: Stop HTTP servers
	slog.Info("Starting graceful shutdown")
	shutdown(10 * time.Second)

	stats := forward.Stats()
	slog.Info("Forward dispatcher stats",
		"batches", stats.Batches,
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"slot_waits", stats.SlotWaits,
	)
	for _, snap := range counters.Snapshots() {
		slog.Info(snap.String())
	}

	slog.Info("Shutdown complete")
	return failure
}
