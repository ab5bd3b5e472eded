// producer is the HTTP service that emits batches of load messages to Kafka.
package main

import (
	"context"
	"errors"
	"log/slog"
	"loadharness/internal/api"
	"loadharness/internal/broker"
	"loadharness/internal/config"
	"loadharness/internal/dispatcher"
	"loadharness/internal/health"
	"loadharness/internal/observability"
	"loadharness/internal/producer"
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
	svcCfg := config.LoadServiceConfig("8080", "9090")
	brokerCfg := broker.LoadConfigFromEnv()
	dispatchCfg := dispatcher.LoadConfigFromEnv(dispatcher.ProducerSlotTimeout)

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Create Kafka sink for the inbound topic
	sink := broker.NewKafkaSink(brokerCfg, brokerCfg.Topic)
	defer sink.Close()

	slog.Info("Kafka sink configured",
		"brokers", brokerCfg.Brokers,
		"topic", brokerCfg.Topic,
	)

	engine := dispatcher.New(sink, dispatchCfg, metrics)
	producerService := producer.NewService(engine, metrics)

	healthChecker := health.NewChecker(map[string]health.ReadinessChecker{
		"broker": sink,
	})

	router := api.NewProducerRouter(api.ProducerRouterConfig{
		Producer:      producerService,
		Dispatcher:    engine,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// A load request holds its connection until the whole batch is dispatched.
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Minute,
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

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	// Start API server
	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start metrics server
	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Stop accepting requests; running load requests get the grace period
	// to finish their batch, the rest is cut off and their clients see a reset.
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	stats := engine.Stats()
	slog.Info("Dispatcher stats",
		"batches", stats.Batches,
		"attempts", stats.Attempts,
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"slot_waits", stats.SlotWaits,
	)

	// Phase 3: the deferred sink Close flushes pending writes
	slog.Info("Shutdown complete")
	return nil
}
