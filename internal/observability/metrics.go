package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics:
// - HTTP: latency, traffic and errors of the API surface
// - Dispatch: attempts, outcomes, backpressure (slot waits) and saturation (in flight)
// - Producer: requested load
// - Consumer: processed messages by outcome and processing latency
type Metrics struct {
	meter metric.Meter

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Dispatch engine metrics
	DispatchAttempts  metric.Int64Counter
	DispatchDelivered metric.Int64Counter
	DispatchFailed    metric.Int64Counter
	DispatchSlotWaits metric.Int64Counter
	DispatchInFlight  metric.Int64UpDownCounter
	DeliveryDuration  metric.Float64Histogram
	BatchDuration     metric.Float64Histogram
	BatchMessages     metric.Int64Counter

	// Producer metrics
	LoadRequests metric.Int64Counter
	LoadMessages metric.Int64Counter

	// Consumer metrics
	MessagesTotal      metric.Int64Counter
	ProcessingDuration metric.Float64Histogram
}

// NewMetrics creates all metrics backed by a Prometheus exporter on a private
// registry, and returns the handler serving that registry.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("loadharness")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Dispatch engine metrics
	m.DispatchAttempts, err = meter.Int64Counter(
		"dispatch_attempts_total",
		metric.WithDescription("Deliveries handed to dispatch workers"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatchDelivered, err = meter.Int64Counter(
		"dispatch_delivered_total",
		metric.WithDescription("Deliveries accepted by the broker"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatchFailed, err = meter.Int64Counter(
		"dispatch_failed_total",
		metric.WithDescription("Deliveries rejected by the broker and retried"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatchSlotWaits, err = meter.Int64Counter(
		"dispatch_slot_waits_total",
		metric.WithDescription("Slot reservations that timed out (backpressure)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatchInFlight, err = meter.Int64UpDownCounter(
		"dispatch_in_flight",
		metric.WithDescription("Deliveries currently running (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DeliveryDuration, err = meter.Float64Histogram(
		"dispatch_delivery_duration_seconds",
		metric.WithDescription("Latency of successful broker deliveries in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BatchDuration, err = meter.Float64Histogram(
		"dispatch_batch_duration_seconds",
		metric.WithDescription("Time to dispatch a whole batch in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BatchMessages, err = meter.Int64Counter(
		"dispatch_batch_messages_total",
		metric.WithDescription("Sum of batch targets dispatched"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Producer metrics
	m.LoadRequests, err = meter.Int64Counter(
		"producer_load_requests_total",
		metric.WithDescription("Load requests accepted by the producer"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.LoadMessages, err = meter.Int64Counter(
		"producer_load_messages_total",
		metric.WithDescription("Messages requested across all load requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Consumer metrics
	m.MessagesTotal, err = meter.Int64Counter(
		"consumer_messages_total",
		metric.WithDescription("Inbound messages handled, by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ProcessingDuration, err = meter.Float64Histogram(
		"consumer_processing_duration_seconds",
		metric.WithDescription("Time spent handling one inbound message in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordDispatchAttempt records a delivery handed to a worker.
func (m *Metrics) RecordDispatchAttempt(ctx context.Context) {
	m.DispatchAttempts.Add(ctx, 1)
}

// RecordDispatchDelivered records a successful delivery with its duration.
func (m *Metrics) RecordDispatchDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatchDelivered.Add(ctx, 1)
	m.DeliveryDuration.Record(ctx, durationSeconds)
}

// RecordDispatchFailed records a failed (and to be retried) delivery.
func (m *Metrics) RecordDispatchFailed(ctx context.Context) {
	m.DispatchFailed.Add(ctx, 1)
}

// RecordDispatchSlotWait records a slot reservation timeout.
func (m *Metrics) RecordDispatchSlotWait(ctx context.Context) {
	m.DispatchSlotWaits.Add(ctx, 1)
}

// RecordDispatchInFlight adjusts the in-flight gauge.
func (m *Metrics) RecordDispatchInFlight(ctx context.Context, delta int64) {
	m.DispatchInFlight.Add(ctx, delta)
}

// RecordDispatchBatch records a completed batch.
func (m *Metrics) RecordDispatchBatch(ctx context.Context, target int, durationSeconds float64) {
	m.BatchDuration.Record(ctx, durationSeconds)
	m.BatchMessages.Add(ctx, int64(target))
}

// RecordLoadRequest records a producer load request.
func (m *Metrics) RecordLoadRequest(ctx context.Context, messages int, durable bool) {
	attrs := metric.WithAttributes(durableAttr(durable))
	m.LoadRequests.Add(ctx, 1, attrs)
	m.LoadMessages.Add(ctx, int64(messages), attrs)
}

// RecordMessageHandled records one inbound message and how it ended.
func (m *Metrics) RecordMessageHandled(ctx context.Context, outcome string, durationSeconds float64) {
	attrs := metric.WithAttributes(outcomeAttr(outcome))
	m.MessagesTotal.Add(ctx, 1, attrs)
	m.ProcessingDuration.Record(ctx, durationSeconds, attrs)
}
