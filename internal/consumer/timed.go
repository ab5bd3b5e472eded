package consumer

import (
	"context"
	"errors"
	"log/slog"
	"loadharness/internal/broker"
	"loadharness/internal/observability"
	"time"
)

// MetricsRecorder is an optional interface for recording handler metrics.
type MetricsRecorder interface {
	RecordMessageHandled(ctx context.Context, outcome string, durationSeconds float64)
}

type timed struct {
	next    Handler
	metrics MetricsRecorder
	logger  *slog.Logger
}

// Timed wraps next, logging and recording how long each message took,
// whether it succeeded or not. metrics may be nil.
func Timed(next Handler, metrics MetricsRecorder) Handler {
	return &timed{
		next:    next,
		metrics: metrics,
		logger:  slog.With("component", "listener"),
	}
}

func (t *timed) Handle(ctx context.Context, msg broker.Message) error {
	start := time.Now()
	err := t.next.Handle(ctx, msg)
	duration := time.Since(start)

	outcome := outcomeOf(err)
	t.logger.Info("Message listener took",
		"duration_ms", duration.Milliseconds(),
		"key", msg.Key,
		"message_id", msg.ID,
		"outcome", outcome,
	)
	if t.metrics != nil {
		t.metrics.RecordMessageHandled(ctx, outcome, duration.Seconds())
	}
	return err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeProcessed
	case errors.Is(err, ErrSimulatedFault):
		return observability.OutcomeFault
	default:
		return observability.OutcomeError
	}
}
