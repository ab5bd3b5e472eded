package consumer

import (
	"context"
	"errors"
	"log/slog"
	"loadharness/internal/broker"
	"loadharness/pkg/backoff"
)

// Source yields inbound messages and acknowledges them once handled.
type Source interface {
	Fetch(ctx context.Context) (broker.Message, error)
	Commit(ctx context.Context, msg broker.Message) error
}

// Runner pulls messages from a Source and feeds them to a Handler one at a
// time.
type Runner struct {
	source  Source
	handler Handler
	backoff *backoff.Config
	logger  *slog.Logger
}

// NewRunner creates a runner. A nil backoff uses the package defaults.
func NewRunner(source Source, handler Handler, bo *backoff.Config) *Runner {
	return &Runner{
		source:  source,
		handler: handler,
		backoff: bo,
		logger:  slog.With("component", "runner"),
	}
}

// Run consumes until ctx is done, then returns nil. A message that was being
// handled when ctx ended is left uncommitted so the group redelivers it.
//
// Failed messages, simulated faults included, are logged and committed.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Consumer started")
	defer r.logger.Info("Consumer stopped")

	attempt := 0
	for {
		msg, err := r.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			r.logger.Warn("Fetch failed", "error", err, "attempt", attempt)
			if backoff.Sleep(ctx, attempt, r.backoff) != nil {
				return nil
			}
			continue
		}
		attempt = 0

		if err := r.handler.Handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logFailure(msg, err)
		}

		if err := r.source.Commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("Commit failed",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

func (r *Runner) logFailure(msg broker.Message, err error) {
	attrs := []any{
		"key", msg.Key,
		"message_id", msg.ID,
		"offset", msg.Offset,
	}
	if errors.Is(err, ErrSimulatedFault) {
		r.logger.Info("Message failed on request", attrs...)
		return
	}
	r.logger.Error("Message handling failed", append(attrs, "error", err)...)
}
