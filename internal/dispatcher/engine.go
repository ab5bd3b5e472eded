package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"loadharness/internal/broker"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Engine drives a broker.Sink until a batch target is reached.
// Each Dispatch call owns its own pool and slots; an Engine may serve
// concurrent calls.
type Engine struct {
	sink    broker.Sink
	config  Config
	logger  *slog.Logger
	metrics MetricsRecorder

	batches   atomic.Int64
	attempts  atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	slotWaits atomic.Int64
	inFlight  atomic.Int64
}

// batch is the state shared between the admission loop and the workers of
// one Dispatch call.
type batch struct {
	ctx      context.Context // detached from caller cancellation
	message  broker.Message
	durable  bool
	sent     atomic.Int64 // optimistic success counter
	slots    *semaphore.Weighted
	inflight sync.WaitGroup
}

// New creates a dispatch engine. metrics may be nil.
func New(sink broker.Sink, cfg Config, metrics MetricsRecorder) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		sink:    sink,
		config:  cfg,
		logger:  slog.With("component", "dispatcher"),
		metrics: metrics,
	}
}

// Dispatch admits deliveries of req.Message until req.Target of them are
// counted as sent, retrying every failure. It never gives up on a failing
// sink; only ctx ends such a call.
func (e *Engine) Dispatch(ctx context.Context, req Request) error {
	if req.Target <= 0 {
		return nil
	}

	start := time.Now()
	target := int64(req.Target)
	b := &batch{
		ctx:     context.WithoutCancel(ctx),
		message: req.Message,
		durable: req.Durable,
		slots:   semaphore.NewWeighted(int64(e.config.PoolSize)),
	}

	work := make(chan *batch)
	defer close(work)
	for range e.config.PoolSize {
		go e.worker(work)
	}

	for {
		for b.sent.Load() < target {
			ok, err := e.reserve(ctx, b.slots)
			if err != nil {
				return fmt.Errorf("%w: waiting for free slot: %w", ErrInterrupted, err)
			}
			if !ok {
				e.slotWaits.Add(1)
				if e.metrics != nil {
					e.metrics.RecordDispatchSlotWait(ctx)
				}
				e.logger.Info("Waiting for free slot", "key", req.Message.Key, "sent", b.sent.Load(), "target", target)
				continue
			}

			b.sent.Add(1)
			b.inflight.Add(1)
			e.attempts.Add(1)
			if e.metrics != nil {
				e.metrics.RecordDispatchAttempt(ctx)
			}
			work <- b
		}

		settled, err := e.drain(ctx, &b.inflight)
		if err != nil {
			return fmt.Errorf("%w: waiting for in-flight deliveries: %w", ErrInterrupted, err)
		}
		if !settled {
			e.logger.Warn("Unable to confirm all deliveries",
				"key", req.Message.Key,
				"target", target,
				"timeout", e.config.DrainTimeout,
			)
			break
		}
		// Failures that settled after the last admission un-counted
		// themselves; go round again for their replacements.
		if b.sent.Load() >= target {
			break
		}
	}

	duration := time.Since(start)
	e.batches.Add(1)
	if e.metrics != nil {
		e.metrics.RecordDispatchBatch(ctx, req.Target, duration.Seconds())
	}
	e.logger.Debug("Batch dispatched", "key", req.Message.Key, "target", target, "duration", duration)
	return nil
}

// Stats returns cumulative engine statistics.
func (e *Engine) Stats() Stats {
	return Stats{
		Batches:   e.batches.Load(),
		Attempts:  e.attempts.Load(),
		Delivered: e.delivered.Load(),
		Failed:    e.failed.Load(),
		SlotWaits: e.slotWaits.Load(),
		InFlight:  e.inFlight.Load(),
	}
}

// reserve waits up to SlotTimeout for a slot. It reports false on timeout
// and an error only when ctx itself is done.
func (e *Engine) reserve(ctx context.Context, slots *semaphore.Weighted) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.config.SlotTimeout)
	defer cancel()

	if err := slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

// drain waits up to DrainTimeout for every admitted delivery to settle.
func (e *Engine) drain(ctx context.Context, inflight *sync.WaitGroup) (bool, error) {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(e.config.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// worker runs deliveries until the batch closes its work channel.
func (e *Engine) worker(work <-chan *batch) {
	for b := range work {
		e.run(b)
	}
}

// run performs one delivery. The slot is released only after the sink
// call returns, whatever its outcome.
func (e *Engine) run(b *batch) {
	defer b.inflight.Done()
	defer b.slots.Release(1)

	e.inFlight.Add(1)
	if e.metrics != nil {
		e.metrics.RecordDispatchInFlight(b.ctx, 1)
	}
	defer func() {
		e.inFlight.Add(-1)
		if e.metrics != nil {
			e.metrics.RecordDispatchInFlight(b.ctx, -1)
		}
	}()

	start := time.Now()
	if err := e.deliver(b); err != nil {
		b.sent.Add(-1) // will try again later
		e.failed.Add(1)
		if e.metrics != nil {
			e.metrics.RecordDispatchFailed(b.ctx)
		}
		e.logger.Warn("Delivery failed", "key", b.message.Key, "error", err)
		return
	}

	e.delivered.Add(1)
	if e.metrics != nil {
		e.metrics.RecordDispatchDelivered(b.ctx, time.Since(start).Seconds())
	}
}

// deliver calls the sink, turning a panic into an ordinary failure.
func (e *Engine) deliver(b *batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return e.sink.Deliver(b.ctx, b.message, b.durable)
}

// Verify Engine implements Dispatcher
var _ Dispatcher = (*Engine)(nil)
