// Package dispatcher emits an exact number of broker deliveries through a
// fixed-size worker pool.
//
// Admission is optimistic: a delivery counts as sent when it is handed to a
// worker, and a failed delivery is un-counted so the admission loop issues a
// replacement. A semaphore sized to the pool bounds the number of deliveries
// in flight.
package dispatcher

import (
	"context"
	"errors"
	"loadharness/internal/broker"
)

// ErrInterrupted is returned when the caller's context ends while Dispatch
// waits for a free slot or for in-flight deliveries. Deliveries already handed
// to workers keep running.
var ErrInterrupted = errors.New("dispatch interrupted")

// Dispatcher emits batches of deliveries.
type Dispatcher interface {
	// Dispatch blocks until req.Target deliveries have been admitted and the
	// in-flight ones have settled or the drain timeout elapsed.
	Dispatch(ctx context.Context, req Request) error

	// Stats returns cumulative engine statistics.
	Stats() Stats
}

// Request describes one batch.
type Request struct {
	Message broker.Message // shared read-only by every delivery of the batch
	Target  int            // successful deliveries wanted; <= 0 is a no-op
	Durable bool
}

// Stats holds cumulative engine statistics across all batches.
type Stats struct {
	Batches   int64 `json:"batches"`   // Dispatch calls that returned normally
	Attempts  int64 `json:"attempts"`  // deliveries handed to workers
	Delivered int64 `json:"delivered"` // deliveries the sink accepted
	Failed    int64 `json:"failed"`    // deliveries the sink rejected (each one retried)
	SlotWaits int64 `json:"slotWaits"` // slot reservations that timed out
	InFlight  int64 `json:"inFlight"`  // deliveries currently running
}

// MetricsRecorder is an optional interface for recording engine metrics.
type MetricsRecorder interface {
	RecordDispatchAttempt(ctx context.Context)
	RecordDispatchDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatchFailed(ctx context.Context)
	RecordDispatchSlotWait(ctx context.Context)
	RecordDispatchInFlight(ctx context.Context, delta int64)
	RecordDispatchBatch(ctx context.Context, target int, durationSeconds float64)
}
