package dispatcher

import (
	"context"
	"errors"
	"loadharness/internal/broker"
	"loadharness/internal/testutil"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingSink counts calls and tracks the peak number of concurrent calls.
type recordingSink struct {
	latency time.Duration
	fail    func(call int64) error

	calls     atomic.Int64
	successes atomic.Int64
	current   atomic.Int64
	peak      atomic.Int64

	mu      sync.Mutex
	durable []bool
	keys    []string
}

func (s *recordingSink) Deliver(ctx context.Context, msg broker.Message, durable bool) error {
	call := s.calls.Add(1)
	now := s.current.Add(1)
	defer s.current.Add(-1)
	for {
		peak := s.peak.Load()
		if now <= peak || s.peak.CompareAndSwap(peak, now) {
			break
		}
	}

	s.mu.Lock()
	s.durable = append(s.durable, durable)
	s.keys = append(s.keys, msg.Key)
	s.mu.Unlock()

	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	if s.fail != nil {
		if err := s.fail(call); err != nil {
			return err
		}
	}
	s.successes.Add(1)
	return nil
}

func failFirst(n int64) func(int64) error {
	return func(call int64) error {
		if call <= n {
			return errors.New("connection refused")
		}
		return nil
	}
}

func testMessage() broker.Message {
	return broker.Message{Key: "orders", Payload: []byte("aaaa")}
}

func TestEngine_ZeroTargetReturnsImmediately(t *testing.T) {
	t.Parallel()
	for _, target := range []int{0, -5} {
		sink := &recordingSink{}
		e := New(sink, Config{PoolSize: 4}, nil)

		done := testutil.Run(func() error {
			return e.Dispatch(context.Background(), Request{Message: testMessage(), Target: target})
		})
		if err := testutil.MustFinishWithin(t, done, time.Second); err != nil {
			t.Fatalf("Dispatch(target=%d) returned %v", target, err)
		}
		if sink.calls.Load() != 0 {
			t.Errorf("target=%d: expected no sink calls, got %d", target, sink.calls.Load())
		}
		if e.Stats().Batches != 0 {
			t.Errorf("target=%d: expected no batch recorded, got %d", target, e.Stats().Batches)
		}
	}
}

func TestEngine_ExactTargetWithHealthySink(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		poolSize int
		target   int
	}{
		{"single", 4, 1},
		{"smaller than pool", 4, 3},
		{"many", 4, 250},
		{"pool of one", 1, 20},
		{"wide pool", 16, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sink := &recordingSink{}
			e := New(sink, Config{PoolSize: tt.poolSize}, nil)

			if err := e.Dispatch(context.Background(), Request{Message: testMessage(), Target: tt.target}); err != nil {
				t.Fatalf("Dispatch returned %v", err)
			}

			if got := sink.calls.Load(); got != int64(tt.target) {
				t.Errorf("expected %d sink calls, got %d", tt.target, got)
			}
			stats := e.Stats()
			if stats.Delivered != int64(tt.target) || stats.Attempts != int64(tt.target) {
				t.Errorf("unexpected stats: %+v", stats)
			}
			if stats.Failed != 0 || stats.InFlight != 0 {
				t.Errorf("expected no failures and nothing in flight, got %+v", stats)
			}
			if stats.Batches != 1 {
				t.Errorf("expected 1 batch, got %d", stats.Batches)
			}
		})
	}
}

func TestEngine_RetriesSingleFailure(t *testing.T) {
	t.Parallel()
	for _, target := range []int{1, 2, 4, 30} {
		sink := &recordingSink{fail: failFirst(1)}
		e := New(sink, Config{PoolSize: 4}, nil)

		if err := e.Dispatch(context.Background(), Request{Message: testMessage(), Target: target}); err != nil {
			t.Fatalf("target=%d: Dispatch returned %v", target, err)
		}

		if got := sink.calls.Load(); got != int64(target+1) {
			t.Errorf("target=%d: expected %d sink calls, got %d", target, target+1, got)
		}
		if got := sink.successes.Load(); got != int64(target) {
			t.Errorf("target=%d: expected %d successes, got %d", target, target, got)
		}
		if stats := e.Stats(); stats.Failed != 1 || stats.Delivered != int64(target) {
			t.Errorf("target=%d: unexpected stats %+v", target, stats)
		}
	}
}

func TestEngine_RetriesSeveralFailures(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{fail: failFirst(7), latency: time.Millisecond}
	e := New(sink, Config{PoolSize: 3}, nil)

	if err := e.Dispatch(context.Background(), Request{Message: testMessage(), Target: 10}); err != nil {
		t.Fatalf("Dispatch returned %v", err)
	}
	if got := sink.successes.Load(); got != 10 {
		t.Errorf("expected exactly 10 successful deliveries, got %d", got)
	}
	if got := sink.calls.Load(); got != 17 {
		t.Errorf("expected 17 sink calls, got %d", got)
	}
}

func TestEngine_NeverExceedsPoolSize(t *testing.T) {
	t.Parallel()
	for _, poolSize := range []int{1, 2, 4, 7} {
		sink := &recordingSink{latency: 2 * time.Millisecond}
		e := New(sink, Config{PoolSize: poolSize}, nil)

		if err := e.Dispatch(context.Background(), Request{Message: testMessage(), Target: 40}); err != nil {
			t.Fatalf("pool=%d: Dispatch returned %v", poolSize, err)
		}
		if peak := sink.peak.Load(); peak > int64(poolSize) {
			t.Errorf("pool=%d: observed %d concurrent deliveries", poolSize, peak)
		}
	}
}

func TestEngine_PoolOfOneSerializes(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{latency: 10 * time.Millisecond}
	e := New(sink, Config{PoolSize: 1}, nil)

	if err := e.Dispatch(context.Background(), Request{Message: testMessage(), Target: 3}); err != nil {
		t.Fatalf("Dispatch returned %v", err)
	}
	if peak := sink.peak.Load(); peak != 1 {
		t.Errorf("expected strictly serialized deliveries, peak concurrency %d", peak)
	}
	if sink.calls.Load() != 3 {
		t.Errorf("expected 3 sink calls, got %d", sink.calls.Load())
	}
}

func TestEngine_FailingSinkNeverReturns(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{fail: func(int64) error { return errors.New("broker down") }, latency: time.Millisecond}
	e := New(sink, Config{PoolSize: 2}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := testutil.Run(func() error {
		return e.Dispatch(ctx, Request{Message: testMessage(), Target: 5})
	})

	testutil.MustNotFinishWithin(t, done, 200*time.Millisecond)
	if sink.calls.Load() <= 5 {
		t.Errorf("expected the engine to keep retrying, only %d calls", sink.calls.Load())
	}

	cancel()
	err := testutil.MustFinishWithin(t, done, 5*time.Second)
	if !errors.Is(err, ErrInterrupted) {
		t.Errorf("expected ErrInterrupted, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected cause context.Canceled, got %v", err)
	}
	if e.Stats().Batches != 0 {
		t.Error("interrupted dispatch must not count as a batch")
	}
}

func TestEngine_SlotTimeoutRetriesReservation(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{latency: 60 * time.Millisecond}
	e := New(sink, Config{PoolSize: 1, SlotTimeout: 10 * time.Millisecond}, nil)

	if err := e.Dispatch(context.Background(), Request{Message: testMessage(), Target: 2}); err != nil {
		t.Fatalf("Dispatch returned %v", err)
	}
	stats := e.Stats()
	if stats.SlotWaits == 0 {
		t.Error("expected at least one slot wait")
	}
	if sink.calls.Load() != 2 {
		t.Errorf("slot waits must not count as sends: expected 2 sink calls, got %d", sink.calls.Load())
	}
}

func TestEngine_DrainTimeoutIsSoftFailure(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var calls atomic.Int64
	sink := broker.SinkFunc(func(ctx context.Context, msg broker.Message, durable bool) error {
		calls.Add(1)
		<-release
		return nil
	})
	e := New(sink, Config{PoolSize: 2, DrainTimeout: 30 * time.Millisecond}, nil)

	done := testutil.Run(func() error {
		return e.Dispatch(context.Background(), Request{Message: testMessage(), Target: 2})
	})
	if err := testutil.MustFinishWithin(t, done, 5*time.Second); err != nil {
		t.Fatalf("expected normal return after drain timeout, got %v", err)
	}
	if got := e.Stats().InFlight; got != 2 {
		t.Errorf("expected 2 unconfirmed deliveries in flight, got %d", got)
	}

	close(release)
	testutil.MustWaitFor(t, func() bool { return e.Stats().Delivered == 2 }, testutil.WithTimeout(5*time.Second))
	if calls.Load() != 2 {
		t.Errorf("expected 2 sink calls, got %d", calls.Load())
	}
}

func TestEngine_InterruptedWhileWaitingForSlot(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	var delivered atomic.Int64
	sink := broker.SinkFunc(func(ctx context.Context, msg broker.Message, durable bool) error {
		started <- struct{}{}
		<-release
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delivered.Add(1)
		return nil
	})
	e := New(sink, Config{PoolSize: 1, SlotTimeout: time.Minute}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := testutil.Run(func() error {
		return e.Dispatch(ctx, Request{Message: testMessage(), Target: 3})
	})

	<-started
	cancel()
	err := testutil.MustFinishWithin(t, done, 5*time.Second)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}

	// The delivery already handed to a worker runs to completion and is
	// not cancelled along with the caller.
	close(release)
	testutil.MustWaitFor(t, func() bool { return delivered.Load() == 1 }, testutil.WithTimeout(5*time.Second))
	testutil.MustWaitFor(t, func() bool { return e.Stats().InFlight == 0 }, testutil.WithTimeout(5*time.Second))
}

func TestEngine_AlreadyCancelledContext(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	e := New(sink, Config{PoolSize: 4}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Dispatch(ctx, Request{Message: testMessage(), Target: 10})
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if sink.calls.Load() != 0 {
		t.Errorf("expected no deliveries, got %d", sink.calls.Load())
	}
}

func TestEngine_PanickingSinkIsRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	sink := broker.SinkFunc(func(ctx context.Context, msg broker.Message, durable bool) error {
		if calls.Add(1) == 1 {
			panic("codec exploded")
		}
		return nil
	})
	e := New(sink, Config{PoolSize: 2}, nil)

	if err := e.Dispatch(context.Background(), Request{Message: testMessage(), Target: 3}); err != nil {
		t.Fatalf("Dispatch returned %v", err)
	}
	if calls.Load() != 4 {
		t.Errorf("expected 4 sink calls, got %d", calls.Load())
	}
	if e.Stats().Failed != 1 {
		t.Errorf("expected the panic to count as one failure, got %d", e.Stats().Failed)
	}
}

func TestEngine_PassesMessageAndDurability(t *testing.T) {
	t.Parallel()
	for _, durable := range []bool{true, false} {
		sink := &recordingSink{}
		e := New(sink, Config{PoolSize: 2}, nil)

		if err := e.Dispatch(context.Background(), Request{Message: testMessage(), Target: 5, Durable: durable}); err != nil {
			t.Fatalf("Dispatch returned %v", err)
		}

		sink.mu.Lock()
		for i, d := range sink.durable {
			if d != durable {
				t.Errorf("delivery %d: durable=%v, want %v", i, d, durable)
			}
			if sink.keys[i] != "orders" {
				t.Errorf("delivery %d: key=%q, want orders", i, sink.keys[i])
			}
		}
		sink.mu.Unlock()
	}
}

func TestEngine_ConcurrentBatches(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{latency: time.Millisecond}
	e := New(sink, Config{PoolSize: 3}, nil)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Dispatch(context.Background(), Request{Message: testMessage(), Target: 15}); err != nil {
				t.Errorf("Dispatch returned %v", err)
			}
		}()
	}
	wg.Wait()

	if got := sink.calls.Load(); got != 60 {
		t.Errorf("expected 60 sink calls, got %d", got)
	}
	if got := e.Stats().Batches; got != 4 {
		t.Errorf("expected 4 batches, got %d", got)
	}
}

type countingRecorder struct {
	attempts, delivered, failed, slotWaits, batches atomic.Int64
	inFlight                                        atomic.Int64
}

func (r *countingRecorder) RecordDispatchAttempt(context.Context) { r.attempts.Add(1) }
func (r *countingRecorder) RecordDispatchDelivered(context.Context, float64) {
	r.delivered.Add(1)
}
func (r *countingRecorder) RecordDispatchFailed(context.Context)   { r.failed.Add(1) }
func (r *countingRecorder) RecordDispatchSlotWait(context.Context) { r.slotWaits.Add(1) }
func (r *countingRecorder) RecordDispatchInFlight(_ context.Context, delta int64) {
	r.inFlight.Add(delta)
}
func (r *countingRecorder) RecordDispatchBatch(context.Context, int, float64) { r.batches.Add(1) }

func TestEngine_RecordsMetrics(t *testing.T) {
	t.Parallel()
	rec := &countingRecorder{}
	sink := &recordingSink{fail: failFirst(2)}
	e := New(sink, Config{PoolSize: 4}, rec)

	if err := e.Dispatch(context.Background(), Request{Message: testMessage(), Target: 6}); err != nil {
		t.Fatalf("Dispatch returned %v", err)
	}

	if rec.attempts.Load() != 8 || rec.delivered.Load() != 6 || rec.failed.Load() != 2 {
		t.Errorf("unexpected metrics: attempts=%d delivered=%d failed=%d",
			rec.attempts.Load(), rec.delivered.Load(), rec.failed.Load())
	}
	if rec.batches.Load() != 1 {
		t.Errorf("expected 1 batch metric, got %d", rec.batches.Load())
	}
	if rec.inFlight.Load() != 0 {
		t.Errorf("in-flight gauge should return to zero, got %d", rec.inFlight.Load())
	}
}
