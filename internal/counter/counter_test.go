package counter

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// stepClock returns a strictly increasing time on every call.
type stepClock struct {
	mu   sync.Mutex
	next time.Time
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(time.Millisecond)
	return t
}

func TestCounter_SnapshotOfUnknownKeyIsAbsent(t *testing.T) {
	t.Parallel()
	c := New()
	c.Record("known")

	snap, ok := c.Snapshot("unknown")
	if ok {
		t.Fatalf("expected absent, got %+v", snap)
	}
	if snap != (Snapshot{}) {
		t.Errorf("absent result should carry no data, got %+v", snap)
	}
}

func TestCounter_ConcurrentRecordsLoseNothing(t *testing.T) {
	t.Parallel()
	const goroutines = 64
	const perGoroutine = 250

	c := New()
	start := make(chan struct{})
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for range perGoroutine {
				c.Record("hot")
			}
		}()
	}

	before := time.Now()
	close(start)
	wg.Wait()

	snap, ok := c.Snapshot("hot")
	if !ok {
		t.Fatal("expected key to be present")
	}
	if snap.Count != goroutines*perGoroutine {
		t.Errorf("expected count %d, got %d", goroutines*perGoroutine, snap.Count)
	}
	if snap.FirstSeen.Before(before) {
		t.Errorf("first seen %v predates the first record call %v", snap.FirstSeen, before)
	}
	if snap.LastSeen.Before(snap.FirstSeen) {
		t.Errorf("last seen %v before first seen %v", snap.LastSeen, snap.FirstSeen)
	}
}

func TestCounter_ConcurrentFirstTouchKeepsOneInstance(t *testing.T) {
	t.Parallel()
	for round := range 50 {
		c := New()
		key := fmt.Sprintf("k-%d", round)

		start := make(chan struct{})
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				c.Record(key)
			}()
		}
		close(start)
		wg.Wait()

		snap, _ := c.Snapshot(key)
		if snap.Count != 16 {
			t.Fatalf("round %d: expected 16, got %d (a racing instance was lost)", round, snap.Count)
		}
	}
}

func TestCounter_FirstSeenIsFixed(t *testing.T) {
	t.Parallel()
	clock := &stepClock{next: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := &Counter{now: clock.now}

	c.Record("k")
	first, _ := c.Snapshot("k")
	for range 10 {
		c.Record("k")
	}
	later, _ := c.Snapshot("k")

	if !later.FirstSeen.Equal(first.FirstSeen) {
		t.Errorf("first seen moved from %v to %v", first.FirstSeen, later.FirstSeen)
	}
	if !later.LastSeen.After(first.LastSeen) {
		t.Errorf("last seen did not advance: %v -> %v", first.LastSeen, later.LastSeen)
	}
	if later.Count != 11 {
		t.Errorf("expected 11, got %d", later.Count)
	}
}

func TestCounter_SequentialMatchesConcurrent(t *testing.T) {
	t.Parallel()
	const n = 500

	sequential := New()
	for range n {
		sequential.Record("k")
	}

	concurrent := New()
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			concurrent.Record("k")
		}()
	}
	wg.Wait()

	s, _ := sequential.Snapshot("k")
	p, _ := concurrent.Snapshot("k")
	if s.Count != n || p.Count != n {
		t.Errorf("expected both counts to be %d, got sequential=%d concurrent=%d", n, s.Count, p.Count)
	}
}

func TestCounter_KeysAreIndependent(t *testing.T) {
	t.Parallel()
	c := New()
	for i := range 30 {
		c.Record(fmt.Sprintf("key-%d", i%3))
	}

	for i := range 3 {
		snap, ok := c.Snapshot(fmt.Sprintf("key-%d", i))
		if !ok || snap.Count != 10 {
			t.Errorf("key-%d: expected count 10, got %+v (present=%v)", i, snap, ok)
		}
	}
}

func TestCounter_SnapshotsSortedByKey(t *testing.T) {
	t.Parallel()
	clock := &stepClock{next: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := &Counter{now: clock.now}

	for _, k := range []string{"payments", "audit", "orders", "audit"} {
		c.Record(k)
	}

	var keys []string
	counts := map[string]int64{}
	for _, s := range c.Snapshots() {
		keys = append(keys, s.Key)
		counts[s.Key] = s.Count
	}
	if diff := cmp.Diff([]string{"audit", "orders", "payments"}, keys); diff != "" {
		t.Errorf("Snapshots() key order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int64{"audit": 2, "orders": 1, "payments": 1}, counts); diff != "" {
		t.Errorf("Snapshots() counts mismatch (-want +got):\n%s", diff)
	}
}

func TestCounter_SnapshotsEmpty(t *testing.T) {
	t.Parallel()
	if got := New().Snapshots(); len(got) != 0 {
		t.Errorf("expected no snapshots, got %v", got)
	}
}

func TestSnapshot_String(t *testing.T) {
	t.Parallel()
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Snapshot{Key: "orders", Count: 42, FirstSeen: first, LastSeen: first.Add(1500 * time.Millisecond)}

	if got, want := s.String(), "Key 'orders' processed 42 in 1500ms."; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
