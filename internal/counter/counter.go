// Package counter aggregates per-key processing statistics under unbounded
// concurrent updates.
package counter

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// KeyCounter tracks activity for one key. It is created on first observation
// and lives for the rest of the process.
type KeyCounter struct {
	key   string
	count atomic.Int64
	first time.Time

	// last is written without coordination between concurrent increments:
	// the visible value is some recent write, not necessarily the latest.
	last atomic.Int64 // unix nanoseconds
}

func newKeyCounter(key string, now time.Time) *KeyCounter {
	c := &KeyCounter{key: key, first: now}
	c.last.Store(now.UnixNano())
	return c
}

func (c *KeyCounter) increment(now time.Time) {
	c.count.Add(1)
	c.last.Store(now.UnixNano())
}

// Snapshot is a point-in-time view of a KeyCounter. Count and LastSeen are
// read separately and may be torn relative to each other.
type Snapshot struct {
	Key       string    `json:"key"`
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Elapsed is the time between the first and last observed activity.
func (s Snapshot) Elapsed() time.Duration {
	return s.LastSeen.Sub(s.FirstSeen)
}

// String renders the summary line logged for a key.
func (s Snapshot) String() string {
	return fmt.Sprintf("Key '%s' processed %d in %dms.", s.Key, s.Count, s.Elapsed().Milliseconds())
}

func (c *KeyCounter) snapshot() Snapshot {
	return Snapshot{
		Key:       c.key,
		Count:     c.count.Load(),
		FirstSeen: c.first,
		LastSeen:  time.Unix(0, c.last.Load()),
	}
}

// Counter maps keys to their KeyCounter. The zero value is not usable; call New.
type Counter struct {
	values sync.Map // string -> *KeyCounter
	now    func() time.Time
}

// New creates an empty Counter.
func New() *Counter {
	return &Counter{now: time.Now}
}

// Record notes one unit of activity for key. Concurrent first observations
// of a key converge on a single KeyCounter.
func (c *Counter) Record(key string) {
	v, ok := c.values.Load(key)
	if !ok {
		v, _ = c.values.LoadOrStore(key, newKeyCounter(key, c.now()))
	}
	v.(*KeyCounter).increment(c.now())
}

// Snapshot returns the current state for key, or false if key was never recorded.
func (c *Counter) Snapshot(key string) (Snapshot, bool) {
	v, ok := c.values.Load(key)
	if !ok {
		return Snapshot{}, false
	}
	return v.(*KeyCounter).snapshot(), true
}

// Snapshots returns the state of every recorded key, ordered by key.
func (c *Counter) Snapshots() []Snapshot {
	var out []Snapshot
	c.values.Range(func(_, v any) bool {
		out = append(out, v.(*KeyCounter).snapshot())
		return true
	})
	slices.SortFunc(out, func(a, b Snapshot) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out
}
