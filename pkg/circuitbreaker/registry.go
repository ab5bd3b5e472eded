package circuitbreaker

import (
	"sort"
	"sync"
)

// Registry holds one breaker per named resource.
// Breakers are created lazily on first access.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a new registry with the given breaker config.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// Get returns the breaker for name, creating one if needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, exists := r.breakers[name]
	r.mu.RUnlock()

	if exists {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if b, exists = r.breakers[name]; exists {
		return b
	}
	b = New(r.config)
	r.breakers[name] = b
	return b
}

// Tripped returns the names of breakers that are not closed, sorted, with
// their status.
func (r *Registry) Tripped() ([]string, map[string]Status) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	statuses := make(map[string]Status)
	for name, b := range r.breakers {
		s := b.Status()
		if s.State == Closed {
			continue
		}
		names = append(names, name)
		statuses[name] = s
	}
	sort.Strings(names)
	return names, statuses
}
