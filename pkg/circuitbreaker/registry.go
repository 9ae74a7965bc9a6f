package circuitbreaker

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry hands out one breaker per key (e.g. per API resource).
// Breakers are created lazily on first access.
type Registry struct {
	breakers *xsync.MapOf[string, *Breaker]
	config   Config
}

// NewRegistry creates a new registry with the given default config.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: xsync.NewMapOf[string, *Breaker](),
		config:   cfg,
	}
}

// Get returns the circuit breaker for a key, creating one if needed.
func (r *Registry) Get(key string) *Breaker {
	b, _ := r.breakers.LoadOrCompute(key, func() *Breaker {
		return New(r.config)
	})
	return b
}

// Stats holds registry statistics.
type Stats struct {
	Total    int
	Open     int
	HalfOpen int
	Closed   int
}

// Stats returns statistics about the registry.
func (r *Registry) Stats() Stats {
	var stats Stats
	r.breakers.Range(func(_ string, b *Breaker) bool {
		stats.Total++
		switch b.State() {
		case Open:
			stats.Open++
		case HalfOpen:
			stats.HalfOpen++
		case Closed:
			stats.Closed++
		}
		return true
	})
	return stats
}

// Keys returns all registered keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, r.breakers.Size())
	r.breakers.Range(func(k string, _ *Breaker) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}
