package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ProviderHealth is a point-in-time view of one upstream.
type ProviderHealth struct {
	Name         string
	CircuitState gobreaker.State
	Counts       gobreaker.Counts

	// Trips counts transitions into the open state since start.
	Trips      int
	LastTripAt *time.Time

	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string
}

// IsHealthy reports a closed circuit.
func (h *ProviderHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded reports a half-open circuit.
func (h *ProviderHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy reports an open circuit.
func (h *ProviderHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Registry keeps the health of every provider client built with it. It also
// observes fetch outcomes, so it sees decode failures the breaker does not.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*registeredProvider
}

type registeredProvider struct {
	client        *Client
	trips         int
	lastTripAt    *time.Time
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*registeredProvider),
	}
}

// Register adds a client under name, replacing any earlier one.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = &registeredProvider{client: client}
}

// RecordSuccess stamps the last success of a registered provider.
func (r *Registry) RecordSuccess(name string) {
	r.update(name, func(p *registeredProvider, now time.Time) {
		p.lastSuccessAt = &now
	})
}

// RecordFailure stamps the last failure of a registered provider.
func (r *Registry) RecordFailure(name string, err error) {
	r.update(name, func(p *registeredProvider, now time.Time) {
		p.lastFailureAt = &now
		if err != nil {
			p.lastError = err.Error()
		}
	})
}

// ObserveFetch implements provider.Observer.
func (r *Registry) ObserveFetch(_ context.Context, name string, _ time.Duration, err error) {
	if err != nil {
		r.RecordFailure(name, err)
		return
	}
	r.RecordSuccess(name)
}

// stateChangeHook counts breaker trips for name, then calls next if set.
func (r *Registry) stateChangeHook(name string, next func(string, gobreaker.State, gobreaker.State)) func(string, gobreaker.State, gobreaker.State) {
	return func(breaker string, from, to gobreaker.State) {
		if to == gobreaker.StateOpen {
			r.update(name, func(p *registeredProvider, now time.Time) {
				p.trips++
				p.lastTripAt = &now
			})
		}
		if next != nil {
			next(breaker, from, to)
		}
	}
}

func (r *Registry) update(name string, fn func(*registeredProvider, time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		fn(p, time.Now())
	}
}

// GetHealth returns the health of name, or nil if it is not registered.
func (r *Registry) GetHealth(name string) *ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil
	}
	return p.health(name)
}

// GetAllHealth returns every provider's health ordered by name.
func (r *Registry) GetAllHealth() []*ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.namesLocked()
	sort.Strings(names)

	health := make([]*ProviderHealth, 0, len(names))
	for _, name := range names {
		health = append(health, r.providers[name].health(name))
	}
	return health
}

// GetProviderNames returns the registered names in no particular order.
func (r *Registry) GetProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// ProviderCount returns the number of registered providers.
func (r *Registry) ProviderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

func (p *registeredProvider) health(name string) *ProviderHealth {
	return &ProviderHealth{
		Name:          name,
		CircuitState:  p.client.CircuitBreakerState(),
		Counts:        p.client.CircuitBreakerCounts(),
		Trips:         p.trips,
		LastTripAt:    p.lastTripAt,
		LastSuccessAt: p.lastSuccessAt,
		LastFailureAt: p.lastFailureAt,
		LastError:     p.lastError,
	}
}
