// Package resilience guards outbound provider calls. Each upstream gets its
// own circuit breaker, an optional retry policy and health bookkeeping.
package resilience

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	defaultBreakerTimeout      = 30 * time.Second
	defaultConsecutiveFailures = 3
	minTripRequests            = 5
	tripFailureRatio           = 0.5
)

// CircuitBreakerConfig configures the breaker in front of one provider.
type CircuitBreakerConfig struct {
	Name string

	// MaxRequests is the number of probes let through while half-open.
	MaxRequests uint32

	// Interval clears the counts while closed. Zero keeps them until the
	// next state change.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// ConsecutiveFailures opens the breaker after that many failures in a
	// row, whatever the overall ratio. Zero leaves only ReadyToTrip.
	ConsecutiveFailures uint32

	// ReadyToTrip is the ratio rule. Nil means DefaultReadyToTrip.
	ReadyToTrip func(counts gobreaker.Counts) bool

	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig suits a provider hit once per conditions
// cycle: few requests, so a short failure streak is enough to back off.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:                name,
		MaxRequests:         1,
		Timeout:             defaultBreakerTimeout,
		ConsecutiveFailures: defaultConsecutiveFailures,
	}
}

// DefaultReadyToTrip opens the breaker once at least half of five or more
// requests have failed.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < minTripRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= tripFailureRatio
}

func (c CircuitBreakerConfig) tripRule() func(gobreaker.Counts) bool {
	ratio := c.ReadyToTrip
	if ratio == nil {
		ratio = DefaultReadyToTrip
	}
	streak := c.ConsecutiveFailures
	return func(counts gobreaker.Counts) bool {
		if streak > 0 && counts.ConsecutiveFailures >= streak {
			return true
		}
		return ratio(counts)
	}
}

// NewCircuitBreaker creates a breaker from cfg.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   cfg.tripRule(),
		OnStateChange: cfg.OnStateChange,
	})
}
