package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/conditions"
	"github.com/pollenindex/pollenindex/internal/geolocation"
)

// Tracking runs one location cycle. *conditions.Coordinator satisfies it.
type Tracking interface {
	Track(ctx context.Context, locator conditions.Locator) (uint64, error)
}

// TrackerMetrics tracks location cycle statistics.
type TrackerMetrics struct {
	Cycles           int64
	Failures         int64
	PermissionDenied int64

	LastGeneration uint64
	LastCycleAt    time.Time
	LastError      string
}

// TrackerOptions holds the collaborators of a Tracker.
type TrackerOptions struct {
	// Coordinator starts the cycles (required).
	Coordinator Tracking

	// Locator yields one fix per cycle (required).
	Locator conditions.Locator

	Config TrackerConfig
	Logger zerolog.Logger
}

// Tracker keeps the conditions pipeline following the device: each cycle
// waits for the next fix and hands it to the coordinator. Failed cycles
// are retried with exponential backoff.
type Tracker struct {
	coordinator Tracking
	locator     conditions.Locator
	config      TrackerConfig
	logger      zerolog.Logger

	mu      sync.RWMutex
	metrics TrackerMetrics
}

// NewTracker creates a new tracker.
func NewTracker(opts TrackerOptions) *Tracker {
	return &Tracker{
		coordinator: opts.Coordinator,
		locator:     opts.Locator,
		config:      opts.Config.withDefaults(),
		logger:      opts.Logger,
	}
}

// Run tracks until ctx is cancelled. It returns nil on cancellation and
// conditions.ErrStoreClosed if the store goes away underneath it.
func (t *Tracker) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.config.RetryInitial
	b.MaxInterval = t.config.RetryMax
	b.MaxElapsedTime = 0
	b.Reset()

	t.logger.Info().
		Dur("min_interval", t.config.MinInterval).
		Msg("location tracker started")

	var last time.Time
	for {
		if !last.IsZero() {
			if wait := t.config.MinInterval - time.Since(last); wait > 0 {
				if !sleep(ctx, wait) {
					return nil
				}
			}
		}
		last = time.Now()

		_, err := t.RunOnce(ctx)
		if ctx.Err() != nil {
			t.logger.Info().Msg("location tracker stopped")
			return nil
		}
		if err == nil {
			b.Reset()
			continue
		}
		if errors.Is(err, conditions.ErrStoreClosed) {
			return err
		}

		wait := b.NextBackOff()
		t.logger.Debug().Err(err).Dur("retry_in", wait).Msg("location cycle failed")
		if !sleep(ctx, wait) {
			return nil
		}
	}
}

// RunOnce runs a single cycle and returns its generation.
func (t *Tracker) RunOnce(ctx context.Context) (uint64, error) {
	gen, err := t.coordinator.Track(ctx, t.locator)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.LastCycleAt = time.Now()
	if err != nil {
		if ctx.Err() == nil {
			t.metrics.Failures++
			t.metrics.LastError = err.Error()
			if errors.Is(err, geolocation.ErrPermissionDenied) {
				t.metrics.PermissionDenied++
			}
		}
		return 0, err
	}

	t.metrics.Cycles++
	t.metrics.LastGeneration = gen
	t.metrics.LastError = ""
	return gen, nil
}

// GetMetrics returns a copy of the current metrics.
func (t *Tracker) GetMetrics() TrackerMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.metrics
}

// MetricsSnapshot returns the current metrics as a map for status output.
func (t *Tracker) MetricsSnapshot() map[string]interface{} {
	m := t.GetMetrics()
	return map[string]interface{}{
		"cycles":            m.Cycles,
		"failures":          m.Failures,
		"permission_denied": m.PermissionDenied,
		"last_generation":   m.LastGeneration,
		"last_cycle_at":     m.LastCycleAt,
		"last_error":        m.LastError,
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
