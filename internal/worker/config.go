// Package worker feeds device location events from Pub/Sub into the
// conditions pipeline.
package worker

import (
	"time"
)

// ReceiveConfig tunes the Pub/Sub subscriber.
type ReceiveConfig struct {
	// MaxOutstandingMessages caps unacknowledged messages in flight.
	// Default: 10
	MaxOutstandingMessages int

	// MaxExtension is how long a message's ack deadline may be extended.
	// Default: 1 minute; a fix older than that is not worth applying.
	MaxExtension time.Duration
}

// DefaultReceiveConfig returns the default subscriber settings.
func DefaultReceiveConfig() ReceiveConfig {
	return ReceiveConfig{
		MaxOutstandingMessages: 10,
		MaxExtension:           time.Minute,
	}
}

func (c ReceiveConfig) withDefaults() ReceiveConfig {
	def := DefaultReceiveConfig()
	if c.MaxOutstandingMessages <= 0 {
		c.MaxOutstandingMessages = def.MaxOutstandingMessages
	}
	if c.MaxExtension <= 0 {
		c.MaxExtension = def.MaxExtension
	}
	return c
}

// TrackerConfig paces location cycles.
type TrackerConfig struct {
	// MinInterval is the minimum spacing between cycle starts, so a chatty
	// device cannot hammer the upstream providers. Zero disables spacing.
	MinInterval time.Duration

	// RetryInitial is the first wait after a failed cycle.
	// Default: 1 second
	RetryInitial time.Duration

	// RetryMax caps the wait between failed cycles.
	// Default: 1 minute
	RetryMax time.Duration
}

// DefaultTrackerConfig returns the default tracker pacing.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MinInterval:  5 * time.Second,
		RetryInitial: time.Second,
		RetryMax:     time.Minute,
	}
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	def := DefaultTrackerConfig()
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = def.RetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = def.RetryMax
	}
	if c.RetryMax < c.RetryInitial {
		c.RetryMax = c.RetryInitial
	}
	return c
}
