package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/geo"
	"github.com/pollenindex/pollenindex/internal/geolocation"
)

// Message results used in metrics.
const (
	ResultOK      = "ok"
	ResultDropped = "dropped"
	ResultStale   = "stale"
	ResultFailed  = "failed"
)

// Feed receives device events. *geolocation.FeedService satisfies it.
type Feed interface {
	Push(c geo.Coordinate)
	Fail(err error)
	SetAuthorization(a geolocation.Authorization)
}

// ManualSelector starts a cycle for a user-picked location.
// *conditions.Coordinator satisfies it.
type ManualSelector interface {
	SelectLocation(ctx context.Context, coord geo.Coordinate, place *geolocation.Placename) (uint64, error)
}

// MessageRecorder counts handled messages (optional).
type MessageRecorder interface {
	RecordMessage(messageType, result string)
}

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	// Feed receives fixes, sensor errors and permission changes (required).
	Feed Feed

	// Manual handles manual selections (required for manual messages).
	Manual ManualSelector

	// Recorder counts messages by type and result (optional).
	Recorder MessageRecorder

	Logger zerolog.Logger
}

// Dispatcher applies location feed messages one at a time. Messages older
// than the last applied message of the same stream are dropped, since
// Pub/Sub does not guarantee ordering.
type Dispatcher struct {
	feed     Feed
	manual   ManualSelector
	recorder MessageRecorder
	logger   zerolog.Logger

	mu     sync.Mutex
	latest map[string]time.Time
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		feed:     cfg.Feed,
		manual:   cfg.Manual,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		latest:   make(map[string]time.Time),
	}
}

// Handle decodes and applies one payload. published is the broker's publish
// time and orders messages that carry no timestamp of their own.
// Errors wrapping ErrMalformedMessage or ErrStaleMessage must not be retried.
func (d *Dispatcher) Handle(ctx context.Context, data []byte, published time.Time) error {
	m, err := DecodeMessage(data)
	if err != nil {
		d.record("invalid", ResultDropped)
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	at := published
	if m.Timestamp != nil {
		at = *m.Timestamp
	}
	stream := streamOf(m.Type)
	if last, ok := d.latest[stream]; ok && !at.IsZero() && at.Before(last) {
		d.record(string(m.Type), ResultStale)
		return fmt.Errorf("%w: %s at %s is older than %s", ErrStaleMessage, m.Type, at.Format(time.RFC3339), last.Format(time.RFC3339))
	}

	if err := d.apply(ctx, m); err != nil {
		if errors.Is(err, ErrMalformedMessage) {
			d.record(string(m.Type), ResultDropped)
		} else {
			d.record(string(m.Type), ResultFailed)
		}
		return err
	}

	if !at.IsZero() {
		d.latest[stream] = at
	}
	d.record(string(m.Type), ResultOK)
	return nil
}

func (d *Dispatcher) apply(ctx context.Context, m Message) error {
	switch m.Type {
	case MessageFix:
		coord, err := m.Coordinate()
		if err != nil {
			return err
		}
		d.feed.Push(coord)
		d.logger.Debug().Str("coordinate", coord.String()).Msg("location fix queued")

	case MessageError:
		d.feed.Fail(m.SensorError())
		d.logger.Debug().Str("error", m.Error).Msg("sensor error forwarded")

	case MessagePermission:
		a := m.Authorization()
		d.feed.SetAuthorization(a)
		d.logger.Info().Str("authorization", string(a)).Msg("location permission changed")

	case MessageManual:
		if d.manual == nil {
			return fmt.Errorf("%w: manual selection not enabled", ErrMalformedMessage)
		}
		coord, err := m.Coordinate()
		if err != nil {
			return err
		}
		gen, err := d.manual.SelectLocation(ctx, coord, m.Place())
		if err != nil {
			if errors.Is(err, geo.ErrInvalidCoordinates) {
				return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
			}
			return fmt.Errorf("selecting location: %w", err)
		}
		d.logger.Info().
			Str("coordinate", coord.String()).
			Uint64("generation", gen).
			Msg("manual location selected")

	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, m.Type)
	}
	return nil
}

func (d *Dispatcher) record(messageType, result string) {
	if d.recorder != nil {
		d.recorder.RecordMessage(messageType, result)
	}
}

// streamOf groups message types whose relative order matters.
func streamOf(t MessageType) string {
	if t == MessagePermission {
		return "permission"
	}
	return "location"
}
