package conditions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pollenindex/pollenindex/internal/airquality"
	"github.com/pollenindex/pollenindex/internal/featureflags"
	"github.com/pollenindex/pollenindex/internal/geo"
	"github.com/pollenindex/pollenindex/internal/geolocation"
	"github.com/pollenindex/pollenindex/internal/pollen"
	"github.com/pollenindex/pollenindex/internal/provider"
)

// DefaultFetchTimeout bounds each provider call.
const DefaultFetchTimeout = 15 * time.Second

// Slot names used in logs and metrics.
const (
	SlotPollen     = "pollen"
	SlotAirQuality = "air_quality"
	SlotPlace      = "place"
)

// Locator yields one coordinate per call.
type Locator interface {
	Locate(ctx context.Context) (geo.Coordinate, error)
}

// Recorder receives pipeline events (optional).
type Recorder interface {
	// RecordCycle is called when a new location cycle begins.
	RecordCycle(source LocationSource)

	// RecordSlot is called when a slot result is stored.
	RecordSlot(slot string, status SlotStatus)

	// RecordDiscard is called when a result for a superseded cycle is dropped.
	RecordDiscard(slot string)
}

// Config holds configuration for the coordinator.
type Config struct {
	// Pollen provides forecasts (required).
	Pollen pollen.Provider

	// AirQuality provides readings (required).
	AirQuality airquality.Provider

	// Geocoder names sensor fixes (optional).
	Geocoder geolocation.Geocoder

	// FeatureFlags can disable slots and geocoding (optional).
	FeatureFlags *featureflags.Service

	// Store receives every result (required).
	Store *Store

	// Recorder receives pipeline events (optional).
	Recorder Recorder

	// Logger for coordinator operations.
	Logger zerolog.Logger

	// FetchTimeout bounds each provider call (default DefaultFetchTimeout).
	FetchTimeout time.Duration

	// TimeZone decides which calendar day is "today" (default time.Local).
	TimeZone *time.Location

	// Now overrides the clock (optional).
	Now func() time.Time
}

// Coordinator starts a fetch cycle for every new location and applies each
// result to the store only while its cycle is still current.
type Coordinator struct {
	pollen     pollen.Provider
	airQuality airquality.Provider
	geocoder   geolocation.Geocoder
	flags      *featureflags.Service
	store      *Store
	recorder   Recorder
	logger     zerolog.Logger
	timeout    time.Duration
	tz         *time.Location
	now        func() time.Time
	tracer     trace.Tracer

	wg sync.WaitGroup
}

// NewCoordinator creates a new coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	tz := cfg.TimeZone
	if tz == nil {
		tz = time.Local
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Coordinator{
		pollen:     cfg.Pollen,
		airQuality: cfg.AirQuality,
		geocoder:   cfg.Geocoder,
		flags:      cfg.FeatureFlags,
		store:      cfg.Store,
		recorder:   cfg.Recorder,
		logger:     cfg.Logger,
		timeout:    timeout,
		tz:         tz,
		now:        now,
		tracer:     otel.Tracer("github.com/pollenindex/pollenindex/internal/conditions"),
	}
}

// UpdateLocation starts a cycle for a sensor fix. The place name is
// resolved by the geocoder unless disabled.
func (c *Coordinator) UpdateLocation(ctx context.Context, coord geo.Coordinate) (uint64, error) {
	return c.begin(ctx, coord, SourceSensor, nil)
}

// SelectLocation starts a cycle for a user-picked location. A nil place is
// resolved by the geocoder.
func (c *Coordinator) SelectLocation(ctx context.Context, coord geo.Coordinate, place *geolocation.Placename) (uint64, error) {
	return c.begin(ctx, coord, SourceManual, place)
}

// Refresh re-runs the current location's cycle.
func (c *Coordinator) Refresh(ctx context.Context) (uint64, error) {
	st := c.store.Snapshot()
	if st.Location == nil {
		return 0, ErrNoLocation
	}
	return c.begin(ctx, st.Location.Coordinate, st.Location.Source, st.Location.Place)
}

// Track runs one Locate cycle. Failures are stored as LocationErr and the
// existing slots are left untouched.
func (c *Coordinator) Track(ctx context.Context, locator Locator) (uint64, error) {
	coord, err := locator.Locate(ctx)
	if err != nil {
		if errors.Is(err, geolocation.ErrPermissionDenied) {
			c.logger.Warn().Msg("location permission denied, pipeline halted")
		} else {
			c.logger.Warn().Err(err).Msg("location unavailable, keeping existing readings")
		}
		if _, _, serr := c.store.Update(func(s *State) bool {
			s.LocationErr = err
			return true
		}); serr != nil {
			return 0, serr
		}
		return 0, err
	}
	return c.UpdateLocation(ctx, coord)
}

// Wait blocks until every launched fetch has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) begin(ctx context.Context, coord geo.Coordinate, source LocationSource, place *geolocation.Placename) (uint64, error) {
	if err := coord.Validate(); err != nil {
		return 0, err
	}

	st, _, err := c.store.Update(func(s *State) bool {
		s.Generation++
		s.Location = &Location{
			Coordinate: coord,
			Source:     source,
			Place:      place,
			UpdatedAt:  c.now(),
		}
		s.LocationErr = nil
		return true
	})
	if err != nil {
		return 0, err
	}
	gen := st.Generation

	c.logger.Info().
		Uint64("generation", gen).
		Str("coordinate", coord.String()).
		Str("source", string(source)).
		Msg("location cycle started")
	if c.recorder != nil {
		c.recorder.RecordCycle(source)
	}

	// Fetches outlive the request that triggered them.
	fetchCtx := context.WithoutCancel(ctx)

	c.spawn(func() { c.fetchPollen(fetchCtx, gen, coord) })
	c.spawn(func() { c.fetchAirQuality(fetchCtx, gen, coord) })
	if place == nil && c.geocoder != nil && !c.flags.IsReverseGeocodeDisabled(fetchCtx) {
		c.spawn(func() { c.resolvePlace(fetchCtx, gen, coord) })
	}

	return gen, nil
}

func (c *Coordinator) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Coordinator) fetchPollen(ctx context.Context, gen uint64, coord geo.Coordinate) {
	slot := PollenSlot{Coordinate: coord, Generation: gen}

	if c.flags.IsPollenDisabled(ctx) {
		slot.Status = StatusDisabled
		slot.UpdatedAt = c.now()
		c.applyPollen(gen, slot)
		return
	}

	ctx, span := c.startSpan(ctx, SlotPollen, gen, coord)
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	forecast, err := c.pollen.GetForecast(fetchCtx, coord)
	slot.UpdatedAt = c.now()

	switch {
	case errors.Is(err, pollen.ErrPollenDisabled):
		slot.Status = StatusDisabled
	case err != nil:
		slot.Status = StatusFailed
		slot.Err = asFetchError(fetchCtx, c.pollen.Name(), err)
	default:
		sel, serr := pollen.Select(forecast, c.now().In(c.tz))
		if serr != nil {
			slot.Status = StatusFailed
			slot.Err = provider.DecodeError(c.pollen.Name(), serr.Error(), serr)
			break
		}
		day := sel.Day
		slot.Status = StatusReady
		slot.Day = &day
		slot.Stale = !sel.Matched
	}

	endSpan(span, slot.Err)
	c.applyPollen(gen, slot)
}

func (c *Coordinator) fetchAirQuality(ctx context.Context, gen uint64, coord geo.Coordinate) {
	slot := AirQualitySlot{Coordinate: coord, Generation: gen}

	if c.flags.IsAirQualityDisabled(ctx) {
		slot.Status = StatusDisabled
		slot.UpdatedAt = c.now()
		c.applyAirQuality(gen, slot)
		return
	}

	ctx, span := c.startSpan(ctx, SlotAirQuality, gen, coord)
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reading, err := c.airQuality.GetReading(fetchCtx, coord)
	slot.UpdatedAt = c.now()

	switch {
	case errors.Is(err, airquality.ErrAirQualityDisabled):
		slot.Status = StatusDisabled
	case err != nil:
		slot.Status = StatusFailed
		slot.Err = asFetchError(fetchCtx, c.airQuality.Name(), err)
	default:
		slot.Status = StatusReady
		slot.Reading = reading
	}

	endSpan(span, slot.Err)
	c.applyAirQuality(gen, slot)
}

func (c *Coordinator) resolvePlace(ctx context.Context, gen uint64, coord geo.Coordinate) {
	ctx, span := c.startSpan(ctx, SlotPlace, gen, coord)
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	place, err := c.geocoder.CoordinateToPlacename(fetchCtx, coord)
	endSpan(span, err)
	if err != nil {
		c.logger.Warn().Err(err).Str("coordinate", coord.String()).Msg("reverse geocoding failed")
	}

	c.apply(gen, SlotPlace, func(s *State) {
		loc := *s.Location
		if err != nil {
			loc.PlaceErr = fmt.Errorf("%w: %w", geolocation.ErrLocationUnavailable, err)
		} else {
			loc.Place = &place
			loc.PlaceErr = nil
		}
		s.Location = &loc
	})
}

func (c *Coordinator) applyPollen(gen uint64, slot PollenSlot) {
	if c.apply(gen, SlotPollen, func(s *State) { s.Pollen = slot }) {
		c.logSlot(SlotPollen, gen, slot.Status, slot.Err)
	}
}

func (c *Coordinator) applyAirQuality(gen uint64, slot AirQualitySlot) {
	if c.apply(gen, SlotAirQuality, func(s *State) { s.AirQuality = slot }) {
		c.logSlot(SlotAirQuality, gen, slot.Status, slot.Err)
	}
}

// apply runs set on the store only if gen is still the current cycle.
func (c *Coordinator) apply(gen uint64, slot string, set func(*State)) bool {
	var current uint64
	_, changed, err := c.store.Update(func(s *State) bool {
		current = s.Generation
		if s.Generation != gen {
			return false
		}
		set(s)
		return true
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("slot", slot).Msg("dropping result, store closed")
		return false
	}
	if !changed {
		c.logger.Debug().
			Str("slot", slot).
			Uint64("generation", gen).
			Uint64("current_generation", current).
			Msg("discarding result for superseded location")
		if c.recorder != nil {
			c.recorder.RecordDiscard(slot)
		}
	}
	return changed
}

func (c *Coordinator) logSlot(slot string, gen uint64, status SlotStatus, err error) {
	if c.recorder != nil {
		c.recorder.RecordSlot(slot, status)
	}
	event := c.logger.Info()
	if err != nil {
		event = c.logger.Warn().Err(err)
	}
	event.Str("slot", slot).
		Uint64("generation", gen).
		Str("status", string(status)).
		Msg("slot updated")
}

func (c *Coordinator) startSpan(ctx context.Context, slot string, gen uint64, coord geo.Coordinate) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "conditions.fetch."+slot,
		trace.WithAttributes(
			attribute.Int64("conditions.generation", int64(gen)),
			attribute.Float64("geo.lat", coord.Lat),
			attribute.Float64("geo.lon", coord.Lon),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// asFetchError makes sure a slot error carries the failure taxonomy, mapping
// an expired fetch deadline to a network timeout.
func asFetchError(ctx context.Context, name string, err error) error {
	if _, ok := provider.AsFetchError(err); ok {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return provider.NetworkError(name, context.DeadlineExceeded)
	}
	return provider.NetworkError(name, err)
}
