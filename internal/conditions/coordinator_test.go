package conditions_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollenindex/pollenindex/internal/airquality"
	"github.com/pollenindex/pollenindex/internal/conditions"
	"github.com/pollenindex/pollenindex/internal/featureflags"
	"github.com/pollenindex/pollenindex/internal/geo"
	"github.com/pollenindex/pollenindex/internal/geolocation"
	"github.com/pollenindex/pollenindex/internal/pollen"
	"github.com/pollenindex/pollenindex/internal/provider"
)

var (
	amsterdam = geo.Coordinate{Lat: 52.37, Lon: 4.895}
	london    = geo.Coordinate{Lat: 51.5074, Lon: -0.1278}
	fixedNow  = time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
)

// gate blocks calls for a coordinate until released.
type gate struct {
	mu    sync.Mutex
	gates map[geo.Coordinate]chan struct{}
}

func (g *gate) hold(c geo.Coordinate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gates == nil {
		g.gates = make(map[geo.Coordinate]chan struct{})
	}
	g.gates[c] = make(chan struct{})
}

func (g *gate) release(c geo.Coordinate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	close(g.gates[c])
}

func (g *gate) wait(ctx context.Context, c geo.Coordinate) error {
	g.mu.Lock()
	ch := g.gates[c]
	g.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakePollen struct {
	gate
	mu    sync.Mutex
	calls int
	err   error
	level map[geo.Coordinate]pollen.Level
	date  string
}

func (f *fakePollen) GetForecast(ctx context.Context, c geo.Coordinate) (*pollen.Forecast, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()

	if werr := f.wait(ctx, c); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}

	level := pollen.LevelLow
	if l, ok := f.level[c]; ok {
		level = l
	}
	date := f.date
	if date == "" {
		date = "2024-05-02T00:00:00+0000"
	}
	weather := "Sunny"
	return &pollen.Forecast{
		Days:     []pollen.DayForecast{{Date: date, Weather: &weather, Level: level}},
		Provider: "fake",
	}, nil
}

func (f *fakePollen) Name() string { return "fakepollen" }

func (f *fakePollen) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAirQuality struct {
	gate
	mu    sync.Mutex
	calls int
	err   error
	aqi   map[geo.Coordinate]int
}

func (f *fakeAirQuality) GetReading(ctx context.Context, c geo.Coordinate) (*airquality.Reading, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()

	if werr := f.wait(ctx, c); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	return &airquality.Reading{AQI: f.aqi[c], Provider: "fake"}, nil
}

func (f *fakeAirQuality) Name() string { return "fakeaq" }

func (f *fakeAirQuality) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGeocoder struct {
	err error
}

func (f *fakeGeocoder) CoordinateToPlacename(_ context.Context, c geo.Coordinate) (geolocation.Placename, error) {
	if f.err != nil {
		return geolocation.Placename{}, f.err
	}
	if c == amsterdam {
		return geolocation.Placename{Locality: "Amsterdam", Country: "Nederland"}, nil
	}
	return geolocation.Placename{Locality: "London", Country: "United Kingdom"}, nil
}

type recorder struct {
	mu       sync.Mutex
	cycles   int
	discards map[string]int
}

func (r *recorder) RecordCycle(conditions.LocationSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
}

func (r *recorder) RecordSlot(string, conditions.SlotStatus) {}

func (r *recorder) RecordDiscard(slot string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.discards == nil {
		r.discards = make(map[string]int)
	}
	r.discards[slot]++
}

type harness struct {
	store    *conditions.Store
	pollen   *fakePollen
	aq       *fakeAirQuality
	geocoder *fakeGeocoder
	recorder *recorder
	coord    *conditions.Coordinator
}

func newHarness(t *testing.T, mutate ...func(*conditions.Config)) *harness {
	t.Helper()
	h := &harness{
		store: conditions.NewStore(),
		pollen: &fakePollen{level: map[geo.Coordinate]pollen.Level{
			amsterdam: pollen.LevelHigh,
			london:    pollen.LevelModerate,
		}},
		aq:       &fakeAirQuality{aqi: map[geo.Coordinate]int{amsterdam: 42, london: 75}},
		geocoder: &fakeGeocoder{},
		recorder: &recorder{},
	}
	t.Cleanup(h.store.Close)

	cfg := conditions.Config{
		Pollen:     h.pollen,
		AirQuality: h.aq,
		Geocoder:   h.geocoder,
		Store:      h.store,
		Recorder:   h.recorder,
		Logger:     zerolog.Nop(),
		TimeZone:   time.UTC,
		Now:        func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.coord = conditions.NewCoordinator(cfg)
	return h
}

func TestCoordinator_UpdateLocation(t *testing.T) {
	h := newHarness(t)

	gen, err := h.coord.UpdateLocation(context.Background(), amsterdam)
	require.NoError(t, err)
	h.coord.Wait()

	st := h.store.Snapshot()
	assert.Equal(t, gen, st.Generation)
	require.NotNil(t, st.Location)
	assert.Equal(t, amsterdam, st.Location.Coordinate)
	assert.Equal(t, conditions.SourceSensor, st.Location.Source)
	assert.Equal(t, "Amsterdam, Nederland", st.PlaceLabel())

	require.Equal(t, conditions.StatusReady, st.Pollen.Status)
	assert.Equal(t, pollen.LevelHigh, st.Pollen.Day.Level)
	assert.Equal(t, "Sunny", *st.Pollen.Day.Weather)
	assert.False(t, st.Pollen.Stale)
	assert.Equal(t, gen, st.Pollen.Generation)

	require.Equal(t, conditions.StatusReady, st.AirQuality.Status)
	assert.Equal(t, 42, st.AirQuality.Reading.AQI)
	assert.Equal(t, amsterdam, st.AirQuality.Coordinate)

	assert.False(t, st.PollenPending())
	assert.False(t, st.AirQualityPending())
}

func TestCoordinator_StaleForecastFlag(t *testing.T) {
	h := newHarness(t)
	h.pollen.date = "2024-04-20T00:00:00+0000"

	_, err := h.coord.UpdateLocation(context.Background(), amsterdam)
	require.NoError(t, err)
	h.coord.Wait()

	st := h.store.Snapshot()
	require.Equal(t, conditions.StatusReady, st.Pollen.Status)
	assert.True(t, st.Pollen.Stale)
}

func TestCoordinator_FailureIsolatedToOneSlot(t *testing.T) {
	h := newHarness(t)
	h.aq.err = provider.NetworkError("fakeaq", errors.New("connection reset"))

	_, err := h.coord.UpdateLocation(context.Background(), amsterdam)
	require.NoError(t, err)
	h.coord.Wait()

	st := h.store.Snapshot()
	assert.Equal(t, conditions.StatusReady, st.Pollen.Status)
	assert.Equal(t, conditions.StatusFailed, st.AirQuality.Status)
	assert.ErrorIs(t, st.AirQuality.Err, provider.ErrNetwork)
	assert.Nil(t, st.AirQuality.Reading)

	// And the other way round.
	h.aq.mu.Lock()
	h.aq.err = nil
	h.aq.mu.Unlock()
	h.pollen.mu.Lock()
	h.pollen.err = provider.DecodeError("fakepollen", "bad json", nil)
	h.pollen.mu.Unlock()

	_, err = h.coord.Refresh(context.Background())
	require.NoError(t, err)
	h.coord.Wait()

	st = h.store.Snapshot()
	assert.Equal(t, conditions.StatusFailed, st.Pollen.Status)
	assert.ErrorIs(t, st.Pollen.Err, provider.ErrDecode)
	assert.Equal(t, conditions.StatusReady, st.AirQuality.Status)
}

func TestCoordinator_SupersededResultsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.pollen.hold(amsterdam)
	h.aq.hold(amsterdam)

	first, err := h.coord.UpdateLocation(context.Background(), amsterdam)
	require.NoError(t, err)

	second, err := h.coord.SelectLocation(context.Background(), london, nil)
	require.NoError(t, err)
	assert.Greater(t, second, first)

	// Let the newer cycle land first, then release the stale one.
	require.Eventually(t, func() bool {
		st := h.store.Snapshot()
		return st.Pollen.Generation == second && st.AirQuality.Generation == second
	}, time.Second, 5*time.Millisecond)

	h.pollen.release(amsterdam)
	h.aq.release(amsterdam)
	h.coord.Wait()

	st := h.store.Snapshot()
	assert.Equal(t, second, st.Generation)
	assert.Equal(t, london, st.Location.Coordinate)
	assert.Equal(t, conditions.SourceManual, st.Location.Source)
	assert.Equal(t, pollen.LevelModerate, st.Pollen.Day.Level)
	assert.Equal(t, london, st.Pollen.Coordinate)
	assert.Equal(t, 75, st.AirQuality.Reading.AQI)
	assert.Equal(t, "London, United Kingdom", st.PlaceLabel())

	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	assert.Equal(t, 1, h.recorder.discards[conditions.SlotPollen])
	assert.Equal(t, 1, h.recorder.discards[conditions.SlotAirQuality])
	assert.Equal(t, 2, h.recorder.cycles)
}

func TestCoordinator_PendingWhileNewCycleInFlight(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.UpdateLocation(context.Background(), amsterdam)
	require.NoError(t, err)
	h.coord.Wait()

	h.pollen.hold(london)
	h.aq.hold(london)
	_, err = h.coord.SelectLocation(context.Background(), london, &geolocation.Placename{Name: "Home"})
	require.NoError(t, err)

	st := h.store.Snapshot()
	assert.True(t, st.PollenPending())
	assert.True(t, st.AirQualityPending())
	assert.Equal(t, "Home", st.PlaceLabel(), "supplied place is used as is")

	h.pollen.release(london)
	h.aq.release(london)
	h.coord.Wait()

	st = h.store.Snapshot()
	assert.False(t, st.PollenPending())
	assert.Equal(t, "Home", st.PlaceLabel())
}

func TestCoordinator_FetchTimeout(t *testing.T) {
	h := newHarness(t, func(cfg *conditions.Config) { cfg.FetchTimeout = 20 * time.Millisecond })
	h.pollen.hold(amsterdam)

	_, err := h.coord.UpdateLocation(context.Background(), amsterdam)
	require.NoError(t, err)
	h.coord.Wait()

	st := h.store.Snapshot()
	require.Equal(t, conditions.StatusFailed, st.Pollen.Status)
	fe, ok := provider.AsFetchError(st.Pollen.Err)
	require.True(t, ok)
	assert.Equal(t, provider.KindNetwork, fe.Kind)
	assert.Equal(t, "timeout", fe.Message)
	assert.Equal(t, conditions.StatusReady, st.AirQuality.Status)
}

func TestCoordinator_CallerCancellationDoesNotAbortFetch(t *testing.T) {
	h := newHarness(t)
	h.pollen.hold(amsterdam)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := h.coord.UpdateLocation(ctx, amsterdam)
	require.NoError(t, err)
	cancel()

	h.pollen.release(amsterdam)
	h.coord.Wait()

	assert.Equal(t, conditions.StatusReady, h.store.Snapshot().Pollen.Status)
}

func TestCoordinator_FeatureFlagsDisableSlots(t *testing.T) {
	flags := featureflags.NewService(featureflags.ServiceConfig{
		Repository: featureflags.NewInMemoryRepository(),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, flags.SetFlags(context.Background(), []*featureflags.Flag{
		{Key: featureflags.FlagDisablePollen, Value: true},
		{Key: featureflags.FlagDisableReverseGeocode, Value: true},
	}))

	h := newHarness(t, func(cfg *conditions.Config) { cfg.FeatureFlags = flags })

	_, err := h.coord.UpdateLocation(context.Background(), amsterdam)
	require.NoError(t, err)
	h.coord.Wait()

	st := h.store.Snapshot()
	assert.Equal(t, conditions.StatusDisabled, st.Pollen.Status)
	assert.Equal(t, 0, h.pollen.callCount(), "disabled slot makes no network call")
	assert.Equal(t, conditions.StatusReady, st.AirQuality.Status)
	assert.Nil(t, st.Location.Place, "reverse geocoding disabled")
}

func TestCoordinator_ProviderSideDisable(t *testing.T) {
	h := newHarness(t)
	h.aq.err = airquality.ErrAirQualityDisabled

	_, err := h.coord.UpdateLocation(context.Background(), amsterdam)
	require.NoError(t, err)
	h.coord.Wait()

	st := h.store.Snapshot()
	assert.Equal(t, conditions.StatusDisabled, st.AirQuality.Status)
	assert.NoError(t, st.AirQuality.Err)
}

func TestCoordinator_GeocodeFailureKeepsReadings(t *testing.T) {
	h := newHarness(t)
	h.geocoder.err = errors.New("unable to geocode")

	_, err := h.coord.UpdateLocation(context.Background(), amsterdam)
	require.NoError(t, err)
	h.coord.Wait()

	st := h.store.Snapshot()
	assert.Nil(t, st.Location.Place)
	assert.ErrorIs(t, st.Location.PlaceErr, geolocation.ErrLocationUnavailable)
	assert.Equal(t, conditions.StatusReady, st.Pollen.Status)
	assert.Equal(t, conditions.StatusReady, st.AirQuality.Status)
}

func TestCoordinator_InvalidCoordinate(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.SelectLocation(context.Background(), geo.Coordinate{Lat: -91, Lon: 0}, nil)
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinates)
	assert.Equal(t, uint64(0), h.store.Snapshot().Generation)
}

func TestCoordinator_RefreshWithoutLocation(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.Refresh(context.Background())
	assert.ErrorIs(t, err, conditions.ErrNoLocation)
}

func TestCoordinator_RefreshRefetches(t *testing.T) {
	h := newHarness(t)

	first, err := h.coord.UpdateLocation(context.Background(), amsterdam)
	require.NoError(t, err)
	h.coord.Wait()

	second, err := h.coord.Refresh(context.Background())
	require.NoError(t, err)
	h.coord.Wait()

	assert.Equal(t, first+1, second)
	assert.Equal(t, 2, h.pollen.callCount())
	assert.Equal(t, 2, h.aq.callCount())
	st := h.store.Snapshot()
	assert.Equal(t, conditions.SourceSensor, st.Location.Source)
	assert.Equal(t, amsterdam, st.Location.Coordinate)
}

type fakeLocator struct {
	coord geo.Coordinate
	err   error
}

func (f fakeLocator) Locate(context.Context) (geo.Coordinate, error) {
	return f.coord, f.err
}

func TestCoordinator_Track(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.Track(context.Background(), fakeLocator{coord: amsterdam})
	require.NoError(t, err)
	h.coord.Wait()

	st := h.store.Snapshot()
	assert.Equal(t, conditions.StatusReady, st.Pollen.Status)
	assert.NoError(t, st.LocationErr)
}

func TestCoordinator_TrackPermissionDenied(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.Track(context.Background(), fakeLocator{err: geolocation.ErrPermissionDenied})
	assert.ErrorIs(t, err, geolocation.ErrPermissionDenied)
	h.coord.Wait()

	st := h.store.Snapshot()
	assert.ErrorIs(t, st.LocationErr, geolocation.ErrPermissionDenied)
	assert.Nil(t, st.Location)
	assert.Equal(t, 0, h.pollen.callCount())
	assert.Equal(t, 0, h.aq.callCount())
}

func TestCoordinator_TrackUnavailableKeepsExistingData(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.UpdateLocation(context.Background(), amsterdam)
	require.NoError(t, err)
	h.coord.Wait()

	_, err = h.coord.Track(context.Background(), fakeLocator{err: geolocation.ErrLocationUnavailable})
	assert.ErrorIs(t, err, geolocation.ErrLocationUnavailable)

	st := h.store.Snapshot()
	assert.ErrorIs(t, st.LocationErr, geolocation.ErrLocationUnavailable)
	assert.Equal(t, conditions.StatusReady, st.Pollen.Status)
	assert.Equal(t, amsterdam, st.Location.Coordinate)

	// A successful cycle clears the error.
	_, err = h.coord.Track(context.Background(), fakeLocator{coord: london})
	require.NoError(t, err)
	h.coord.Wait()
	assert.NoError(t, h.store.Snapshot().LocationErr)
}
