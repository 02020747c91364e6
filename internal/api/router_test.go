package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollenindex/pollenindex/internal/airquality"
	"github.com/pollenindex/pollenindex/internal/api"
	"github.com/pollenindex/pollenindex/internal/api/models"
	"github.com/pollenindex/pollenindex/internal/auth"
	"github.com/pollenindex/pollenindex/internal/conditions"
	"github.com/pollenindex/pollenindex/internal/featureflags"
	"github.com/pollenindex/pollenindex/internal/geo"
	"github.com/pollenindex/pollenindex/internal/metrics"
	"github.com/pollenindex/pollenindex/internal/pollen"
	"github.com/pollenindex/pollenindex/internal/provider/resilience"
)

var testNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

type stubPollen struct{}

func (stubPollen) GetForecast(_ context.Context, _ geo.Coordinate) (*pollen.Forecast, error) {
	weather := "Sunny"
	return &pollen.Forecast{
		Days: []pollen.DayForecast{
			{Date: "2024-04-30T00:00:00+0000", Level: pollen.LevelLow},
			{Date: "2024-05-01T00:00:00+0000", Weather: &weather, Level: pollen.LevelHigh},
		},
		Provider:  "stub",
		FetchedAt: testNow,
	}, nil
}

func (stubPollen) Name() string { return "stub-pollen" }

type stubAirQuality struct{}

func (stubAirQuality) GetReading(_ context.Context, _ geo.Coordinate) (*airquality.Reading, error) {
	return &airquality.Reading{AQI: 75, Provider: "stub", FetchedAt: testNow}, nil
}

func (stubAirQuality) Name() string { return "stub-aq" }

type testEnv struct {
	router      http.Handler
	store       *conditions.Store
	coordinator *conditions.Coordinator
	flags       *featureflags.Service
	jwt         *auth.JWTService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zerolog.New(io.Discard)
	store := conditions.NewStore()
	t.Cleanup(store.Close)

	flags := featureflags.NewService(featureflags.ServiceConfig{
		Repository: featureflags.NewInMemoryRepository(),
		Logger:     logger,
	})

	collector := metrics.New()
	coordinator := conditions.NewCoordinator(conditions.Config{
		Pollen:       stubPollen{},
		AirQuality:   stubAirQuality{},
		FeatureFlags: flags,
		Store:        store,
		Recorder:     collector,
		Logger:       logger,
		TimeZone:     time.UTC,
		Now:          func() time.Time { return testNow },
	})
	t.Cleanup(coordinator.Wait)

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "https://api.pollenindex.app",
		Audience:   "pollenindex-admin",
	})

	registry := resilience.NewRegistry()
	resilience.NewClient(resilience.ClientConfig{
		Name:     "socialpollen",
		Registry: registry,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:            "test",
		BuildTime:          "2024-01-01T00:00:00Z",
		Logger:             logger,
		Prometheus:         collector.Handler(),
		Tokens:             jwtService,
		FeatureFlagService: flags,
		Store:              store,
		Coordinator:        coordinator,
		Streams:            collector,
		Registry:           registry,
		AdUnitID:           "ca-app-pub-test/123",
		Heartbeat:          50 * time.Millisecond,
	})

	return &testEnv{
		router:      router,
		store:       store,
		coordinator: coordinator,
		flags:       flags,
		jwt:         jwtService,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, _, err := e.jwt.GenerateAdminToken("ops@pollenindex.app")
	require.NoError(t, err)
	return token
}

func TestRouter_HealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/ops/health", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/ops/ready", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
}

func TestRouter_SystemStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.flags.SetFlag(ctx, &featureflags.Flag{Key: featureflags.FlagDisableAds, Value: true}))

	w := env.do(t, http.MethodGet, "/v1/ops/status", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))

	assert.Equal(t, models.HealthStatusOK, status.Status)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, "socialpollen", status.Providers[0].Provider)
	assert.Equal(t, "closed", status.Providers[0].CircuitState)
	assert.Equal(t, []string{featureflags.FlagDisableAds}, status.ActiveDegradationFlags)
	require.NotNil(t, status.Stream)
	assert.Equal(t, uint64(0), status.Stream.Generation)
}

func TestRouter_GetEnums(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/metadata/enums", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var enums models.Enums
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &enums))

	require.Len(t, enums.PollenLevels, 4)
	assert.Equal(t, models.PollenLevel{Level: "Very High", Color: "red"}, enums.PollenLevels[3])
	require.Len(t, enums.AQIBands, 6)
	assert.Nil(t, enums.AQIBands[5].Max)
	assert.Equal(t, "maroon", enums.AQIBands[5].Band)
	assert.Equal(t, "ca-app-pub-test/123", enums.AdUnitID)
}

func TestRouter_GetEnums_AdsDisabled(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.flags.SetFlag(context.Background(), &featureflags.Flag{Key: featureflags.FlagDisableAds, Value: true}))

	w := env.do(t, http.MethodGet, "/v1/metadata/enums", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "adUnitId")
}

func TestRouter_GetConditions_Initial(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/conditions", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `W/"0"`, w.Header().Get("ETag"))

	var got models.Conditions
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Nil(t, got.Location)
	assert.Equal(t, "ABSENT", got.Pollen.Status)
	assert.Equal(t, "ABSENT", got.AirQuality.Status)
}

func TestRouter_SetLocationThenGetConditions(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/v1/location", map[string]interface{}{
		"lat":       52.37,
		"lon":       4.895,
		"placeName": "Amsterdam",
	}, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "/v1/conditions", w.Header().Get("Location"))

	var accepted models.CycleAccepted
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.Equal(t, uint64(1), accepted.Generation)

	env.coordinator.Wait()

	w = env.do(t, http.MethodGet, "/v1/conditions", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var got models.Conditions
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))

	require.NotNil(t, got.Location)
	assert.Equal(t, "Amsterdam", got.Location.PlaceName)
	assert.Equal(t, "manual", got.Location.Source)

	assert.Equal(t, "READY", got.Pollen.Status)
	assert.False(t, got.Pollen.Pending)
	assert.False(t, got.Pollen.Stale)
	assert.Equal(t, "High", got.Pollen.Level)
	assert.Equal(t, "orange", got.Pollen.Color)
	require.NotNil(t, got.Pollen.Weather)
	assert.Equal(t, "Sunny", *got.Pollen.Weather)

	assert.Equal(t, "READY", got.AirQuality.Status)
	require.NotNil(t, got.AirQuality.AQI)
	assert.Equal(t, 75, *got.AirQuality.AQI)
	assert.Equal(t, "Moderate (75)", got.AirQuality.Label)
	assert.Equal(t, "yellow", got.AirQuality.Band)
}

func TestRouter_SetLocation_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		body  map[string]interface{}
		field string
	}{
		{"missing lat", map[string]interface{}{"lon": 4.9}, "lat"},
		{"lat out of range", map[string]interface{}{"lat": 91.0, "lon": 4.9}, "lat"},
		{"lon out of range", map[string]interface{}{"lat": 52.0, "lon": -181.0}, "lon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, "/v1/location", tt.body, "")

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

			var problem models.Problem
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
			require.NotEmpty(t, problem.Errors)
			assert.Equal(t, tt.field, problem.Errors[0].Field)
		})
	}
}

func TestRouter_SetLocation_WrongContentType(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPut, "/v1/location", strings.NewReader("lat=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRouter_Refresh(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/conditions/refresh", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPut, "/v1/location", map[string]interface{}{"lat": 51.5074, "lon": -0.1278}, "")
	require.Equal(t, http.StatusAccepted, w.Code)

	w = env.do(t, http.MethodPost, "/v1/conditions/refresh", nil, "")
	require.Equal(t, http.StatusAccepted, w.Code)

	var accepted models.CycleAccepted
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.Equal(t, uint64(2), accepted.Generation)
}

func TestRouter_ConditionsEvents(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/conditions/events", http.NoBody)
	require.NoError(t, err)

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan models.Conditions)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var c models.Conditions
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &c) == nil {
				select {
				case events <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	first := <-events
	assert.Equal(t, uint64(0), first.Version)

	w := env.do(t, http.MethodPut, "/v1/location", map[string]interface{}{"lat": 52.37, "lon": 4.895}, "")
	require.Equal(t, http.StatusAccepted, w.Code)

	// Versions only increase; wait until both slots are ready.
	last := first.Version
	for ev := range events {
		assert.Greater(t, ev.Version, last)
		last = ev.Version
		if ev.Pollen.Status == "READY" && ev.AirQuality.Status == "READY" {
			assert.Equal(t, uint64(1), ev.Generation)
			return
		}
	}
	t.Fatal("event stream ended before both slots were ready")
}

func TestRouter_Metrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/v1/location", map[string]interface{}{"lat": 52.37, "lon": 4.895}, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	env.coordinator.Wait()

	w = env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `pollenindex_location_cycles_total{source="manual"} 1`)
}

func TestRouter_AdminFeatureFlags_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/admin/feature-flags", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_AdminFeatureFlags(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	w := env.do(t, http.MethodGet, "/v1/admin/feature-flags", nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	var list featureflags.FlagList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Items, len(featureflags.KnownKeys()))

	w = env.do(t, http.MethodPut, "/v1/admin/feature-flags", featureflags.FlagUpdateRequest{
		Updates: []featureflags.FlagUpdate{{Key: featureflags.FlagDisablePollen, Value: true}},
		Reason:  "upstream outage",
	}, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.flags.IsPollenDisabled(context.Background()))

	w = env.do(t, http.MethodPut, "/v1/admin/feature-flags", featureflags.FlagUpdateRequest{}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/v1/admin/feature-flags/invalidate", nil, token)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodDelete, "/v1/admin/feature-flags/"+featureflags.FlagDisablePollen, nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.flags.IsPollenDisabled(context.Background()))

	w = env.do(t, http.MethodDelete, "/v1/admin/feature-flags/disable_everything", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_PollenDisabledByFlag(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.flags.SetFlag(context.Background(), &featureflags.Flag{Key: featureflags.FlagDisablePollen, Value: true}))

	w := env.do(t, http.MethodPut, "/v1/location", map[string]interface{}{"lat": 52.37, "lon": 4.895}, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	env.coordinator.Wait()

	var got models.Conditions
	w = env.do(t, http.MethodGet, "/v1/conditions", nil, "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "DISABLED", got.Pollen.Status)
	assert.Equal(t, "READY", got.AirQuality.Status)
}

func TestRouter_RequestID_Generated(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/ops/health", nil, "")

	requestID := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, requestID)
	assert.Contains(t, requestID, "req_")
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "custom_request_id")
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, req)

	assert.Equal(t, "custom_request_id", w.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/nonexistent", nil, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}
