// Package config loads process configuration from the environment.
// A .env file in the working directory is read first when present; real
// environment variables always win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/database"
	"github.com/pollenindex/pollenindex/internal/geo"
	"github.com/pollenindex/pollenindex/internal/geolocation"
)

// Feature flag store backends.
const (
	FlagStoreMemory   = "memory"
	FlagStorePostgres = "postgres"
)

// ErrMissingWAQIToken is returned when no air quality token is configured.
var ErrMissingWAQIToken = errors.New("WAQI_TOKEN is required")

// Config is the full process configuration shared by cmd/api and cmd/worker.
type Config struct {
	Env       string
	Port      string
	LogLevel  zerolog.Level
	LogFormat string

	Telemetry TelemetryConfig
	Providers ProviderConfig
	Location  LocationConfig
	Auth      AuthConfig
	Flags     FlagConfig
	Database  database.Config
	PubSub    PubSubConfig
	Tracker   TrackerConfig

	// AdUnitID is surfaced through the metadata endpoint.
	AdUnitID string

	// RequireTLS rejects plain HTTP requests.
	RequireTLS bool

	// StreamHeartbeat is the SSE keep-alive interval.
	StreamHeartbeat time.Duration
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// ProviderConfig configures the upstream data providers.
type ProviderConfig struct {
	SocialPollenBaseURL string
	WAQIBaseURL         string
	WAQIToken           string
	NominatimBaseURL    string
	NominatimUserAgent  string
	NominatimLanguage   string

	// GeocoderEnabled turns reverse geocoding on.
	GeocoderEnabled bool

	// FetchTimeout bounds each provider call.
	FetchTimeout time.Duration

	// TimeZone decides which forecast day is today.
	TimeZone *time.Location
}

// LocationConfig configures the device location source.
type LocationConfig struct {
	// Default is a fixed device coordinate. Nil means fixes come from the feed.
	Default *geo.Coordinate

	// InitialAuthorization seeds the feed before any permission message.
	InitialAuthorization geolocation.Authorization
}

// AuthConfig configures admin bearer tokens.
type AuthConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
	Expiry     time.Duration
}

// FlagConfig configures feature flag storage.
type FlagConfig struct {
	Store    string
	CacheTTL time.Duration
}

// PubSubConfig configures the location feed subscription.
type PubSubConfig struct {
	ProjectID      string
	Subscription   string
	MaxOutstanding int
}

// Enabled reports whether a subscription is configured.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.Subscription != ""
}

// TrackerConfig paces location cycles driven by the feed.
type TrackerConfig struct {
	MinInterval  time.Duration
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// IsProduction reports whether APP_ENV is production.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads .env (if present) and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (Config, error) {
	p := &parser{}

	cfg := Config{
		Env:       getEnvOrDefault("APP_ENV", "development"),
		Port:      getEnvOrDefault("APP_PORT", "8080"),
		LogLevel:  p.level("LOG_LEVEL", zerolog.InfoLevel),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Telemetry: TelemetryConfig{
			Enabled:     p.boolean("OTEL_ENABLED", false),
			Endpoint:    getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    p.boolean("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio: p.float("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		Providers: ProviderConfig{
			SocialPollenBaseURL: os.Getenv("SOCIALPOLLEN_BASE_URL"),
			WAQIBaseURL:         os.Getenv("WAQI_BASE_URL"),
			WAQIToken:           os.Getenv("WAQI_TOKEN"),
			NominatimBaseURL:    os.Getenv("NOMINATIM_BASE_URL"),
			NominatimUserAgent:  os.Getenv("NOMINATIM_USER_AGENT"),
			NominatimLanguage:   getEnvOrDefault("NOMINATIM_LANGUAGE", "en"),
			GeocoderEnabled:     p.boolean("GEOCODER_ENABLED", true),
			FetchTimeout:        p.duration("FETCH_TIMEOUT", 15*time.Second),
			TimeZone:            p.location("TIME_ZONE"),
		},
		Location: LocationConfig{
			Default:              p.coordinate("DEFAULT_LAT", "DEFAULT_LON"),
			InitialAuthorization: p.authorization("LOCATION_AUTHORIZATION"),
		},
		Auth: AuthConfig{
			SigningKey: os.Getenv("JWT_SIGNING_KEY"),
			Issuer:     getEnvOrDefault("JWT_ISSUER", "https://api.pollenindex.app"),
			Audience:   getEnvOrDefault("JWT_AUDIENCE", "pollenindex-admin"),
			Expiry:     p.duration("JWT_EXPIRY", time.Hour),
		},
		Flags: FlagConfig{
			Store:    strings.ToLower(getEnvOrDefault("FEATURE_FLAG_STORE", FlagStoreMemory)),
			CacheTTL: p.duration("FEATURE_FLAG_CACHE_TTL", time.Minute),
		},
		Database: database.Config{
			Host:            getEnvOrDefault("DB_HOST", "localhost"),
			Port:            p.integer("DB_PORT", 5432),
			User:            getEnvOrDefault("DB_USER", "pollenindex"),
			Password:        getEnvOrDefault("DB_PASSWORD", "localdev"),
			Database:        getEnvOrDefault("DB_NAME", "pollenindex"),
			SSLMode:         getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxOpenConns:    p.integer("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    p.integer("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: p.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		PubSub: PubSubConfig{
			ProjectID:      os.Getenv("PUBSUB_PROJECT_ID"),
			Subscription:   os.Getenv("PUBSUB_SUBSCRIPTION"),
			MaxOutstanding: p.integer("PUBSUB_MAX_OUTSTANDING", 10),
		},
		Tracker: TrackerConfig{
			MinInterval:  p.duration("TRACK_MIN_INTERVAL", 5*time.Second),
			RetryInitial: p.duration("TRACK_RETRY_INITIAL", time.Second),
			RetryMax:     p.duration("TRACK_RETRY_MAX", time.Minute),
		},
		AdUnitID:        os.Getenv("AD_UNIT_ID"),
		RequireTLS:      p.boolean("REQUIRE_TLS", false),
		StreamHeartbeat: p.duration("SSE_HEARTBEAT", 15*time.Second),
	}

	if cfg.Providers.WAQIToken == "" {
		p.errs = append(p.errs, ErrMissingWAQIToken)
	}
	switch cfg.Flags.Store {
	case FlagStoreMemory, FlagStorePostgres:
	default:
		p.fail("FEATURE_FLAG_STORE", cfg.Flags.Store, "must be memory or postgres")
	}
	if cfg.Database.MaxOpenConns < 1 || cfg.Database.MaxOpenConns > 1000 {
		p.fail("DB_MAX_OPEN_CONNS", strconv.Itoa(cfg.Database.MaxOpenConns), "must be between 1 and 1000")
	}
	if cfg.Database.MaxIdleConns < 0 || cfg.Database.MaxIdleConns > cfg.Database.MaxOpenConns {
		p.fail("DB_MAX_IDLE_CONNS", strconv.Itoa(cfg.Database.MaxIdleConns), "must be between 0 and DB_MAX_OPEN_CONNS")
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser reads typed values and collects every error so all problems are
// reported at once.
type parser struct {
	errs []error
}

func (p *parser) fail(key, value, reason string) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: %s", key, value, reason))
}

func (p *parser) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, "not an integer")
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, "not a number")
		return def
	}
	return f
}

func (p *parser) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, "not a boolean")
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		p.fail(key, v, "not a positive duration")
		return def
	}
	return d
}

func (p *parser) level(key string, def zerolog.Level) zerolog.Level {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(v))
	if err != nil {
		p.fail(key, v, "unknown log level")
		return def
	}
	return lvl
}

func (p *parser) location(key string) *time.Location {
	v := os.Getenv(key)
	if v == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		p.fail(key, v, "unknown time zone")
		return time.Local
	}
	return loc
}

func (p *parser) coordinate(latKey, lonKey string) *geo.Coordinate {
	latRaw, lonRaw := os.Getenv(latKey), os.Getenv(lonKey)
	if latRaw == "" && lonRaw == "" {
		return nil
	}
	if latRaw == "" || lonRaw == "" {
		p.errs = append(p.errs, fmt.Errorf("%s and %s must be set together", latKey, lonKey))
		return nil
	}

	lat := p.float(latKey, 0)
	lon := p.float(lonKey, 0)
	c, err := geo.NewCoordinate(lat, lon)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s,%s: %w", latKey, lonKey, err))
		return nil
	}
	return &c
}

func (p *parser) authorization(key string) geolocation.Authorization {
	v := os.Getenv(key)
	if v == "" {
		return geolocation.AuthorizationNotDetermined
	}
	a, ok := geolocation.ParseAuthorization(v)
	if !ok {
		p.fail(key, v, "unknown authorization status")
		return geolocation.AuthorizationNotDetermined
	}
	return a
}
