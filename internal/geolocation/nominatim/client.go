// Package nominatim reverse geocodes coordinates with OpenStreetMap Nominatim.
package nominatim

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/geo"
	"github.com/pollenindex/pollenindex/internal/geolocation"
	"github.com/pollenindex/pollenindex/internal/provider"
	"github.com/pollenindex/pollenindex/internal/provider/resilience"
)

const (
	// ProviderName identifies this geocoder.
	ProviderName = "nominatim"

	// DefaultBaseURL is the public Nominatim instance.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// DefaultUserAgent is sent when none is configured; the usage policy requires one.
	DefaultUserAgent = "pollenindex/1.0"

	// DefaultRequestsPerSecond follows the public instance usage policy.
	DefaultRequestsPerSecond = 1.0
)

// ClientConfig holds configuration for the Nominatim client.
type ClientConfig struct {
	// BaseURL is the API base URL (optional).
	BaseURL string

	// UserAgent identifies the application (optional, defaults to DefaultUserAgent).
	UserAgent string

	// Language sets Accept-Language for place names (optional).
	Language string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a retrying resilient client limited to DefaultRequestsPerSecond.
	HTTPClient provider.Doer

	// Registry receives the default client for health reporting (optional).
	Registry *resilience.Registry

	// Observer receives request outcomes (optional).
	Observer provider.Observer

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a Nominatim reverse geocoding client.
type Client struct {
	baseURL string
	fetcher *provider.Fetcher
	logger  zerolog.Logger
}

// NewClient creates a new Nominatim client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		rcfg := resilience.DefaultClientConfig(ProviderName)
		rcfg.Registry = cfg.Registry
		httpClient = resilience.NewRateLimitedClient(resilience.NewClient(rcfg), DefaultRequestsPerSecond, 1)
	}

	header := http.Header{}
	header.Set("User-Agent", userAgent)
	if cfg.Language != "" {
		header.Set("Accept-Language", cfg.Language)
	}

	return &Client{
		baseURL: baseURL,
		fetcher: &provider.Fetcher{
			Provider: ProviderName,
			Client:   httpClient,
			Header:   header,
			Observer: cfg.Observer,
		},
		logger: cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// CoordinateToPlacename implements geolocation.Geocoder.
func (c *Client) CoordinateToPlacename(ctx context.Context, coord geo.Coordinate) (geolocation.Placename, error) {
	url := fmt.Sprintf("%s/reverse?format=jsonv2&lat=%.6f&lon=%.6f", c.baseURL, coord.Lat, coord.Lon)

	resp, err := provider.GetJSON[reverseResponse](ctx, c.fetcher, url)
	if err != nil {
		return geolocation.Placename{}, err
	}

	if resp.Error != "" {
		return geolocation.Placename{}, fmt.Errorf("%w: %s", geolocation.ErrPlacenameNotFound, resp.Error)
	}

	place := resp.toPlacename()
	if place.IsZero() {
		return geolocation.Placename{}, geolocation.ErrPlacenameNotFound
	}

	c.logger.Debug().
		Str("coordinate", coord.String()).
		Str("place", place.Label()).
		Msg("reverse geocoded coordinate")

	return place, nil
}

// Ensure Client implements geolocation.Geocoder.
var _ geolocation.Geocoder = (*Client)(nil)
