// Package waqi is a client for the World Air Quality Index geo feed.
package waqi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/airquality"
	"github.com/pollenindex/pollenindex/internal/geo"
	"github.com/pollenindex/pollenindex/internal/provider"
	"github.com/pollenindex/pollenindex/internal/provider/resilience"
)

const (
	// ProviderName identifies this air quality provider.
	ProviderName = "waqi"

	// DefaultBaseURL is the WAQI API base URL.
	DefaultBaseURL = "https://api.waqi.info"
)

// ClientConfig holds configuration for the WAQI client.
type ClientConfig struct {
	// Token is the WAQI API token (required).
	Token string

	// BaseURL is the API base URL (optional, defaults to DefaultBaseURL).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a single-attempt resilient client.
	HTTPClient provider.Doer

	// Observer receives request outcomes (optional).
	Observer provider.Observer

	// Logger for client operations.
	Logger zerolog.Logger

	// Now overrides the clock used for FetchedAt (optional).
	Now func() time.Time
}

// Client fetches current AQI readings.
type Client struct {
	token   string
	baseURL string
	fetcher *provider.Fetcher
	logger  zerolog.Logger
	now     func() time.Time
}

// NewClient creates a new WAQI client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.SingleAttemptClientConfig(ProviderName))
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		token:   cfg.Token,
		baseURL: baseURL,
		fetcher: &provider.Fetcher{
			Provider: ProviderName,
			Client:   httpClient,
			Observer: cfg.Observer,
		},
		logger: cfg.Logger,
		now:    now,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// FeedURL builds the geo feed URL for coord.
func (c *Client) FeedURL(coord geo.Coordinate) string {
	return fmt.Sprintf("%s/feed/geo:%f;%f/?token=%s",
		c.baseURL, coord.Lat, coord.Lon, url.QueryEscape(c.token))
}

// GetReading fetches the current AQI nearest to coord in one round trip.
func (c *Client) GetReading(ctx context.Context, coord geo.Coordinate) (*airquality.Reading, error) {
	resp, err := provider.GetJSON[feedResponse](ctx, c.fetcher, c.FeedURL(coord))
	if err != nil {
		return nil, err
	}

	aqi, err := resp.aqi()
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("coordinate", coord.String()).
		Int("aqi", aqi).
		Msg("air quality reading received")

	return &airquality.Reading{
		AQI:       aqi,
		Provider:  ProviderName,
		FetchedAt: c.now(),
	}, nil
}

// API response types.

type feedResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type feedData struct {
	AQI json.RawMessage `json:"aqi"`
}

// aqi extracts data.aqi. On error WAQI sends a string in data, and stations
// without a current value send "-" for aqi.
func (r *feedResponse) aqi() (int, error) {
	if r.Status == "error" {
		var msg string
		if err := json.Unmarshal(r.Data, &msg); err != nil || msg == "" {
			msg = "unknown error"
		}
		return 0, provider.DecodeError(ProviderName, "api error: "+msg, nil)
	}

	if len(r.Data) == 0 || string(r.Data) == "null" {
		return 0, provider.DecodeError(ProviderName, "missing data", nil)
	}

	var data feedData
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return 0, provider.DecodeError(ProviderName, "decoding data: "+err.Error(), err)
	}
	if len(data.AQI) == 0 || string(data.AQI) == "null" {
		return 0, provider.DecodeError(ProviderName, "missing aqi", nil)
	}

	var aqi int
	if err := json.Unmarshal(data.AQI, &aqi); err != nil {
		return 0, provider.DecodeError(ProviderName, fmt.Sprintf("aqi is not an integer: %s", data.AQI), err)
	}
	return aqi, nil
}

// Ensure Client implements airquality.Provider.
var _ airquality.Provider = (*Client)(nil)
