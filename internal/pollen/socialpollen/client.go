// Package socialpollen is a client for the socialpollencount.co.uk forecast API.
package socialpollen

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/geo"
	"github.com/pollenindex/pollenindex/internal/pollen"
	"github.com/pollenindex/pollenindex/internal/provider"
	"github.com/pollenindex/pollenindex/internal/provider/resilience"
)

const (
	// ProviderName identifies this pollen provider.
	ProviderName = "socialpollen"

	// DefaultBaseURL is the Social Pollen Count base URL.
	DefaultBaseURL = "https://socialpollencount.co.uk"
)

// ClientConfig holds configuration for the Social Pollen Count client.
type ClientConfig struct {
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

// Client fetches pollen forecasts.
type Client struct {
	baseURL string
	fetcher *provider.Fetcher
	logger  zerolog.Logger
	now     func() time.Time
}

// NewClient creates a new Social Pollen Count client.
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

// ForecastURL builds the request URL. The bracketed pair is sent unescaped.
func (c *Client) ForecastURL(coord geo.Coordinate) string {
	return fmt.Sprintf("%s/api/forecast?location=[%f,%f]", c.baseURL, coord.Lat, coord.Lon)
}

// GetForecast fetches the multi-day forecast for coord in one round trip.
func (c *Client) GetForecast(ctx context.Context, coord geo.Coordinate) (*pollen.Forecast, error) {
	resp, err := provider.GetJSON[forecastResponse](ctx, c.fetcher, c.ForecastURL(coord))
	if err != nil {
		return nil, err
	}

	if len(resp.Forecast) == 0 {
		return nil, provider.DecodeError(ProviderName, "forecast is empty", pollen.ErrEmptyForecast)
	}

	forecast, err := c.toForecast(resp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("coordinate", coord.String()).
		Int("days", len(forecast.Days)).
		Msg("pollen forecast received")

	return forecast, nil
}

func (c *Client) toForecast(resp *forecastResponse) (*pollen.Forecast, error) {
	days := make([]pollen.DayForecast, 0, len(resp.Forecast))
	for i, d := range resp.Forecast {
		if d.PollenCount == "" {
			return nil, provider.DecodeError(ProviderName,
				fmt.Sprintf("forecast[%d]: missing pollen_count", i), pollen.ErrUnknownLevel)
		}
		days = append(days, pollen.DayForecast{
			Date:    d.Date,
			Weather: d.Weather,
			Level:   d.PollenCount,
		})
	}

	return &pollen.Forecast{
		Days:      days,
		Provider:  ProviderName,
		FetchedAt: c.now(),
	}, nil
}

// Ensure Client implements pollen.Provider.
var _ pollen.Provider = (*Client)(nil)
