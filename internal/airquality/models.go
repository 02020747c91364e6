// Package airquality holds the air-quality reading model and AQI classification.
package airquality

import (
	"context"
	"errors"
	"time"

	"github.com/pollenindex/pollenindex/internal/geo"
)

// Air quality errors.
var (
	ErrAirQualityDisabled = errors.New("air quality disabled by feature flag")
)

// Reading is a single current AQI value for a location.
type Reading struct {
	AQI       int
	Provider  string
	FetchedAt time.Time
}

// Classification returns the severity band for the reading.
func (r Reading) Classification() Classification {
	return Classify(r.AQI)
}

// Provider fetches the current air-quality reading for a coordinate.
type Provider interface {
	// GetReading performs a single request.
	GetReading(ctx context.Context, coord geo.Coordinate) (*Reading, error)

	// Name returns the provider name for logging.
	Name() string
}
