package airquality

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/featureflags"
	"github.com/pollenindex/pollenindex/internal/geo"
)

// ServiceConfig holds configuration for the air quality service.
type ServiceConfig struct {
	// Provider is the air quality data provider.
	Provider Provider

	// FeatureFlags is the feature flag service (optional).
	FeatureFlags *featureflags.Service

	// Logger for service operations.
	Logger zerolog.Logger
}

// Service fronts a Provider with coordinate validation and the kill switch.
type Service struct {
	provider     Provider
	featureFlags *featureflags.Service
	logger       zerolog.Logger
}

// NewService creates a new air quality service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		provider:     cfg.Provider,
		featureFlags: cfg.FeatureFlags,
		logger:       cfg.Logger,
	}
}

// GetReading returns the current reading for coord.
// Returns ErrAirQualityDisabled if disabled via feature flag.
func (s *Service) GetReading(ctx context.Context, coord geo.Coordinate) (*Reading, error) {
	if s.featureFlags.IsAirQualityDisabled(ctx) {
		s.logger.Debug().Msg("air quality disabled by feature flag")
		return nil, ErrAirQualityDisabled
	}

	if err := coord.Validate(); err != nil {
		return nil, err
	}

	reading, err := s.provider.GetReading(ctx, coord)
	if err != nil {
		s.logger.Error().Err(err).
			Float64("lat", coord.Lat).
			Float64("lon", coord.Lon).
			Str("provider", s.provider.Name()).
			Msg("failed to fetch air quality reading")
		return nil, fmt.Errorf("fetching air quality: %w", err)
	}

	s.logger.Debug().
		Int("aqi", reading.AQI).
		Str("provider", s.provider.Name()).
		Msg("air quality reading received")

	return reading, nil
}

// Name returns the underlying provider name.
func (s *Service) Name() string {
	return s.provider.Name()
}
