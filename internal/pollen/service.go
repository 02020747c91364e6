package pollen

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/featureflags"
	"github.com/pollenindex/pollenindex/internal/geo"
)

// ServiceConfig holds configuration for the pollen service.
type ServiceConfig struct {
	// Provider is the pollen forecast provider.
	Provider Provider

	// FeatureFlags is the feature flag service (optional).
	// If provided, pollen can be switched off via FlagDisablePollen.
	FeatureFlags *featureflags.Service

	// Logger for service operations.
	Logger zerolog.Logger
}

// Service fronts a Provider with coordinate validation and the kill switch.
// Readings are never cached; every call is one provider round trip.
type Service struct {
	provider     Provider
	featureFlags *featureflags.Service
	logger       zerolog.Logger
}

// NewService creates a new pollen service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		provider:     cfg.Provider,
		featureFlags: cfg.FeatureFlags,
		logger:       cfg.Logger,
	}
}

// GetForecast returns the forecast for coord.
// Returns ErrPollenDisabled if pollen is disabled via feature flag.
func (s *Service) GetForecast(ctx context.Context, coord geo.Coordinate) (*Forecast, error) {
	if s.featureFlags.IsPollenDisabled(ctx) {
		s.logger.Debug().Msg("pollen disabled by feature flag")
		return nil, ErrPollenDisabled
	}

	if err := coord.Validate(); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Float64("lat", coord.Lat).
		Float64("lon", coord.Lon).
		Str("provider", s.provider.Name()).
		Msg("fetching pollen forecast from provider")

	forecast, err := s.provider.GetForecast(ctx, coord)
	if err != nil {
		s.logger.Error().Err(err).
			Float64("lat", coord.Lat).
			Float64("lon", coord.Lon).
			Msg("failed to fetch pollen forecast")
		return nil, fmt.Errorf("fetching pollen forecast: %w", err)
	}

	return forecast, nil
}

// IsEnabled returns true if pollen is enabled.
func (s *Service) IsEnabled(ctx context.Context) bool {
	return !s.featureFlags.IsPollenDisabled(ctx)
}

// Name returns the underlying provider name.
func (s *Service) Name() string {
	return s.provider.Name()
}
