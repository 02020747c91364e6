package geolocation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/geo"
)

// ProviderConfig holds configuration for the location provider.
type ProviderConfig struct {
	// Service is the device location collaborator (required).
	Service Service

	// Logger for provider operations.
	Logger zerolog.Logger
}

// Provider obtains exactly one coordinate per cycle from a Service.
type Provider struct {
	service Service
	logger  zerolog.Logger
}

// NewProvider creates a new location provider.
func NewProvider(cfg ProviderConfig) *Provider {
	return &Provider{
		service: cfg.Service,
		logger:  cfg.Logger,
	}
}

// Locate returns the first fix from the service and stops updates.
// Denied or restricted permission returns ErrPermissionDenied without
// starting updates. Sensor errors and ctx expiry return ErrLocationUnavailable.
func (p *Provider) Locate(ctx context.Context) (geo.Coordinate, error) {
	status := p.service.AuthorizationStatus()
	if status == AuthorizationNotDetermined {
		var err error
		status, err = p.service.RequestPermission(ctx)
		if err != nil {
			return geo.Coordinate{}, fmt.Errorf("%w: requesting permission: %w", ErrLocationUnavailable, err)
		}
	}

	switch status {
	case AuthorizationDenied, AuthorizationRestricted:
		p.logger.Info().Str("authorization", string(status)).Msg("location permission not granted")
		return geo.Coordinate{}, ErrPermissionDenied
	case AuthorizationGranted:
	default:
		return geo.Coordinate{}, fmt.Errorf("%w: authorization %s", ErrLocationUnavailable, status)
	}

	fixes := make(chan geo.Coordinate, 1)
	failures := make(chan error, 1)

	var stopOnce sync.Once
	stop := func() { stopOnce.Do(p.service.StopUpdates) }
	defer stop()

	err := p.service.StartUpdates(
		func(c geo.Coordinate) {
			select {
			case fixes <- c:
			default:
			}
		},
		func(err error) {
			select {
			case failures <- err:
			default:
			}
		},
	)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: starting updates: %w", ErrLocationUnavailable, err)
	}

	select {
	case c := <-fixes:
		stop()
		if err := c.Validate(); err != nil {
			return geo.Coordinate{}, fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
		}
		p.logger.Debug().Str("coordinate", c.String()).Msg("location fix received")
		return c, nil
	case err := <-failures:
		if errors.Is(err, ErrPermissionDenied) {
			return geo.Coordinate{}, err
		}
		return geo.Coordinate{}, fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	case <-ctx.Done():
		return geo.Coordinate{}, fmt.Errorf("%w: %w", ErrLocationUnavailable, ctx.Err())
	}
}

// Start runs Locate in the background and reports through exactly one callback.
func (p *Provider) Start(ctx context.Context, onUpdate func(geo.Coordinate), onError func(error)) {
	go func() {
		c, err := p.Locate(ctx)
		if err != nil {
			onError(err)
			return
		}
		onUpdate(c)
	}()
}
