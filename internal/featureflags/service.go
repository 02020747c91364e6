package featureflags

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Update validation errors.
var (
	ErrNoUpdates     = errors.New("no flag updates supplied")
	ErrInvalidUpdate = errors.New("invalid flag update")
	ErrUnknownFlag   = errors.New("unknown feature flag")
)

// ServiceConfig holds configuration for the feature flag service.
type ServiceConfig struct {
	Repository   Repository
	Logger       zerolog.Logger
	CacheTTL     time.Duration // How long to cache flags in memory
	DefaultFlags map[string]*Flag
}

// Service provides feature flag evaluation with caching and fallback.
type Service struct {
	repo         Repository
	logger       zerolog.Logger
	cacheTTL     time.Duration
	defaultFlags map[string]*Flag

	mu          sync.RWMutex
	cache       map[string]*Flag
	cacheExpiry time.Time
}

// NewService creates a new feature flag service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 1 * time.Minute // Default cache TTL
	}

	defaultFlags := cfg.DefaultFlags
	if defaultFlags == nil {
		defaultFlags = DefaultFlags()
	}

	return &Service{
		repo:         cfg.Repository,
		logger:       cfg.Logger,
		cacheTTL:     cacheTTL,
		defaultFlags: defaultFlags,
		cache:        make(map[string]*Flag),
	}
}

// GetFlag retrieves a feature flag by key.
// Uses cached value if available and not expired, with fallback to defaults.
func (s *Service) GetFlag(ctx context.Context, key string) *Flag {
	// Try cache first
	if flag := s.getCached(key); flag != nil {
		return flag
	}

	// Try repository
	flag, err := s.repo.GetFlag(ctx, key)
	if err == nil {
		s.setCached(key, flag)
		return flag
	}

	// Log error if not just "not found"
	if !errors.Is(err, ErrFlagNotFound) {
		s.logger.Warn().Err(err).Str("flag", key).Msg("failed to get feature flag from repository")
	}

	// Fallback to default
	if defaultFlag, ok := s.defaultFlags[key]; ok {
		return defaultFlag
	}

	return nil
}

// GetAllFlags retrieves all feature flags.
// Returns cached values merged with defaults.
func (s *Service) GetAllFlags(ctx context.Context) map[string]*Flag {
	// Start with defaults
	result := make(map[string]*Flag, len(s.defaultFlags))
	for k, v := range s.defaultFlags {
		result[k] = v
	}

	// Try to get from repository
	flags, err := s.repo.GetAllFlags(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to get feature flags from repository, using defaults")
		return result
	}

	// Merge repository flags over defaults
	for k, v := range flags {
		result[k] = v
	}

	// Update cache
	s.mu.Lock()
	s.cache = flags
	s.cacheExpiry = time.Now().Add(s.cacheTTL)
	s.mu.Unlock()

	return result
}

// SetFlag updates a feature flag.
func (s *Service) SetFlag(ctx context.Context, flag *Flag) error {
	flag.UpdatedAt = time.Now()
	if err := s.repo.SetFlag(ctx, flag); err != nil {
		return err
	}

	// Update cache
	s.setCached(flag.Key, flag)
	return nil
}

// SetFlags updates multiple feature flags atomically.
func (s *Service) SetFlags(ctx context.Context, flags []*Flag) error {
	now := time.Now()
	for _, flag := range flags {
		flag.UpdatedAt = now
	}

	if err := s.repo.SetFlags(ctx, flags); err != nil {
		return err
	}

	// Update cache
	s.mu.Lock()
	for _, flag := range flags {
		s.cache[flag.Key] = flag
	}
	s.mu.Unlock()

	return nil
}

// InvalidateCache clears the cached flags, forcing a refresh on next access.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*Flag)
	s.cacheExpiry = time.Time{}
}

// IsEnabled returns true if the flag with the given key is enabled (truthy).
// This is a convenience method for boolean flags.
func (s *Service) IsEnabled(ctx context.Context, key string) bool {
	flag := s.GetFlag(ctx, key)
	return flag.BoolValue(false)
}

// IsDisabled returns true if the flag with the given key is disabled.
// This is the inverse of IsEnabled.
func (s *Service) IsDisabled(ctx context.Context, key string) bool {
	return !s.IsEnabled(ctx, key)
}

// getCached retrieves a flag from cache if valid.
func (s *Service) getCached(key string) *Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if time.Now().After(s.cacheExpiry) {
		return nil
	}

	flag, ok := s.cache[key]
	if !ok {
		return nil
	}
	return flag
}

// setCached stores a flag in the cache.
func (s *Service) setCached(key string, flag *Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[key] = flag
	// Extend cache expiry if setting individual flags
	if s.cacheExpiry.Before(time.Now()) {
		s.cacheExpiry = time.Now().Add(s.cacheTTL)
	}
}

// List returns all flags sorted by key.
func (s *Service) List(ctx context.Context) []Flag {
	all := s.GetAllFlags(ctx)
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]Flag, 0, len(keys))
	for _, k := range keys {
		items = append(items, *all[k])
	}
	return items
}

// Apply stores every update in req and logs the change reason.
func (s *Service) Apply(ctx context.Context, req FlagUpdateRequest) error {
	if len(req.Updates) == 0 {
		return ErrNoUpdates
	}

	flags := make([]*Flag, 0, len(req.Updates))
	for _, u := range req.Updates {
		if u.Key == "" {
			return fmt.Errorf("%w: empty key", ErrInvalidUpdate)
		}
		flags = append(flags, &Flag{Key: u.Key, Value: u.Value})
	}

	if err := s.SetFlags(ctx, flags); err != nil {
		return fmt.Errorf("storing flags: %w", err)
	}

	s.logger.Info().
		Int("count", len(flags)).
		Str("reason", req.Reason).
		Msg("feature flags updated")
	return nil
}

// Reset drops the stored override for key so its default applies again.
// Resetting a flag that has no override is not an error.
func (s *Service) Reset(ctx context.Context, key string) error {
	if _, ok := s.defaultFlags[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFlag, key)
	}
	if err := s.repo.DeleteFlag(ctx, key); err != nil && !errors.Is(err, ErrFlagNotFound) {
		return fmt.Errorf("deleting flag: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()

	s.logger.Info().Str("flag", key).Msg("feature flag reset to default")
	return nil
}

// Convenience methods for well-known flags. A nil service reports everything enabled.

// IsPollenDisabled returns true if the pollen slot is switched off.
func (s *Service) IsPollenDisabled(ctx context.Context) bool {
	return s != nil && s.IsEnabled(ctx, FlagDisablePollen)
}

// IsAirQualityDisabled returns true if the air-quality slot is switched off.
func (s *Service) IsAirQualityDisabled(ctx context.Context) bool {
	return s != nil && s.IsEnabled(ctx, FlagDisableAirQuality)
}

// IsReverseGeocodeDisabled returns true if place-name lookup is switched off.
func (s *Service) IsReverseGeocodeDisabled(ctx context.Context) bool {
	return s != nil && s.IsEnabled(ctx, FlagDisableReverseGeocode)
}

// IsAdsDisabled returns true if the ad unit should not be advertised to clients.
func (s *Service) IsAdsDisabled(ctx context.Context) bool {
	return s != nil && s.IsEnabled(ctx, FlagDisableAds)
}
