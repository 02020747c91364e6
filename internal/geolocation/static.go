package geolocation

import (
	"context"
	"sync"

	"github.com/pollenindex/pollenindex/internal/geo"
)

// StaticService reports a fixed device coordinate with permission granted.
type StaticService struct {
	coord geo.Coordinate

	mu     sync.Mutex
	active bool
}

// NewStaticService creates a service that always reports coord.
func NewStaticService(coord geo.Coordinate) *StaticService {
	return &StaticService{coord: coord}
}

// AuthorizationStatus implements Service.
func (s *StaticService) AuthorizationStatus() Authorization {
	return AuthorizationGranted
}

// RequestPermission implements Service.
func (s *StaticService) RequestPermission(context.Context) (Authorization, error) {
	return AuthorizationGranted, nil
}

// StartUpdates implements Service. The fix is delivered asynchronously.
func (s *StaticService) StartUpdates(onFix func(geo.Coordinate), _ func(error)) error {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()

	go onFix(s.coord)
	return nil
}

// StopUpdates implements Service.
func (s *StaticService) StopUpdates() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// Active reports whether updates are running.
func (s *StaticService) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
