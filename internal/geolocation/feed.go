package geolocation

import (
	"context"
	"sync"

	"github.com/pollenindex/pollenindex/internal/geo"
)

// FeedService is a Service driven from outside, e.g. by a message queue.
// Fixes pushed while updates are stopped are held; only the newest is kept
// and it is delivered when updates next start.
type FeedService struct {
	mu      sync.Mutex
	auth    Authorization
	changed chan struct{}
	pending *geo.Coordinate
	active  bool
	onFix   func(geo.Coordinate)
	onError func(error)
}

// NewFeedService creates a feed with the given initial authorization.
func NewFeedService(initial Authorization) *FeedService {
	if initial == "" {
		initial = AuthorizationNotDetermined
	}
	return &FeedService{
		auth:    initial,
		changed: make(chan struct{}),
	}
}

// AuthorizationStatus implements Service.
func (f *FeedService) AuthorizationStatus() Authorization {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auth
}

// RequestPermission waits for the next SetAuthorization while undetermined.
func (f *FeedService) RequestPermission(ctx context.Context) (Authorization, error) {
	for {
		f.mu.Lock()
		auth, changed := f.auth, f.changed
		f.mu.Unlock()

		if auth != AuthorizationNotDetermined {
			return auth, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return AuthorizationNotDetermined, ctx.Err()
		}
	}
}

// SetAuthorization records a permission change and wakes waiting requests.
func (f *FeedService) SetAuthorization(a Authorization) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.auth = a
	close(f.changed)
	f.changed = make(chan struct{})
}

// StartUpdates implements Service. A held fix is delivered immediately.
func (f *FeedService) StartUpdates(onFix func(geo.Coordinate), onError func(error)) error {
	f.mu.Lock()
	f.active = true
	f.onFix = onFix
	f.onError = onError
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()

	if pending != nil {
		onFix(*pending)
	}
	return nil
}

// StopUpdates implements Service.
func (f *FeedService) StopUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.active = false
	f.onFix = nil
	f.onError = nil
}

// Push delivers a fix to the active listener, or holds it.
func (f *FeedService) Push(c geo.Coordinate) {
	f.mu.Lock()
	onFix := f.onFix
	if !f.active || onFix == nil {
		f.pending = &c
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	onFix(c)
}

// Fail reports a sensor error to the active listener. It is dropped otherwise.
func (f *FeedService) Fail(err error) {
	f.mu.Lock()
	onError := f.onError
	f.mu.Unlock()

	if onError != nil {
		onError(err)
	}
}

// Pending returns the held fix, if any.
func (f *FeedService) Pending() (geo.Coordinate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return geo.Coordinate{}, false
	}
	return *f.pending, true
}
