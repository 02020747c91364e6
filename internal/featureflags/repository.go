package featureflags

import (
	"context"
	"errors"
)

// ErrFlagNotFound means no override is stored for a key.
var ErrFlagNotFound = errors.New("feature flag not found")

// Repository stores flag overrides. Keys without an override fall back to
// the service defaults.
type Repository interface {
	GetFlag(ctx context.Context, key string) (*Flag, error)
	GetAllFlags(ctx context.Context) (map[string]*Flag, error)
	SetFlag(ctx context.Context, flag *Flag) error

	// SetFlags stores all flags or none of them.
	SetFlags(ctx context.Context, flags []*Flag) error

	// DeleteFlag drops the override for key, returning ErrFlagNotFound if
	// there was none.
	DeleteFlag(ctx context.Context, key string) error
}
