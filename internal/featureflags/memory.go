package featureflags

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository keeps flags in process memory. It is the default store:
// overrides last until restart, which suits a single-instance deployment.
// FEATURE_FLAG_STORE=postgres switches to PostgresRepository.
type InMemoryRepository struct {
	mu    sync.RWMutex
	flags map[string]Flag
}

// NewInMemoryRepository returns a repository seeded with DefaultFlags.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithFlags(DefaultFlags())
}

// NewInMemoryRepositoryWithFlags returns a repository seeded with flags.
func NewInMemoryRepositoryWithFlags(flags map[string]*Flag) *InMemoryRepository {
	r := &InMemoryRepository{flags: make(map[string]Flag, len(flags))}
	for key, f := range flags {
		r.flags[key] = *f
	}
	return r
}

// GetFlag returns a copy of the flag stored under key.
func (r *InMemoryRepository) GetFlag(_ context.Context, key string) (*Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.flags[key]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return &f, nil
}

// GetAllFlags returns copies of every stored flag.
func (r *InMemoryRepository) GetAllFlags(_ context.Context) (map[string]*Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*Flag, len(r.flags))
	for key, f := range r.flags {
		f := f
		out[key] = &f
	}
	return out, nil
}

// SetFlag stores flag, stamping it with the current time.
func (r *InMemoryRepository) SetFlag(ctx context.Context, flag *Flag) error {
	return r.SetFlags(ctx, []*Flag{flag})
}

// SetFlags stores every flag under one lock.
func (r *InMemoryRepository) SetFlags(_ context.Context, flags []*Flag) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, f := range flags {
		r.flags[f.Key] = Flag{Key: f.Key, Value: f.Value, UpdatedAt: now}
	}
	return nil
}

// DeleteFlag removes the flag stored under key.
func (r *InMemoryRepository) DeleteFlag(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.flags[key]; !ok {
		return ErrFlagNotFound
	}
	delete(r.flags, key)
	return nil
}
