package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrDuplicateProvider = errors.New("provider already registered")
)

// Factory creates a Provider instance.
type Factory func(ctx context.Context) (Provider, error)

type registration struct {
	channel string
	factory Factory
}

// Registry maps provider IDs to their channel and factory.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Add registers factory under id for the given channel.
func (r *Registry) Add(id, channel string, factory Factory) error {
	if id == "" {
		return fmt.Errorf("provider id is required")
	}
	if factory == nil {
		return fmt.Errorf("provider %q: factory is required", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, id)
	}
	r.entries[id] = registration{channel: channel, factory: factory}
	return nil
}

// Resolve creates the provider registered under id.
func (r *Registry) Resolve(ctx context.Context, id string) (Provider, error) {
	r.mu.RLock()
	reg, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}

	p, err := reg.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %s: %w", id, err)
	}
	return p, nil
}

// Channel returns the channel a provider ID is registered for.
func (r *Registry) Channel(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[id]
	return reg.channel, ok
}

// IDs returns the registered provider IDs for channel in sorted order.
// An empty channel returns every ID.
func (r *Registry) IDs(channel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id, reg := range r.entries {
		if channel == "" || reg.channel == channel {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
