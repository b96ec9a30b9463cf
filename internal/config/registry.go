package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxseg/pkg/capture"
)

// ErrBackendNotRegistered is returned by [Registry.CreateSource] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: capture backend not registered")

// SourceFactory constructs a capture source from the capture section of a
// config.
type SourceFactory func(cfg CaptureConfig) (capture.Source, error)

// Registry maps backend names to capture source constructors.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[Backend]SourceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[Backend]SourceFactory),
	}
}

// RegisterSource registers a capture source factory under backend.
// Subsequent calls with the same backend overwrite the previous registration.
func (r *Registry) RegisterSource(backend Backend, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[backend] = factory
}

// CreateSource instantiates a capture source using the factory registered
// under cfg.Backend. Returns [ErrBackendNotRegistered] if no factory has been
// registered for that backend.
func (r *Registry) CreateSource(cfg CaptureConfig) (capture.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// Backends returns the registered backend names in sorted order.
func (r *Registry) Backends() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Backend, 0, len(r.sources))
	for b := range r.sources {
		names = append(names, b)
	}
	slices.Sort(names)
	return names
}
