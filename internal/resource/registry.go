// Package resource manages process-wide resources that are expensive to
// open, such as the database. Each resource is loaded lazily on first use,
// shared by every holder of a Handle and closed when the last handle is
// released.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknown   = errors.New("unknown resource")
	ErrDuplicate = errors.New("resource already registered")
	ErrReleased  = errors.New("resource handle released")
)

// LoadFunc opens a resource.
type LoadFunc func(ctx context.Context) (any, error)

// CloseFunc releases a loaded resource. It may be nil.
type CloseFunc func(v any) error

type entry struct {
	name  string
	load  LoadFunc
	close CloseFunc

	mu     sync.Mutex
	value  any
	loaded bool
	refs   int
}

// Registry maps names to lazily loaded resources.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Default is the process-wide registry used by cmd/fleettrack.
var Default = NewRegistry()

// Register declares a resource. Nothing is loaded until a handle asks for it.
func (r *Registry) Register(name string, load LoadFunc, closeFn CloseFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.entries[name] = &entry{name: name, load: load, close: closeFn}
	return nil
}

// Acquire returns a new handle on name.
func (r *Registry) Acquire(name string) (*Handle, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	e.mu.Lock()
	e.refs++
	e.mu.Unlock()
	return &Handle{e: e}, nil
}

// Refs reports the number of live handles on name.
func (r *Registry) Refs(name string) int {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refs
}

// Loaded reports whether name is currently open.
func (r *Registry) Loaded(name string) bool {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Handle is one holder's reference to a registered resource.
type Handle struct {
	mu       sync.Mutex
	e        *entry
	released bool
}

// Name returns the resource name.
func (h *Handle) Name() string { return h.e.name }

// EnsureLoaded returns the resource, loading it first if no holder has.
// Concurrent callers share a single load. A failed load is not cached, so
// a later call retries.
func (h *Handle) EnsureLoaded(ctx context.Context) (any, error) {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return nil, ErrReleased
	}

	e := h.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return e.value, nil
	}
	v, err := e.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", e.name, err)
	}
	e.value, e.loaded = v, true
	return v, nil
}

// Release drops the reference. The resource is closed when the last handle
// goes. Releasing twice is a no-op.
func (h *Handle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.mu.Unlock()

	e := h.e
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refs--
	if e.refs > 0 || !e.loaded {
		return nil
	}
	v := e.value
	e.value, e.loaded = nil, false
	if e.close != nil {
		if err := e.close(v); err != nil {
			return fmt.Errorf("close %s: %w", e.name, err)
		}
	}
	return nil
}

// Value loads h and asserts the resource to T.
func Value[T any](ctx context.Context, h *Handle) (T, error) {
	var zero T
	v, err := h.EnsureLoaded(ctx)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("resource %s has type %T, want %T", h.Name(), v, zero)
	}
	return t, nil
}
