package broadcast

import (
	"errors"
	"sync"
)

// ErrObserverClosed is returned by an Observer that can no longer accept
// payloads.
var ErrObserverClosed = errors.New("broadcast: observer closed")

// Observer receives encoded batches. Deliver must not block for longer than
// a single best-effort hand-off; any error removes the observer.
type Observer interface {
	ID() string
	Deliver(payload []byte) error
}

// Registry is the set of connected observers keyed by ID.
type Registry struct {
	mu        sync.RWMutex
	observers map[string]Observer
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{observers: make(map[string]Observer)}
}

// Connect adds o, replacing any observer registered under the same ID.
func (r *Registry) Connect(o Observer) {
	r.mu.Lock()
	r.observers[o.ID()] = o
	r.mu.Unlock()
}

// Disconnect removes o. It reports whether o was registered.
func (r *Registry) Disconnect(o Observer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.observers[o.ID()]; !ok {
		return false
	}
	delete(r.observers, o.ID())
	return true
}

// List returns a copy of the current observer set.
func (r *Registry) List() []Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		out = append(out, o)
	}
	return out
}

// Count returns the number of registered observers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}
