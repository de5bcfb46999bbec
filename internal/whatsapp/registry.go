package whatsapp

import (
	"fmt"
	"sort"
	"sync"
)

// ProviderFactory builds an unstarted provider for one session. It must not
// perform I/O; connecting happens in Initialize.
type ProviderFactory func(sessionID string) (Provider, error)

// Registry maps provider types to factories. It is created via NewRegistry
// and passed explicitly to the Manager.
type Registry struct {
	mu        sync.RWMutex
	factories map[ProviderType]ProviderFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[ProviderType]ProviderFactory{},
	}
}

// Register adds a factory for providerType.
func (r *Registry) Register(providerType ProviderType, factory ProviderFactory) error {
	if factory == nil {
		return fmt.Errorf("provider factory is nil")
	}
	if providerType == "" {
		return fmt.Errorf("provider type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[providerType]; exists {
		return fmt.Errorf("provider type already registered: %s", providerType)
	}
	r.factories[providerType] = factory
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(providerType ProviderType, factory ProviderFactory) {
	if err := r.Register(providerType, factory); err != nil {
		panic(err)
	}
}

// Get returns the factory for providerType.
func (r *Registry) Get(providerType ProviderType) (ProviderFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[providerType]
	return factory, ok
}

// Types returns the registered provider types, sorted.
func (r *Registry) Types() []ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderType, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Factory returns a ProviderFactory bound to providerType, for the Manager.
func (r *Registry) Factory(providerType ProviderType) (ProviderFactory, error) {
	factory, ok := r.Get(providerType)
	if !ok {
		return nil, fmt.Errorf("%w: provider %q is not registered, have %v", ErrNotSupported, providerType, r.Types())
	}
	return factory, nil
}
