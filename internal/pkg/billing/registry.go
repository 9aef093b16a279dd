package billing

import (
	"fmt"
	"sync"
)

// Factory builds a provider. It runs on first use only, so a provider that is
// never selected never touches its SDK or credentials.
type Factory func() (Provider, error)

// Registry resolves providers by id. Resolved providers are cached per
// registry instance.
type Registry struct {
	mu        sync.Mutex
	factories map[ProviderID]Factory
	instances map[ProviderID]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[ProviderID]Factory),
		instances: make(map[ProviderID]Provider),
	}
}

// Register adds or replaces the factory for a provider id.
func (r *Registry) Register(id ProviderID, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
	delete(r.instances, id)
}

// Resolve returns the provider for id, building it on first use. Ids without
// a registered factory fail with *UnsupportedProviderError.
func (r *Registry) Resolve(id ProviderID) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.instances[id]; ok {
		return p, nil
	}
	factory, ok := r.factories[id]
	if !ok || factory == nil {
		return nil, &UnsupportedProviderError{Provider: id}
	}
	p, err := factory()
	if err != nil {
		return nil, fmt.Errorf("init %s provider: %w", id, err)
	}
	r.instances[id] = p
	return p, nil
}

// Strategy resolves the checkout/subscription contract for id.
func (r *Registry) Strategy(id ProviderID) (Strategy, error) {
	return r.Resolve(id)
}

// WebhookHandler resolves the webhook contract for id.
func (r *Registry) WebhookHandler(id ProviderID) (WebhookHandler, error) {
	return r.Resolve(id)
}
