package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderRegistry holds the configured providers. Providers that failed
// configuration are tracked separately so their routes can fail loudly.
type ProviderRegistry struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	unavailable map[string]error
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers:   make(map[string]Provider),
		unavailable: make(map[string]error),
	}
}

func (r *ProviderRegistry) Register(provider Provider) error {
	if provider == nil {
		return fmt.Errorf("core: provider is nil")
	}
	id := strings.TrimSpace(provider.ID())
	if id == "" {
		return fmt.Errorf("core: provider id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("core: provider already registered: %s", id)
	}
	r.providers[id] = provider
	delete(r.unavailable, id)
	return nil
}

// MarkUnavailable records that providerID is known but cannot serve requests.
func (r *ProviderRegistry) MarkUnavailable(providerID string, cause error) {
	id := strings.TrimSpace(providerID)
	if id == "" {
		return
	}
	if cause == nil {
		cause = fmt.Errorf("core: provider %s is not configured", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; exists {
		return
	}
	r.unavailable[id] = cause
}

func (r *ProviderRegistry) Unavailable(providerID string) (error, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cause, ok := r.unavailable[strings.TrimSpace(providerID)]
	return cause, ok
}

func (r *ProviderRegistry) Get(providerID string) (Provider, bool) {
	id := strings.TrimSpace(providerID)
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	provider, ok := r.providers[id]
	r.mu.RUnlock()
	return provider, ok
}

func (r *ProviderRegistry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.providers))
	for id := range r.providers {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	providers := make([]Provider, 0, len(keys))
	for _, id := range keys {
		providers = append(providers, r.providers[id])
	}
	return providers
}

type unavailableReporter interface {
	Unavailable(providerID string) (error, bool)
}

// ResolveProvider returns the provider or a classified error: Configuration
// for a known but unconfigured provider, ProviderNotFound otherwise.
func ResolveProvider(registry Registry, providerID string) (Provider, error) {
	if registry == nil {
		return nil, NewError(KindConfiguration, "core: provider registry is not configured")
	}
	id := strings.TrimSpace(providerID)
	if id == "" {
		return nil, NewError(KindInvalidRequest, "core: provider id is required")
	}
	if provider, ok := registry.Get(id); ok {
		return provider, nil
	}
	if reporter, ok := registry.(unavailableReporter); ok {
		if cause, unavailable := reporter.Unavailable(id); unavailable {
			return nil, WrapError(KindConfiguration, cause, fmt.Sprintf("core: provider %s is not configured", id)).
				WithMetadata(map[string]any{"provider_id": id})
		}
	}
	return nil, NewError(KindProviderNotFound, fmt.Sprintf("core: provider not registered: %s", id)).
		WithMetadata(map[string]any{"provider_id": id})
}

var _ Registry = (*ProviderRegistry)(nil)
