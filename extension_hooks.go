package fitsync

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-fitsync/core"
)

// ProviderPack bundles providers beyond the built-in set, for example an
// in-house device vendor, under a name.
type ProviderPack struct {
	Name      string
	Providers []core.Provider
}

type ExtensionHooks struct {
	mu    sync.RWMutex
	packs map[string]ProviderPack
	sinks map[string]core.EventSink
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		packs: map[string]ProviderPack{},
		sinks: map[string]core.EventSink{},
	}
}

func (h *ExtensionHooks) RegisterProviderPack(pack ProviderPack) error {
	if h == nil {
		return fmt.Errorf("fitsync: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("fitsync: provider pack name is required")
	}
	if len(pack.Providers) == 0 {
		return fmt.Errorf("fitsync: provider pack %q has no providers", name)
	}
	builtIn := map[string]bool{}
	for _, id := range BuiltInProviderIDs() {
		builtIn[id] = true
	}
	for _, provider := range pack.Providers {
		if provider == nil {
			return fmt.Errorf("fitsync: provider pack %q contains nil provider", name)
		}
		if builtIn[strings.TrimSpace(provider.ID())] {
			return fmt.Errorf("fitsync: provider pack %q shadows built-in provider %q", name, provider.ID())
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.packs[name]; exists {
		return fmt.Errorf("fitsync: provider pack %q already registered", name)
	}
	h.packs[name] = ProviderPack{Name: name, Providers: append([]core.Provider(nil), pack.Providers...)}
	return nil
}

// RegisterEventSink adds a named listener for connection and sync events.
func (h *ExtensionHooks) RegisterEventSink(name string, sink core.EventSink) error {
	if h == nil {
		return fmt.Errorf("fitsync: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("fitsync: event sink name is required")
	}
	if sink == nil {
		return fmt.Errorf("fitsync: event sink %q is nil", name)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.sinks[name]; exists {
		return fmt.Errorf("fitsync: event sink %q already registered", name)
	}
	h.sinks[name] = sink
	return nil
}

// ApplyProviderPacks registers every pack's providers, in pack name order.
func (h *ExtensionHooks) ApplyProviderPacks(registry core.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("fitsync: registry is required")
	}
	for _, pack := range h.ProviderPacks() {
		for _, provider := range pack.Providers {
			if err := registry.Register(provider); err != nil {
				return fmt.Errorf("fitsync: apply provider pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) ProviderPacks() []ProviderPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.packs))
	for name := range h.packs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]ProviderPack, 0, len(names))
	for _, name := range names {
		pack := h.packs[name]
		out = append(out, ProviderPack{Name: pack.Name, Providers: append([]core.Provider(nil), pack.Providers...)})
	}
	return out
}

// EventSink fans every event out to the registered sinks in name order.
// It returns nil when no sink is registered.
func (h *ExtensionHooks) EventSink() core.EventSink {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	names := make([]string, 0, len(h.sinks))
	for name := range h.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	sinks := make([]core.EventSink, 0, len(names))
	for _, name := range names {
		sinks = append(sinks, h.sinks[name])
	}
	h.mu.RUnlock()
	if len(sinks) == 0 {
		return nil
	}
	return core.NewEventFanout(sinks...)
}
