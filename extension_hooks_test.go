package fitsync

import (
	"context"
	"testing"

	"github.com/goliatone/go-fitsync/core"
	"github.com/goliatone/go-fitsync/providers/garmin"
)

func TestExtensionHooks_ApplyProviderPacks(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterProviderPack(ProviderPack{
		Name:      "vendor",
		Providers: []core.Provider{namedProvider{id: "polar"}, namedProvider{id: "coros"}},
	}); err != nil {
		t.Fatalf("register pack: %v", err)
	}
	if err := hooks.RegisterProviderPack(ProviderPack{Name: "vendor", Providers: []core.Provider{namedProvider{id: "suunto"}}}); err == nil {
		t.Fatalf("expected duplicate pack name error")
	}
	if err := hooks.RegisterProviderPack(ProviderPack{Name: "shadow", Providers: []core.Provider{namedProvider{id: garmin.ProviderID}}}); err == nil {
		t.Fatalf("expected built-in shadowing error")
	}

	registry := core.NewProviderRegistry()
	if err := hooks.ApplyProviderPacks(registry); err != nil {
		t.Fatalf("apply packs: %v", err)
	}
	for _, id := range []string{"polar", "coros"} {
		if _, ok := registry.Get(id); !ok {
			t.Fatalf("expected %s registered", id)
		}
	}
	if err := hooks.ApplyProviderPacks(registry); err == nil {
		t.Fatalf("expected second apply to fail on duplicate providers")
	}
}

func TestExtensionHooks_EventSinkFansOut(t *testing.T) {
	hooks := NewExtensionHooks()
	if hooks.EventSink() != nil {
		t.Fatalf("expected nil sink with no registrations")
	}
	received := map[string]int{}
	for _, name := range []string{"audit", "webhook"} {
		name := name
		if err := hooks.RegisterEventSink(name, core.EventSinkFunc(func(context.Context, core.ConnectionEvent) error {
			received[name]++
			return nil
		})); err != nil {
			t.Fatalf("register sink %s: %v", name, err)
		}
	}
	if err := hooks.RegisterEventSink("audit", core.EventSinkFunc(func(context.Context, core.ConnectionEvent) error { return nil })); err == nil {
		t.Fatalf("expected duplicate sink error")
	}
	if err := hooks.EventSink().Publish(context.Background(), core.ConnectionEvent{Type: core.EventConnected}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if received["audit"] != 1 || received["webhook"] != 1 {
		t.Fatalf("expected each sink once, got %v", received)
	}
}
