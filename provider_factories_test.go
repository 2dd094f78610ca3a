package fitsync

import (
	"sort"
	"testing"

	"github.com/goliatone/go-fitsync/core"
	"github.com/goliatone/go-fitsync/providers/fitbit"
	"github.com/goliatone/go-fitsync/providers/garmin"
	"github.com/goliatone/go-fitsync/providers/oura"
	"github.com/goliatone/go-fitsync/providers/strava"
	"github.com/goliatone/go-fitsync/providers/whoop"
)

func fullProviderConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.Providers = map[string]core.ProviderConfig{
		garmin.ProviderID: {ConsumerKey: "ck", ConsumerSecret: "cs"},
		strava.ProviderID: {ClientID: "c", ClientSecret: "s"},
		fitbit.ProviderID: {ClientID: "c", ClientSecret: "s"},
		oura.ProviderID:   {ClientID: "c", ClientSecret: "s"},
		whoop.ProviderID:  {ClientID: "c", ClientSecret: "s"},
	}
	return cfg
}

func TestBuildRegistry_RegistersEveryConfiguredProvider(t *testing.T) {
	registry := BuildRegistry(fullProviderConfig(), ProviderRuntime{})

	ids := []string{}
	for _, provider := range registry.List() {
		ids = append(ids, provider.ID())
	}
	sort.Strings(ids)
	expected := BuiltInProviderIDs()
	sort.Strings(expected)
	if len(ids) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, ids)
	}
	for i := range ids {
		if ids[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, ids)
		}
	}

	garminProvider, ok := registry.Get(garmin.ProviderID)
	if !ok || garminProvider.Protocol() != core.ProtocolOAuth1 {
		t.Fatalf("expected garmin to use oauth1")
	}
	stravaProvider, ok := registry.Get(strava.ProviderID)
	if !ok || stravaProvider.Protocol() != core.ProtocolOAuth2 {
		t.Fatalf("expected strava to use oauth2")
	}
}

func TestBuildRegistry_MissingCredentialsMarksUnavailable(t *testing.T) {
	cfg := fullProviderConfig()
	cfg.Providers[whoop.ProviderID] = core.ProviderConfig{ClientID: "c"}
	registry := BuildRegistry(cfg, ProviderRuntime{})

	if _, ok := registry.Get(whoop.ProviderID); ok {
		t.Fatalf("expected whoop to be left out of the registry")
	}
	_, err := core.ResolveProvider(registry, whoop.ProviderID)
	if core.KindOf(err) != core.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBuildRegistry_DisabledProviderIsUnknown(t *testing.T) {
	cfg := fullProviderConfig()
	cfg.Providers[oura.ProviderID] = core.ProviderConfig{ClientID: "c", ClientSecret: "s", Disabled: true}
	registry := BuildRegistry(cfg, ProviderRuntime{})

	_, err := core.ResolveProvider(registry, oura.ProviderID)
	if core.KindOf(err) != core.KindProviderNotFound {
		t.Fatalf("expected provider_not_found, got %v", err)
	}
	if _, ok := registry.Get(fitbit.ProviderID); !ok {
		t.Fatalf("expected other providers to stay registered")
	}
}
