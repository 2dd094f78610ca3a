package fitsync

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
	"github.com/goliatone/go-fitsync/providers"
	"github.com/goliatone/go-fitsync/providers/fitbit"
	"github.com/goliatone/go-fitsync/providers/garmin"
	"github.com/goliatone/go-fitsync/providers/oura"
	"github.com/goliatone/go-fitsync/providers/strava"
	"github.com/goliatone/go-fitsync/providers/whoop"
	"github.com/goliatone/go-fitsync/ratelimit"
)

func GarminProvider(cfg garmin.Config) (core.Provider, error) {
	return garmin.New(cfg)
}

func StravaProvider(cfg strava.Config) (core.Provider, error) {
	return strava.New(cfg)
}

func FitbitProvider(cfg fitbit.Config) (core.Provider, error) {
	return fitbit.New(cfg)
}

func OuraProvider(cfg oura.Config) (core.Provider, error) {
	return oura.New(cfg)
}

func WhoopProvider(cfg whoop.Config) (core.Provider, error) {
	return whoop.New(cfg)
}

// BuiltInProviderIDs lists the providers BuildRegistry knows how to build.
func BuiltInProviderIDs() []string {
	return []string{garmin.ProviderID, strava.ProviderID, fitbit.ProviderID, oura.ProviderID, whoop.ProviderID}
}

// ProviderRuntime carries the shared runtime dependencies handed to every
// built-in provider. A nil HTTPClient gets a client that honours provider
// rate-limit headers per API host.
type ProviderRuntime struct {
	HTTPClient     providers.HTTPDoer
	RequestTimeout time.Duration
	Now            func() time.Time
}

// BuildRegistry builds the registry for every built-in provider. Disabled
// providers are skipped. A provider whose credentials are missing or invalid
// is marked unavailable so its routes fail as a configuration error rather
// than as an unknown provider.
func BuildRegistry(cfg core.Config, runtime ProviderRuntime) *core.ProviderRegistry {
	registry := core.NewProviderRegistry()
	if runtime.RequestTimeout <= 0 {
		runtime.RequestTimeout = cfg.Transport.RequestTimeout()
	}
	if runtime.HTTPClient == nil {
		runtime.HTTPClient = ratelimit.NewClient(
			&http.Client{Timeout: runtime.RequestTimeout},
			ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore()),
		)
	}
	for _, id := range BuiltInProviderIDs() {
		providerCfg := lookupProviderConfig(cfg.Providers, id)
		if providerCfg.Disabled {
			continue
		}
		provider, err := buildProvider(id, providerCfg, runtime)
		if err != nil {
			registry.MarkUnavailable(id, err)
			continue
		}
		if err := registry.Register(provider); err != nil {
			registry.MarkUnavailable(id, err)
		}
	}
	return registry
}

func buildProvider(id string, cfg core.ProviderConfig, runtime ProviderRuntime) (core.Provider, error) {
	switch id {
	case garmin.ProviderID:
		return GarminProvider(garmin.Config{
			ConsumerKey:    cfg.ConsumerKey,
			ConsumerSecret: cfg.ConsumerSecret,
			RequestTimeout: runtime.RequestTimeout,
			Now:            runtime.Now,
			HTTPClient:     runtime.HTTPClient,
		})
	case strava.ProviderID:
		return StravaProvider(strava.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			DefaultScopes:  cfg.Scopes,
			RequestTimeout: runtime.RequestTimeout,
			Now:            runtime.Now,
			HTTPClient:     runtime.HTTPClient,
		})
	case fitbit.ProviderID:
		return FitbitProvider(fitbit.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			DefaultScopes:  cfg.Scopes,
			RequestTimeout: runtime.RequestTimeout,
			Now:            runtime.Now,
			HTTPClient:     runtime.HTTPClient,
		})
	case oura.ProviderID:
		return OuraProvider(oura.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			DefaultScopes:  cfg.Scopes,
			RequestTimeout: runtime.RequestTimeout,
			Now:            runtime.Now,
			HTTPClient:     runtime.HTTPClient,
		})
	case whoop.ProviderID:
		return WhoopProvider(whoop.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			DefaultScopes:  cfg.Scopes,
			RequestTimeout: runtime.RequestTimeout,
			Now:            runtime.Now,
			HTTPClient:     runtime.HTTPClient,
		})
	default:
		return nil, fmt.Errorf("fitsync: unknown built-in provider %q", id)
	}
}

func lookupProviderConfig(configs map[string]core.ProviderConfig, id string) core.ProviderConfig {
	if cfg, ok := configs[id]; ok {
		return cfg
	}
	for key, cfg := range configs {
		if strings.EqualFold(strings.TrimSpace(key), id) {
			return cfg
		}
	}
	return core.ProviderConfig{}
}
