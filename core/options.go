package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StoreProvider exposes a full set of persistence stores.
type StoreProvider interface {
	ConnectionStore() ConnectionStore
	HandshakeStore() HandshakeStore
	MetricStore() MetricStore
	SyncRecordStore() SyncRecordStore
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	registry        Registry
	connectionStore ConnectionStore
	handshakeStore  HandshakeStore
	stores          StoreProvider
	syncTrigger     SyncTrigger
	eventSink       EventSink
	now             func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithRegistry(registry Registry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

func WithConnectionStore(store ConnectionStore) Option {
	return func(b *serviceBuilder) {
		b.connectionStore = store
	}
}

func WithHandshakeStore(store HandshakeStore) Option {
	return func(b *serviceBuilder) {
		b.handshakeStore = store
	}
}

// WithStores fills any store not set explicitly from provider.
func WithStores(provider StoreProvider) Option {
	return func(b *serviceBuilder) {
		b.stores = provider
	}
}

func WithSyncTrigger(trigger SyncTrigger) Option {
	return func(b *serviceBuilder) {
		b.syncTrigger = trigger
	}
}

func WithEventSink(sink EventSink) Option {
	return func(b *serviceBuilder) {
		b.eventSink = sink
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("fitsync", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		registry:        NewProviderRegistry(),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	return copyAnyMap(l.Values), nil
}

// StaticConfigLoader serves a fixed raw config map.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig resolves the effective configuration: defaults, then the
// provider's loaded values, then runtime overrides.
func LoadConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	setInt := func(target map[string]any, key string, value int) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}

	setString(layer, "service_name", cfg.ServiceName)

	oauth := map[string]any{}
	setString(oauth, "callback_base_url", cfg.OAuth.CallbackBaseURL)
	setString(oauth, "status_redirect_url", cfg.OAuth.StatusRedirectURL)
	setString(oauth, "state_secret", cfg.OAuth.StateSecret)
	setInt(oauth, "state_ttl_seconds", cfg.OAuth.StateTTLSeconds)
	setInt(oauth, "handshake_ttl_seconds", cfg.OAuth.HandshakeTTLSeconds)
	if len(oauth) > 0 {
		layer["oauth"] = oauth
	}

	syncLayer := map[string]any{}
	setInt(syncLayer, "initial_lookback_days", cfg.Sync.InitialLookbackDays)
	setInt(syncLayer, "refresh_skew_seconds", cfg.Sync.RefreshSkewSeconds)
	setString(syncLayer, "schedule", cfg.Sync.Schedule)
	setInt(syncLayer, "max_parallel_providers", cfg.Sync.MaxParallelProviders)
	if len(syncLayer) > 0 {
		layer["sync"] = syncLayer
	}

	transportLayer := map[string]any{}
	setInt(transportLayer, "request_timeout_seconds", cfg.Transport.RequestTimeoutSeconds)
	if len(transportLayer) > 0 {
		layer["transport"] = transportLayer
	}

	securityLayer := map[string]any{}
	setString(securityLayer, "token_key", cfg.Security.TokenKey)
	setString(securityLayer, "token_key_id", cfg.Security.TokenKeyID)
	setInt(securityLayer, "token_key_version", cfg.Security.TokenVersion)
	if len(securityLayer) > 0 {
		layer["security"] = securityLayer
	}

	if includeZero || len(cfg.Providers) > 0 {
		providers := make(map[string]any, len(cfg.Providers))
		for id, provider := range cfg.Providers {
			providers[id] = map[string]any{
				"client_id":       provider.ClientID,
				"client_secret":   provider.ClientSecret,
				"consumer_key":    provider.ConsumerKey,
				"consumer_secret": provider.ConsumerSecret,
				"scopes":          append([]string(nil), provider.Scopes...),
				"disabled":        provider.Disabled,
			}
		}
		layer["providers"] = providers
	}
	return layer
}
