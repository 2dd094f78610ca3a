package config

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/goliatone/go-fitsync/core"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix scopes the environment overrides, e.g.
	// FITSYNC_SYNC__INITIAL_LOOKBACK_DAYS=14 sets sync.initial_lookback_days.
	EnvPrefix = "FITSYNC_"

	envNestingSeparator = "__"
	keyDelimiter        = "."
)

// runtimeSections are decoded by LoadRuntime and kept out of core.Config.
var runtimeSections = []string{"server", "database", "log", "cache"}

// Loader reads an optional YAML file and then the FITSYNC_ environment
// into a raw map for core.CfgxConfigProvider. Environment values win.
type Loader struct {
	Path string
}

func NewLoader(path string) *Loader {
	return &Loader{Path: strings.TrimSpace(path)}
}

func (l *Loader) LoadRaw(context.Context) (map[string]any, error) {
	k, err := l.load()
	if err != nil {
		return nil, err
	}
	raw := k.Raw()
	for _, section := range runtimeSections {
		delete(raw, section)
	}
	return raw, nil
}

func (l *Loader) load() (*koanf.Koanf, error) {
	k := koanf.New(keyDelimiter)
	if l != nil && l.Path != "" {
		if _, err := os.Stat(l.Path); err != nil {
			return nil, core.WrapError(core.KindConfiguration, err, "config: config file "+l.Path+" is not readable")
		}
		if err := k.Load(file.Provider(l.Path), yaml.Parser()); err != nil {
			return nil, core.WrapError(core.KindConfiguration, err, "config: parse "+l.Path)
		}
	}

	opt := env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
	}
	if err := k.Load(env.Provider(keyDelimiter, opt), nil); err != nil {
		return nil, core.WrapError(core.KindConfiguration, err, "config: load environment")
	}
	return k, nil
}

// Load resolves the effective configuration from path and the environment.
func Load(ctx context.Context, path string) (core.Config, error) {
	return core.LoadConfig(ctx, core.NewCfgxConfigProvider(NewLoader(path)), nil, core.Config{})
}

func transformEnv(key string, value string) (string, any) {
	key = strings.TrimPrefix(key, EnvPrefix)
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "", nil
	}
	key = strings.ReplaceAll(key, envNestingSeparator, keyDelimiter)
	return key, coerce(key, strings.TrimSpace(value))
}

var stringKeySuffixes = []string{
	"client_id",
	"client_secret",
	"consumer_key",
	"consumer_secret",
	"token_key",
	"token_key_id",
	"state_secret",
	"callback_base_url",
	"status_redirect_url",
	"service_name",
	"schedule",
	"addr",
	"driver",
	"dsn",
	"level",
	"format",
}

// coerce converts env strings into the scalar types the config decoder
// expects. Credentials always stay strings; scope lists are comma separated.
func coerce(key string, value string) any {
	for _, suffix := range stringKeySuffixes {
		if strings.HasSuffix(key, suffix) {
			return value
		}
	}
	if strings.HasSuffix(key, ".scopes") {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}
