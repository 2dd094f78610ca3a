package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-fitsync/core"
)

const sampleYAML = `
service_name: fitsync-test
oauth:
  callback_base_url: https://app.example/callback
  state_secret: from-file
sync:
  initial_lookback_days: 14
  schedule: "@every 30m"
providers:
  strava:
    client_id: "12345"
    client_secret: file-secret
    scopes: [read, activity:read_all]
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fitsync.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeConfig(t)
	t.Setenv("FITSYNC_SYNC__INITIAL_LOOKBACK_DAYS", "7")
	t.Setenv("FITSYNC_PROVIDERS__STRAVA__CLIENT_SECRET", "env-secret")
	t.Setenv("FITSYNC_PROVIDERS__OURA__CLIENT_ID", "98765")
	t.Setenv("FITSYNC_PROVIDERS__OURA__DISABLED", "true")

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceName != "fitsync-test" {
		t.Fatalf("expected service name from file, got %q", cfg.ServiceName)
	}
	if cfg.Sync.InitialLookbackDays != 7 {
		t.Fatalf("expected env override for lookback, got %d", cfg.Sync.InitialLookbackDays)
	}
	if cfg.Sync.Schedule != "@every 30m" {
		t.Fatalf("expected schedule from file, got %q", cfg.Sync.Schedule)
	}
	if cfg.Sync.RefreshSkewSeconds != 60 || cfg.Sync.MaxParallelProviders != 5 {
		t.Fatalf("expected defaults preserved, got %+v", cfg.Sync)
	}
	strava := cfg.Providers["strava"]
	if strava.ClientID != "12345" || strava.ClientSecret != "env-secret" || len(strava.Scopes) != 2 {
		t.Fatalf("unexpected strava config %+v", strava)
	}
	oura := cfg.Providers["oura"]
	if oura.ClientID != "98765" || !oura.Disabled {
		t.Fatalf("unexpected oura config %+v", oura)
	}
}

func TestLoad_MissingFileIsConfigurationError(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if core.KindOf(err) != core.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestTransformEnv(t *testing.T) {
	cases := []struct {
		key      string
		value    string
		wantKey  string
		wantType string
	}{
		{"FITSYNC_SYNC__MAX_PARALLEL_PROVIDERS", "3", "sync.max_parallel_providers", "int"},
		{"FITSYNC_PROVIDERS__GARMIN__CONSUMER_KEY", "123", "providers.garmin.consumer_key", "string"},
		{"FITSYNC_PROVIDERS__FITBIT__SCOPES", "activity, sleep", "providers.fitbit.scopes", "slice"},
		{"FITSYNC_PROVIDERS__WHOOP__DISABLED", "false", "providers.whoop.disabled", "bool"},
	}
	for _, tc := range cases {
		key, value := transformEnv(tc.key, tc.value)
		if key != tc.wantKey {
			t.Fatalf("expected key %q, got %q", tc.wantKey, key)
		}
		var gotType string
		switch value.(type) {
		case int:
			gotType = "int"
		case string:
			gotType = "string"
		case []string:
			gotType = "slice"
		case bool:
			gotType = "bool"
		}
		if gotType != tc.wantType {
			t.Fatalf("expected %s for %s, got %T", tc.wantType, tc.key, value)
		}
	}
}

func TestLoadRuntime_DefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fitsync.yaml")
	body := `
server:
  addr: ":9090"
database:
  driver: postgres
  dsn: postgres://fitsync@localhost/fitsync?sslmode=disable
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FITSYNC_LOG__LEVEL", "debug")

	runtime, err := LoadRuntime(context.Background(), path)
	if err != nil {
		t.Fatalf("load runtime: %v", err)
	}
	if runtime.Server.Addr != ":9090" || runtime.Server.ShutdownTimeout().Seconds() != 10 {
		t.Fatalf("unexpected server settings %+v", runtime.Server)
	}
	if runtime.Database.SQLDriver() != "postgres" {
		t.Fatalf("expected postgres driver, got %q", runtime.Database.SQLDriver())
	}
	if runtime.Log.Level != "debug" || runtime.Log.Format != "json" {
		t.Fatalf("expected env log level over default format, got %+v", runtime.Log)
	}

	// Runtime sections never reach the core config decoder.
	raw, err := NewLoader(path).LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	if _, ok := raw["database"]; ok {
		t.Fatalf("expected database section stripped from raw config")
	}
}

func TestLoadRuntime_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("FITSYNC_DATABASE__DRIVER", "mysql")
	_, err := LoadRuntime(context.Background(), "")
	if core.KindOf(err) != core.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
