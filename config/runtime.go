package config

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr                   string `koanf:"addr"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

// DatabaseConfig selects the SQL backend. Driver is sqlite3 or postgres.
type DatabaseConfig struct {
	Driver             string `koanf:"driver"`
	DSN                string `koanf:"dsn"`
	Debug              bool   `koanf:"debug"`
	PingTimeoutSeconds int    `koanf:"ping_timeout_seconds"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig toggles the read-through cache for the latest sync record.
type CacheConfig struct {
	Disabled bool `koanf:"disabled"`
}

// Runtime holds the process settings that sit outside core.Config.
type Runtime struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Cache    CacheConfig    `koanf:"cache"`
}

func DefaultRuntime() Runtime {
	return Runtime{
		Server: ServerConfig{
			Addr:                   ":8080",
			ShutdownTimeoutSeconds: 10,
		},
		Database: DatabaseConfig{
			Driver:             "sqlite3",
			DSN:                "file:fitsync.db?cache=shared&_foreign_keys=on",
			PingTimeoutSeconds: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadRuntime reads the server, database, log and cache sections from the
// same sources as Load, over DefaultRuntime.
func LoadRuntime(_ context.Context, path string) (Runtime, error) {
	k, err := NewLoader(path).load()
	if err != nil {
		return Runtime{}, err
	}
	runtime := DefaultRuntime()
	if err := k.Unmarshal("", &runtime); err != nil {
		return Runtime{}, core.WrapError(core.KindConfiguration, err, "config: decode runtime settings")
	}
	runtime.Database.Driver = strings.ToLower(strings.TrimSpace(runtime.Database.Driver))
	switch runtime.Database.Driver {
	case "sqlite3", "sqlite", "postgres", "postgresql":
	default:
		return Runtime{}, core.NewError(core.KindConfiguration, "config: unsupported database driver "+runtime.Database.Driver)
	}
	if strings.TrimSpace(runtime.Database.DSN) == "" {
		return Runtime{}, core.NewError(core.KindConfiguration, "config: database dsn is required")
	}
	return runtime, nil
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	if c.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func (c DatabaseConfig) PingTimeout() time.Duration {
	if c.PingTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.PingTimeoutSeconds) * time.Second
}

// SQLDriver returns the database/sql driver name registered by the imported
// driver packages.
func (c DatabaseConfig) SQLDriver() string {
	switch c.Driver {
	case "postgres", "postgresql":
		return "postgres"
	default:
		return "sqlite3"
	}
}
