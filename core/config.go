package core

import (
	"fmt"
	"strings"
	"time"
)

type OAuthConfig struct {
	CallbackBaseURL     string `koanf:"callback_base_url" mapstructure:"callback_base_url"`
	StatusRedirectURL   string `koanf:"status_redirect_url" mapstructure:"status_redirect_url"`
	StateSecret         string `koanf:"state_secret" mapstructure:"state_secret"`
	StateTTLSeconds     int    `koanf:"state_ttl_seconds" mapstructure:"state_ttl_seconds"`
	HandshakeTTLSeconds int    `koanf:"handshake_ttl_seconds" mapstructure:"handshake_ttl_seconds"`
}

type SyncConfig struct {
	InitialLookbackDays  int    `koanf:"initial_lookback_days" mapstructure:"initial_lookback_days"`
	RefreshSkewSeconds   int    `koanf:"refresh_skew_seconds" mapstructure:"refresh_skew_seconds"`
	Schedule             string `koanf:"schedule" mapstructure:"schedule"`
	MaxParallelProviders int    `koanf:"max_parallel_providers" mapstructure:"max_parallel_providers"`
}

type TransportConfig struct {
	RequestTimeoutSeconds int `koanf:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
}

// SecurityConfig enables token encryption at rest when TokenKey is set.
type SecurityConfig struct {
	TokenKey     string `koanf:"token_key" mapstructure:"token_key"`
	TokenKeyID   string `koanf:"token_key_id" mapstructure:"token_key_id"`
	TokenVersion int    `koanf:"token_key_version" mapstructure:"token_key_version"`
}

// ProviderConfig carries the application credentials for one provider.
// OAuth2 providers use the client pair, OAuth1.0a providers the consumer pair.
type ProviderConfig struct {
	ClientID       string   `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret   string   `koanf:"client_secret" mapstructure:"client_secret"`
	ConsumerKey    string   `koanf:"consumer_key" mapstructure:"consumer_key"`
	ConsumerSecret string   `koanf:"consumer_secret" mapstructure:"consumer_secret"`
	Scopes         []string `koanf:"scopes" mapstructure:"scopes"`
	Disabled       bool     `koanf:"disabled" mapstructure:"disabled"`
}

type Config struct {
	ServiceName string                    `koanf:"service_name" mapstructure:"service_name"`
	OAuth       OAuthConfig               `koanf:"oauth" mapstructure:"oauth"`
	Sync        SyncConfig                `koanf:"sync" mapstructure:"sync"`
	Transport   TransportConfig           `koanf:"transport" mapstructure:"transport"`
	Security    SecurityConfig            `koanf:"security" mapstructure:"security"`
	Providers   map[string]ProviderConfig `koanf:"providers" mapstructure:"providers"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "fitsync",
		OAuth: OAuthConfig{
			CallbackBaseURL:     "http://localhost:8080/callback",
			StatusRedirectURL:   "/connections/status",
			StateTTLSeconds:     600,
			HandshakeTTLSeconds: 900,
		},
		Sync: SyncConfig{
			InitialLookbackDays:  30,
			RefreshSkewSeconds:   60,
			Schedule:             "@every 1h",
			MaxParallelProviders: 5,
		},
		Transport: TransportConfig{
			RequestTimeoutSeconds: 30,
		},
		Providers: map[string]ProviderConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.OAuth.StatusRedirectURL) == "" {
		return fmt.Errorf("core: oauth.status_redirect_url is required")
	}
	if c.OAuth.StateTTLSeconds <= 0 {
		return fmt.Errorf("core: oauth.state_ttl_seconds must be > 0")
	}
	if c.OAuth.HandshakeTTLSeconds <= 0 {
		return fmt.Errorf("core: oauth.handshake_ttl_seconds must be > 0")
	}
	if c.Sync.InitialLookbackDays <= 0 {
		return fmt.Errorf("core: sync.initial_lookback_days must be > 0")
	}
	if c.Sync.RefreshSkewSeconds < 0 {
		return fmt.Errorf("core: sync.refresh_skew_seconds must be >= 0")
	}
	if c.Sync.MaxParallelProviders <= 0 {
		return fmt.Errorf("core: sync.max_parallel_providers must be > 0")
	}
	if c.Transport.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("core: transport.request_timeout_seconds must be > 0")
	}
	return nil
}

func (c OAuthConfig) StateTTL() time.Duration {
	return time.Duration(c.StateTTLSeconds) * time.Second
}

func (c OAuthConfig) HandshakeTTL() time.Duration {
	return time.Duration(c.HandshakeTTLSeconds) * time.Second
}

// CallbackURL returns the redirect URI registered for the provider.
func (c OAuthConfig) CallbackURL(providerID string) string {
	base := strings.TrimRight(strings.TrimSpace(c.CallbackBaseURL), "/")
	if base == "" {
		return ""
	}
	return base + "/" + strings.TrimSpace(providerID)
}

func (c SyncConfig) RefreshSkew() time.Duration {
	return time.Duration(c.RefreshSkewSeconds) * time.Second
}

func (c TransportConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
