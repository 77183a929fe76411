package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the sync service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Sync     SyncConfig     `yaml:"sync"`
}

// ServerConfig holds HTTP server configuration for the proxy gateway.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres connection settings for the cache store
// and account tables.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds Redis settings for the transient notification store.
// Redis is optional: with no URL configured the notifier degrades to a no-op.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds the backend auth service settings used by the token
// provider (refresh-token grant).
type AuthConfig struct {
	TokenURL               string `yaml:"token_url"`
	ClientID               string `yaml:"client_id"`
	RefreshToken           string `yaml:"refresh_token"`
	RefreshIntervalMinutes int    `yaml:"refresh_interval_minutes"`
}

// RefreshInterval returns the background token refresh period.
func (c AuthConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMinutes) * time.Minute
}

// GatewayConfig holds proxy gateway behavior settings.
type GatewayConfig struct {
	BaseURL               string `yaml:"base_url"` // gateway URL as seen by the worker
	ProxyTimeoutSeconds   int    `yaml:"proxy_timeout_seconds"`
	PingTimeoutSeconds    int    `yaml:"ping_timeout_seconds"`
	ConnTestTimeoutSecs   int    `yaml:"conn_test_timeout_seconds"`
	HeartbeatWindowSecs   int    `yaml:"heartbeat_window_seconds"`
	HeartbeatFunctionName string `yaml:"heartbeat_function_name"`
}

// ProxyTimeout returns the overall timeout for proxied upstream calls.
func (c GatewayConfig) ProxyTimeout() time.Duration {
	return time.Duration(c.ProxyTimeoutSeconds) * time.Second
}

// PingTimeout returns the timeout for the bare reachability HEAD ping.
func (c GatewayConfig) PingTimeout() time.Duration {
	return time.Duration(c.PingTimeoutSeconds) * time.Second
}

// ConnTestTimeout returns the timeout for the authenticated connection test.
func (c GatewayConfig) ConnTestTimeout() time.Duration {
	return time.Duration(c.ConnTestTimeoutSecs) * time.Second
}

// HeartbeatWindow returns the minimum idle period between heartbeat upserts.
func (c GatewayConfig) HeartbeatWindow() time.Duration {
	return time.Duration(c.HeartbeatWindowSecs) * time.Second
}

// SyncConfig holds sync orchestrator settings.
type SyncConfig struct {
	PageSize            int `yaml:"page_size"`
	IntervalMinutes     int `yaml:"interval_minutes"`
	ListTimeoutSeconds  int `yaml:"list_timeout_seconds"`
	AvailabilityTTLSecs int `yaml:"availability_ttl_seconds"`
}

// Interval returns the scheduled sync period.
func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// ListTimeout returns the timeout for one campaign list page fetch.
func (c SyncConfig) ListTimeout() time.Duration {
	return time.Duration(c.ListTimeoutSeconds) * time.Second
}

// AvailabilityTTL returns how long a successful availability verdict is cached.
func (c SyncConfig) AvailabilityTTL() time.Duration {
	return time.Duration(c.AvailabilityTTLSecs) * time.Second
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Auth.RefreshIntervalMinutes == 0 {
		cfg.Auth.RefreshIntervalMinutes = 25
	}
	if cfg.Gateway.ProxyTimeoutSeconds == 0 {
		cfg.Gateway.ProxyTimeoutSeconds = 25
	}
	if cfg.Gateway.PingTimeoutSeconds == 0 {
		cfg.Gateway.PingTimeoutSeconds = 5
	}
	if cfg.Gateway.ConnTestTimeoutSecs == 0 {
		cfg.Gateway.ConnTestTimeoutSecs = 10
	}
	if cfg.Gateway.HeartbeatWindowSecs == 0 {
		cfg.Gateway.HeartbeatWindowSecs = 30
	}
	if cfg.Gateway.HeartbeatFunctionName == "" {
		cfg.Gateway.HeartbeatFunctionName = "acelle-proxy"
	}
	if cfg.Sync.PageSize == 0 {
		cfg.Sync.PageSize = 50
	}
	if cfg.Sync.IntervalMinutes == 0 {
		cfg.Sync.IntervalMinutes = 15
	}
	if cfg.Sync.ListTimeoutSeconds == 0 {
		cfg.Sync.ListTimeoutSeconds = 20
	}
	if cfg.Sync.AvailabilityTTLSecs == 0 {
		cfg.Sync.AvailabilityTTLSecs = 60
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AUTH_TOKEN_URL"); v != "" {
		cfg.Auth.TokenURL = v
	}
	if v := os.Getenv("AUTH_CLIENT_ID"); v != "" {
		cfg.Auth.ClientID = v
	}
	if v := os.Getenv("AUTH_REFRESH_TOKEN"); v != "" {
		cfg.Auth.RefreshToken = v
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	return cfg, nil
}
