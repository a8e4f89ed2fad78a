package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Discovery policies for tabs seen for the first time.
const (
	DiscoveryNow            = "now"
	DiscoveryInstallClamped = "install-clamped"
)

// Config holds all daemon configuration loaded from environment variables.
// User-editable cleanup settings live in the synced settings file, not here.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP server for the extension bridge, probes and Prometheus
	HTTPAddr string `envconfig:"HTTP_ADDR" default:"127.0.0.1:8787"`

	// Message API for UI collaborators
	APIAddr        string `envconfig:"API_ADDR" default:"127.0.0.1:8788"`
	APICORSOrigins string `envconfig:"API_CORS_ORIGINS"` // e.g. chrome-extension://<id>

	// Storage
	DBPath       string `envconfig:"DB_PATH" default:"tabcleaner.db"`
	SettingsPath string `envconfig:"SETTINGS_PATH" default:"settings.yaml"`

	// Scheduling
	KeepaliveInterval time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"4m"`

	// Bridge
	BridgeRequestTimeout time.Duration `envconfig:"BRIDGE_REQUEST_TIMEOUT" default:"10s"`
	BridgeOrigins        string        `envconfig:"BRIDGE_ALLOWED_ORIGINS"` // comma-separated

	// Estimation policy for untracked tabs. Fixed for the life of the process.
	DiscoveryPolicy string        `envconfig:"DISCOVERY_POLICY" default:"now"`
	DiscoveryClamp  time.Duration `envconfig:"DISCOVERY_CLAMP" default:"10m"`
}

// Validate checks values envconfig cannot check on its own.
func (c *Config) Validate() error {
	c.DiscoveryPolicy = strings.ToLower(strings.TrimSpace(c.DiscoveryPolicy))
	switch c.DiscoveryPolicy {
	case DiscoveryNow, DiscoveryInstallClamped:
	default:
		return fmt.Errorf("invalid DISCOVERY_POLICY %q, expected %q or %q", c.DiscoveryPolicy, DiscoveryNow, DiscoveryInstallClamped)
	}
	if c.DiscoveryClamp < 0 {
		return fmt.Errorf("DISCOVERY_CLAMP must not be negative")
	}
	if c.KeepaliveInterval < time.Minute {
		return fmt.Errorf("KEEPALIVE_INTERVAL must be at least 1m, got %s", c.KeepaliveInterval)
	}
	if c.BridgeRequestTimeout <= 0 {
		return fmt.Errorf("BRIDGE_REQUEST_TIMEOUT must be positive")
	}
	return nil
}

// Development reports whether the daemon runs in development mode.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Environment, "development")
}

// BridgeOriginList returns the allowed extension origins. Empty allows any.
func (c *Config) BridgeOriginList() []string {
	if c.BridgeOrigins == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(c.BridgeOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
