// Package config provides the huelink configuration file format.
package config

import (
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Bridge          BridgeConfig    `yaml:"bridge"`
	Discovery       DiscoveryConfig `yaml:"discovery"`
	Stream          StreamConfig    `yaml:"stream"`
	Cache           CacheConfig     `yaml:"cache"`
	Database        DatabaseConfig  `yaml:"database"`
	Log             LogConfig       `yaml:"log"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"`
}

// BridgeConfig contains Hue bridge connection settings
type BridgeConfig struct {
	// Address pins a bridge by IP; when empty, discovery is used instead.
	Address string `yaml:"address"`
	// DeviceName is the instance name sent during pairing (devicetype suffix).
	DeviceName string   `yaml:"device_name"`
	Timeout    Duration `yaml:"timeout"` // HTTP timeout for REST requests

	// Pairing retry settings - how long to wait between link button prompts
	PairRetryInterval Duration `yaml:"pair_retry_interval"`
}

// DiscoveryConfig contains bridge discovery settings
type DiscoveryConfig struct {
	Endpoint string   `yaml:"endpoint"`  // Cloud discovery endpoint URL
	CacheTTL Duration `yaml:"cache_ttl"` // Cloud response cache lifetime
	MDNS     bool     `yaml:"mdns"`      // Enable local mDNS browsing
}

// StreamConfig contains event stream reconnect settings.
// Reconnection is driven by the session, not the stream itself.
type StreamConfig struct {
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 2m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
}

// CacheConfig contains state cache settings
type CacheConfig struct {
	RefreshInterval Duration `yaml:"refresh_interval"` // Full REST refresh interval
	CommandInterval Duration `yaml:"command_interval"` // Per-light control command throttle window
	ValidateEvery   Duration `yaml:"validate_every"`   // Connection liveness check interval
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./huelink.sqlite"
	}

	if cfg.Bridge.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "huelinkd"
		}
		cfg.Bridge.DeviceName = hostname
	}
	if cfg.Bridge.Timeout == 0 {
		cfg.Bridge.Timeout = Duration(30 * time.Second)
	}
	if cfg.Bridge.PairRetryInterval == 0 {
		cfg.Bridge.PairRetryInterval = Duration(5 * time.Second)
	}

	// Discovery defaults
	if cfg.Discovery.Endpoint == "" {
		cfg.Discovery.Endpoint = "https://discovery.meethue.com"
	}
	if cfg.Discovery.CacheTTL == 0 {
		cfg.Discovery.CacheTTL = Duration(15 * time.Minute)
	}

	// Stream defaults
	if cfg.Stream.MinRetryBackoff == 0 {
		cfg.Stream.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.Stream.MaxRetryBackoff == 0 {
		cfg.Stream.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if cfg.Stream.RetryMultiplier == 0 {
		cfg.Stream.RetryMultiplier = 2.0
	}

	// Cache defaults
	if cfg.Cache.RefreshInterval == 0 {
		cfg.Cache.RefreshInterval = Duration(5 * time.Minute)
	}
	if cfg.Cache.CommandInterval == 0 {
		cfg.Cache.CommandInterval = Duration(1 * time.Second)
	}
	if cfg.Cache.ValidateEvery == 0 {
		cfg.Cache.ValidateEvery = Duration(1 * time.Minute)
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
