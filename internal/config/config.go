// ABOUTME: Configuration loading and parsing for tutor-realtime
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete tutor-realtime configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Realtime  RealtimeConfig  `yaml:"realtime" toml:"realtime"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// AuthConfig holds authentication configuration. An empty secret leaves
// the API open.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve :443 with tailnet certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // "sqlite" (pure Go, default) or "sqlite3" (cgo)
	Path   string `yaml:"path" toml:"path"`
}

// RealtimeConfig holds realtime session tuning
type RealtimeConfig struct {
	DedupeTTL          time.Duration `yaml:"-" toml:"-"`
	SessionIdleTimeout time.Duration `yaml:"-" toml:"-"`
	DedupeMaxEntries   int           `yaml:"dedupe_max_entries" toml:"dedupe_max_entries"`
	MaxEventBytes      int64         `yaml:"max_event_bytes" toml:"max_event_bytes"`

	// Raw string values for unmarshaling
	DedupeTTLRaw          string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
	SessionIdleTimeoutRaw string `yaml:"session_idle_timeout" toml:"session_idle_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Defaults applied to fields left empty in the file.
const (
	DefaultDedupeTTL          = 5 * time.Minute
	DefaultDedupeMaxEntries   = 10000
	DefaultMaxEventBytes      = 1 << 20
	DefaultSessionIdleTimeout = 30 * time.Minute
)

// DefaultPath returns the config path from TUTOR_REALTIME_CONFIG, or
// $XDG_CONFIG_HOME/tutor-realtime/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("TUTOR_REALTIME_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "tutor-realtime", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Realtime.DedupeTTL == 0 {
		c.Realtime.DedupeTTL = DefaultDedupeTTL
	}
	if c.Realtime.DedupeMaxEntries == 0 {
		c.Realtime.DedupeMaxEntries = DefaultDedupeMaxEntries
	}
	if c.Realtime.MaxEventBytes == 0 {
		c.Realtime.MaxEventBytes = DefaultMaxEventBytes
	}
	if c.Realtime.SessionIdleTimeoutRaw == "" {
		c.Realtime.SessionIdleTimeout = DefaultSessionIdleTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Database.Driver {
	case "", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be \"sqlite\" or \"sqlite3\", got %q", c.Database.Driver)
	}

	if c.Realtime.DedupeTTL < 0 {
		return fmt.Errorf("realtime.dedupe_ttl must not be negative")
	}
	if c.Realtime.DedupeMaxEntries < 0 {
		return fmt.Errorf("realtime.dedupe_max_entries must not be negative")
	}
	if c.Realtime.MaxEventBytes < 0 {
		return fmt.Errorf("realtime.max_event_bytes must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Realtime.DedupeTTLRaw != "" {
		cfg.Realtime.DedupeTTL, err = time.ParseDuration(cfg.Realtime.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_ttl %q: %w", cfg.Realtime.DedupeTTLRaw, err)
		}
	}

	// "0" disables idle reaping, so an explicit zero is kept
	if cfg.Realtime.SessionIdleTimeoutRaw != "" {
		cfg.Realtime.SessionIdleTimeout, err = time.ParseDuration(cfg.Realtime.SessionIdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing session_idle_timeout %q: %w", cfg.Realtime.SessionIdleTimeoutRaw, err)
		}
	}

	return nil
}
