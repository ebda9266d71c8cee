// ABOUTME: Configuration loading and parsing for inbox-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete inbox-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Graph    GraphConfig    `yaml:"graph"`
	Email    EmailConfig    `yaml:"email"`
	Push     PushConfig     `yaml:"push"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration for the agent API
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// WebhooksConfig holds Meta webhook verification configuration
type WebhooksConfig struct {
	VerifyToken string `yaml:"verify_token"`
	AppSecret   string `yaml:"app_secret"`
}

// GraphConfig holds Meta Graph API configuration
type GraphConfig struct {
	BaseURL string `yaml:"base_url"`
	Version string `yaml:"version"`
}

// EmailConfig holds mail-poller timing configuration
type EmailConfig struct {
	PollInterval time.Duration `yaml:"-"`
	CycleTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PollIntervalRaw string `yaml:"poll_interval"`
	CycleTimeoutRaw string `yaml:"cycle_timeout"`
}

// PushConfig holds push notification configuration
type PushConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Email.PollIntervalRaw != "" {
		cfg.Email.PollInterval, err = time.ParseDuration(cfg.Email.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Email.PollIntervalRaw, err)
		}
	}

	if cfg.Email.CycleTimeoutRaw != "" {
		cfg.Email.CycleTimeout, err = time.ParseDuration(cfg.Email.CycleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing cycle_timeout %q: %w", cfg.Email.CycleTimeoutRaw, err)
		}
	}

	return nil
}
