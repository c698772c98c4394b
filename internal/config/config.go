// ABOUTME: Configuration loading and parsing for coven-relay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-relay configuration
type Config struct {
	Matrix     MatrixConfig     `yaml:"matrix"`
	Agent      AgentConfig      `yaml:"agent"`
	Relay      RelayConfig      `yaml:"relay"`
	Connection ConnectionConfig `yaml:"connection"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// MatrixConfig holds the homeserver connection settings
type MatrixConfig struct {
	Homeserver string `yaml:"homeserver"`
	// Username and Password drive the login/pairing flow; once paired
	// the stored access token is used instead.
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	AllowedRooms []string `yaml:"allowed_rooms"`
}

// AgentConfig holds the external agent service settings
type AgentConfig struct {
	URL       string `yaml:"url"`
	Workspace string `yaml:"workspace"`
}

// RelayConfig holds conversation loop tuning
type RelayConfig struct {
	TypingIndicator bool `yaml:"typing_indicator"`
	// ChunkLimit is the maximum outbound message size in runes.
	ChunkLimit int `yaml:"chunk_limit"`
	// MaxAttachmentBytes caps attachment downloads; 0 disables them.
	MaxAttachmentBytes int64 `yaml:"max_attachment_bytes"`
}

// ConnectionConfig holds reconnect and watchdog tuning
type ConnectionConfig struct {
	// PolicyPath optionally points at a TOML close-code policy table.
	PolicyPath string `yaml:"policy_path"`

	BackoffBase   time.Duration `yaml:"-"`
	BackoffCap    time.Duration `yaml:"-"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	// BackoffJitter is the uniform jitter fraction applied to reconnect
	// delays; 0 keeps the built-in default.
	BackoffJitter    float64       `yaml:"backoff_jitter"`
	EchoTTL          time.Duration `yaml:"-"`
	WatchdogInterval time.Duration `yaml:"-"`
	StaleThreshold   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	BackoffBaseRaw      string `yaml:"backoff_base"`
	BackoffCapRaw       string `yaml:"backoff_cap"`
	EchoTTLRaw          string `yaml:"echo_ttl"`
	WatchdogIntervalRaw string `yaml:"watchdog_interval"`
	StaleThresholdRaw   string `yaml:"stale_threshold"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// Secret, when set, encrypts the stored credentials blob at rest.
	Secret string `yaml:"secret"`
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
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}

	if c.Agent.URL == "" {
		return fmt.Errorf("agent.url is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Relay.ChunkLimit < 0 {
		return fmt.Errorf("relay.chunk_limit must not be negative")
	}

	if c.Connection.BackoffFactor < 0 || (c.Connection.BackoffFactor > 0 && c.Connection.BackoffFactor < 1) {
		return fmt.Errorf("connection.backoff_factor must be at least 1")
	}

	if c.Connection.BackoffJitter < 0 || c.Connection.BackoffJitter >= 1 {
		return fmt.Errorf("connection.backoff_jitter must be in [0, 1)")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backoff_base", cfg.Connection.BackoffBaseRaw, &cfg.Connection.BackoffBase},
		{"backoff_cap", cfg.Connection.BackoffCapRaw, &cfg.Connection.BackoffCap},
		{"echo_ttl", cfg.Connection.EchoTTLRaw, &cfg.Connection.EchoTTL},
		{"watchdog_interval", cfg.Connection.WatchdogIntervalRaw, &cfg.Connection.WatchdogInterval},
		{"stale_threshold", cfg.Connection.StaleThresholdRaw, &cfg.Connection.StaleThreshold},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
