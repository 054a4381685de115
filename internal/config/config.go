package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Router   RouterConfig   `mapstructure:"router"`
	Events   EventsConfig   `mapstructure:"events"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host     string `mapstructure:"host"`      // Bind address (e.g., 0.0.0.0 for all interfaces)
	HTTPPort int    `mapstructure:"http_port"` // HTTP server port
}

// MetadataConfig represents the metadata registry backend
type MetadataConfig struct {
	Backend string `mapstructure:"backend"` // postgres (default), memory
	DSN     string `mapstructure:"dsn"`     // Postgres connection string for the registry

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RouterConfig represents routing behavior for worker nodes
type RouterConfig struct {
	// SoftLimitMB is the default per-node soft capacity limit.
	// A value stored under the soft_limit_mb runtime setting overrides it.
	SoftLimitMB int64 `mapstructure:"soft_limit_mb"`

	NodeTimeout     time.Duration `mapstructure:"node_timeout"`     // Timeout for worker node calls
	MetadataTimeout time.Duration `mapstructure:"metadata_timeout"` // Timeout for registry calls

	ProbeInterval time.Duration `mapstructure:"probe_interval"` // Health prober cycle interval
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`  // Per-node probe timeout

	NodeMaxOpenConns int `mapstructure:"node_max_open_conns"` // Per worker node connection cap
	NodeMaxIdleConns int `mapstructure:"node_max_idle_conns"`
}

// EventsConfig represents the audit event bus configuration
type EventsConfig struct {
	Type     string `mapstructure:"type"`     // Bus type: nats (default), redis, kafka, memory
	URL      string `mapstructure:"url"`      // Bus server URL (e.g., nats://localhost:4222, redis://localhost:6379)
	Password string `mapstructure:"password"` // Optional authentication

	// Redis-specific options
	RedisDB     int    `mapstructure:"redis_db"`     // Redis database number (default: 0)
	RedisStream string `mapstructure:"redis_stream"` // Redis stream prefix (default: "quilt")

	// Kafka-specific options
	KafkaBrokers []string `mapstructure:"kafka_brokers"` // Kafka broker addresses
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`  // Enable/disable API key authentication
	APIKeys []string `mapstructure:"api_keys"` // List of valid API keys
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
	TimeFormat string `mapstructure:"time_format"` // RFC3339, Unix, Kitchen
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Metadata.Validate(); err != nil {
		return fmt.Errorf("metadata config: %w", err)
	}

	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (c *ServerConfig) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}

	return nil
}

// Validate validates metadata configuration
func (c *MetadataConfig) Validate() error {
	switch c.Backend {
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("metadata.dsn is required for the postgres backend")
		}
	case "memory":
		// No connection settings required
	default:
		return fmt.Errorf("metadata.backend must be 'postgres' or 'memory'")
	}

	return nil
}

// Validate validates router configuration
func (c *RouterConfig) Validate() error {
	if c.SoftLimitMB < 1 {
		return fmt.Errorf("router.soft_limit_mb must be at least 1")
	}

	if c.NodeTimeout <= 0 {
		return fmt.Errorf("router.node_timeout must be positive")
	}

	if c.MetadataTimeout <= 0 {
		return fmt.Errorf("router.metadata_timeout must be positive")
	}

	if c.ProbeInterval <= 0 {
		return fmt.Errorf("router.probe_interval must be positive")
	}

	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("router.probe_timeout must be positive")
	}

	if c.ProbeTimeout >= c.ProbeInterval {
		return fmt.Errorf("router.probe_timeout must be shorter than router.probe_interval")
	}

	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}
