package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")          // Current directory
		v.AddConfigPath("./configs")  // Project configs directory
		v.AddConfigPath("/etc/quilt") // System-wide config
	}

	// Set defaults
	setDefaults(v)

	// Enable environment variable overrides
	v.SetEnvPrefix("QUILT")
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; use defaults
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 6600)

	// Metadata defaults
	v.SetDefault("metadata.backend", "postgres")
	v.SetDefault("metadata.max_open_conns", 10)
	v.SetDefault("metadata.max_idle_conns", 5)
	v.SetDefault("metadata.conn_max_lifetime", "30m")

	// Router defaults
	v.SetDefault("router.soft_limit_mb", 1000)
	v.SetDefault("router.node_timeout", "10s")
	v.SetDefault("router.metadata_timeout", "15s")
	v.SetDefault("router.probe_interval", "10m")
	v.SetDefault("router.probe_timeout", "10s")
	v.SetDefault("router.node_max_open_conns", 5)
	v.SetDefault("router.node_max_idle_conns", 2)

	// Events defaults
	v.SetDefault("events.type", "nats")
	v.SetDefault("events.url", "nats://localhost:4222")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from file or returns default config
func LoadOrDefault(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			HTTPPort: 6600,
		},
		Metadata: MetadataConfig{
			Backend:         "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Router: RouterConfig{
			SoftLimitMB:      1000,
			NodeTimeout:      10 * time.Second,
			MetadataTimeout:  15 * time.Second,
			ProbeInterval:    10 * time.Minute,
			ProbeTimeout:     10 * time.Second,
			NodeMaxOpenConns: 5,
			NodeMaxIdleConns: 2,
		},
		Events: EventsConfig{
			Type: "memory",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}
