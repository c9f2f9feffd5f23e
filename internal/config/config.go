package config

import (
	"fmt"
	"time"

	"github.com/quotapanel/quotapanel/internal/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration
type Config struct {
	Version     int               `yaml:"version"`
	Server      ServerConfig      `yaml:"server"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Proxy       ProxyFileConfig   `yaml:"proxy"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Aggregator  AggregatorConfig  `yaml:"aggregator"`
	Telegram    TelegramConfig    `yaml:"telegram"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
}

// CredentialsConfig holds credential store settings
type CredentialsConfig struct {
	Dir      string        `yaml:"dir"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// ProxyFileConfig points at the persisted proxy configuration file
type ProxyFileConfig struct {
	ConfigPath string `yaml:"config_path"`
}

// SnapshotConfig holds the last-value quota snapshot store settings
type SnapshotConfig struct {
	DBPath string `yaml:"db_path"`
}

// AggregatorConfig holds aggregation orchestrator settings
type AggregatorConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TelegramConfig holds quota alert delivery settings
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// Defaults returns a configuration populated with default values
func Defaults() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Host:            "0.0.0.0",
			HTTPPort:        3078,
			ShutdownTimeout: 30 * time.Second,
			LogLevel:        "info",
		},
		Credentials: CredentialsConfig{
			Dir:      "./config",
			CacheTTL: 5 * time.Second,
		},
		Proxy: ProxyFileConfig{
			ConfigPath: "./config/proxy.json",
		},
		Snapshot: SnapshotConfig{
			DBPath: "./data/quotapanel.db",
		},
		Aggregator: AggregatorConfig{
			Concurrency: 5,
			Timeout:     15 * time.Second,
		},
	}
}

// Parse parses configuration from a byte slice, applying defaults first
func Parse(data []byte) (*Config, error) {
	config := Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, &errors.ErrConfigParse{Err: err}
	}

	if err := config.Validate(); err != nil {
		return nil, &errors.ErrConfigValidation{Err: err}
	}

	return config, nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be in (0, 65535], got %d", c.Server.HTTPPort)
	}
	if c.Credentials.Dir == "" {
		return fmt.Errorf("credentials.dir must not be empty")
	}
	if c.Credentials.CacheTTL < 0 {
		return fmt.Errorf("credentials.cache_ttl must not be negative")
	}
	if c.Aggregator.Concurrency <= 0 {
		return fmt.Errorf("aggregator.concurrency must be positive, got %d", c.Aggregator.Concurrency)
	}
	if c.Aggregator.Timeout <= 0 {
		return fmt.Errorf("aggregator.timeout must be positive")
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required when telegram.enabled is true")
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be one of debug, info, warn, error")
	}
	return nil
}
