// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files. It covers server transport, execution
// policy (mode, limits), the security gate, the remote sandbox API, the
// code producer, and the repair loop. Credentials are taken from the
// environment when not present in the file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Security  SecurityConfig  `mapstructure:"security"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Producer  ProducerConfig  `mapstructure:"producer"`
	Repair    RepairConfig    `mapstructure:"repair"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// ExecutionConfig holds execution policy and resource limits.
type ExecutionConfig struct {
	Mode        string `mapstructure:"mode"`   // auto, container, local, remote
	Engine      string `mapstructure:"engine"` // docker or podman
	TimeoutSec  int    `mapstructure:"timeout_sec"`
	MemoryLimit string `mapstructure:"memory_limit"`
	CPUShares   int    `mapstructure:"cpu_shares"`
}

// SecurityConfig holds security gate configuration.
type SecurityConfig struct {
	MaxCodeLength int `mapstructure:"max_code_length"`
}

// RemoteConfig holds remote sandbox API configuration. The API key falls
// back to the SANDBOX_API_KEY environment variable.
type RemoteConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// ProducerConfig holds code producer (LLM backend) configuration. The API
// key falls back to the OPENAI_API_KEY environment variable.
type ProducerConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// RepairConfig holds debug loop configuration.
type RepairConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// New loads and validates the application configuration.
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("execution.mode", "auto")
	viper.SetDefault("execution.engine", "docker")
	viper.SetDefault("execution.timeout_sec", 30)
	viper.SetDefault("execution.memory_limit", "100m")
	viper.SetDefault("execution.cpu_shares", 0)
	viper.SetDefault("security.max_code_length", 10000)
	viper.SetDefault("remote.base_url", "https://api.daytona.dev")
	viper.SetDefault("remote.api_key", "")
	viper.SetDefault("producer.base_url", "https://api.openai.com")
	viper.SetDefault("producer.api_key", "")
	viper.SetDefault("producer.model", "gpt-4o-mini")
	viper.SetDefault("producer.timeout_sec", 120)
	viper.SetDefault("repair.max_attempts", 3)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Credentials are supplied out-of-band when not in the file.
	if config.Remote.APIKey == "" {
		config.Remote.APIKey = os.Getenv("SANDBOX_API_KEY")
	}
	if config.Producer.APIKey == "" {
		config.Producer.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid.
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	supportedModes := map[string]bool{
		"auto":      true,
		"container": true,
		"local":     true,
		"remote":    true,
	}
	if !supportedModes[c.Execution.Mode] {
		return fmt.Errorf("invalid execution.mode: %s, must be one of 'auto', 'container', 'local', 'remote'", c.Execution.Mode)
	}

	if c.Execution.Engine != "docker" && c.Execution.Engine != "podman" {
		return fmt.Errorf("invalid execution.engine: %s, must be 'docker' or 'podman'", c.Execution.Engine)
	}

	if c.Execution.TimeoutSec <= 0 {
		return fmt.Errorf("execution.timeout_sec must be positive, got: %d", c.Execution.TimeoutSec)
	}

	if c.Execution.MemoryLimit == "" {
		return fmt.Errorf("execution.memory_limit must not be empty")
	}

	if c.Security.MaxCodeLength <= 0 {
		return fmt.Errorf("security.max_code_length must be positive, got: %d", c.Security.MaxCodeLength)
	}

	if c.Repair.MaxAttempts <= 0 {
		return fmt.Errorf("repair.max_attempts must be positive, got: %d", c.Repair.MaxAttempts)
	}

	if c.Execution.Mode == "remote" && c.Remote.APIKey == "" {
		return fmt.Errorf("execution.mode is 'remote' but no remote API key is configured")
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration.
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Execution.TimeoutSec) * time.Second
}
