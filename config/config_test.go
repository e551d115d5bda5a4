package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			HTTPPort:  8080,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
		Execution: ExecutionConfig{
			Mode:        "auto",
			Engine:      "docker",
			TimeoutSec:  30,
			MemoryLimit: "100m",
		},
		Security: SecurityConfig{
			MaxCodeLength: 10000,
		},
		Repair: RepairConfig{
			MaxAttempts: 3,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		cfg := validConfig()
		require.NoError(t, cfg.validate())
	})

	t.Run("InvalidServerTransport", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "invalid"
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.transport")
	})

	t.Run("InvalidExecutionMode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Execution.Mode = "kubernetes"
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid execution.mode")
	})

	t.Run("InvalidEngine", func(t *testing.T) {
		cfg := validConfig()
		cfg.Execution.Engine = "lxc"
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid execution.engine")
	})

	t.Run("InvalidTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Execution.TimeoutSec = 0
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "execution.timeout_sec must be positive")
	})

	t.Run("InvalidMaxCodeLength", func(t *testing.T) {
		cfg := validConfig()
		cfg.Security.MaxCodeLength = -1
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "security.max_code_length must be positive")
	})

	t.Run("InvalidMaxAttempts", func(t *testing.T) {
		cfg := validConfig()
		cfg.Repair.MaxAttempts = 0
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "repair.max_attempts must be positive")
	})

	t.Run("RemoteModeRequiresAPIKey", func(t *testing.T) {
		cfg := validConfig()
		cfg.Execution.Mode = "remote"
		cfg.Remote.APIKey = ""
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "remote API key")

		cfg.Remote.APIKey = "test-key"
		require.NoError(t, cfg.validate())
	})
}

func TestNewWithDefaults(t *testing.T) {
	viper.Reset()
	t.Chdir(t.TempDir())

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "auto", cfg.Execution.Mode)
	assert.Equal(t, "docker", cfg.Execution.Engine)
	assert.Equal(t, 30, cfg.Execution.TimeoutSec)
	assert.Equal(t, "100m", cfg.Execution.MemoryLimit)
	assert.Equal(t, 10000, cfg.Security.MaxCodeLength)
	assert.Equal(t, 3, cfg.Repair.MaxAttempts)
}

func TestNewWithConfigFile(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	t.Chdir(dir)

	raw := map[string]any{
		"server": map[string]any{
			"transport": "http",
			"http_port": 9090,
		},
		"execution": map[string]any{
			"mode":        "local",
			"timeout_sec": 5,
		},
		"repair": map[string]any{
			"max_attempts": 5,
		},
	}
	data, err := yaml.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0600))

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Server.Transport)
	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, "local", cfg.Execution.Mode)
	assert.Equal(t, 5, cfg.Execution.TimeoutSec)
	assert.Equal(t, 5, cfg.Repair.MaxAttempts)
	// Unset values keep their defaults.
	assert.Equal(t, "100m", cfg.Execution.MemoryLimit)
}

func TestCredentialsFromEnvironment(t *testing.T) {
	viper.Reset()
	t.Chdir(t.TempDir())
	t.Setenv("SANDBOX_API_KEY", "remote-secret")
	t.Setenv("OPENAI_API_KEY", "producer-secret")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "remote-secret", cfg.Remote.APIKey)
	assert.Equal(t, "producer-secret", cfg.Producer.APIKey)
}

func TestGetTimeout(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "30s", cfg.GetTimeout().String())
}
