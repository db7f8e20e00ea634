package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 8, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, 15*time.Second, cfg.Orchestrator.HealthCheckInterval)
	assert.Equal(t, 10*time.Second, cfg.Bridge.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.Bridge.ReconnectDelay)
	assert.Equal(t, 60*time.Second, cfg.Bridge.RequestTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":9999"
orchestrator:
  max_concurrent: 4
  default_retries: 1
backends:
  - id: auto-1
    host: localhost
    port: 7001
    role: automation
  - id: gen-1
    host: localhost
    port: 7002
    role: generic
logging:
  level: debug
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, 4, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, 1, cfg.Orchestrator.DefaultRetries)
	// Unset values keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.DefaultTaskTimeout)

	require.Len(t, cfg.Backends, 2)
	assert.Equal(t, "auto-1", cfg.Backends[0].ID)
	assert.Equal(t, 7001, cfg.Backends[0].Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BTK_SERVER_ADDRESS", ":7777")
	t.Setenv("BTK_ORCH_MAX_CONCURRENT", "16")
	t.Setenv("BTK_ORCH_HEALTH_CHECK_INTERVAL", "5s")
	t.Setenv("BTK_SERVER_ENABLE_CORS", "false")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.Address)
	assert.Equal(t, 16, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.HealthCheckInterval)
	assert.False(t, cfg.Server.EnableCORS)
}

func TestCmdOverridesWinOverEnv(t *testing.T) {
	t.Setenv("BTK_SERVER_ADDRESS", ":7777")

	cfg, err := NewLoader().WithCmdArgs(map[string]string{
		"server.address":               ":6666",
		"orchestrator.default_retries": "5",
	}).Load()
	require.NoError(t, err)

	assert.Equal(t, ":6666", cfg.Server.Address)
	assert.Equal(t, 5, cfg.Orchestrator.DefaultRetries)
}

func TestCmdOverrideUnknownPath(t *testing.T) {
	_, err := NewLoader().WithCmdArgs(map[string]string{"no.such.path": "x"}).Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty address":        func(c *Config) { c.Server.Address = "" },
		"zero concurrency":     func(c *Config) { c.Orchestrator.MaxConcurrent = 0 },
		"negative retries":     func(c *Config) { c.Orchestrator.DefaultRetries = -1 },
		"bad log level":        func(c *Config) { c.Logging.Level = "verbose" },
		"backend without id":   func(c *Config) { c.Backends = []BackendConfig{{Host: "h", Port: 1}} },
		"backend bad port":     func(c *Config) { c.Backends = []BackendConfig{{ID: "a", Host: "h", Port: 0}} },
		"duplicate backend id": func(c *Config) {
			c.Backends = []BackendConfig{
				{ID: "a", Host: "h", Port: 1},
				{ID: "a", Host: "h", Port: 2},
			}
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Address = ":1234"
	cfg.Backends = []BackendConfig{{ID: "a", Host: "localhost", Port: 7001, Role: "automation"}}

	data, err := cfg.Serialize()
	require.NoError(t, err)

	parsed, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.Server.Address, parsed.Server.Address)
	assert.Equal(t, cfg.Backends, parsed.Backends)
}
