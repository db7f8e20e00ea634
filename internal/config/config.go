// Package config provides configuration management for the orchestrator.
// Configuration is loaded from YAML files, environment variables and
// command-line arguments, with precedence:
// defaults < YAML file < environment variables < command-line flags.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for the orchestrator.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Backends     []BackendConfig    `yaml:"backends"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address       string        `yaml:"address" env:"BTK_SERVER_ADDRESS"`
	ReadTimeout   time.Duration `yaml:"read_timeout" env:"BTK_SERVER_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" env:"BTK_SERVER_WRITE_TIMEOUT"`
	EnableCORS    bool          `yaml:"enable_cors" env:"BTK_SERVER_ENABLE_CORS"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" env:"BTK_SERVER_SHUTDOWN_GRACE"`
	APIKey        string        `yaml:"api_key" env:"BTK_SERVER_API_KEY"`
}

// OrchestratorConfig holds the task coordination tunables.
type OrchestratorConfig struct {
	MaxConcurrent       int           `yaml:"max_concurrent" env:"BTK_ORCH_MAX_CONCURRENT"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"BTK_ORCH_HEALTH_CHECK_INTERVAL"`
	DefaultTaskTimeout  time.Duration `yaml:"default_task_timeout" env:"BTK_ORCH_DEFAULT_TASK_TIMEOUT"`
	DefaultRetries      int           `yaml:"default_retries" env:"BTK_ORCH_DEFAULT_RETRIES"`
}

// BackendConfig describes one statically configured HTTP backend. Its
// position in the list is its position in the fallback chain.
type BackendConfig struct {
	ID     string            `yaml:"id"`
	Host   string            `yaml:"host"`
	Port   int               `yaml:"port"`
	Role   string            `yaml:"role"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// BridgeConfig holds the settings a bridge-connected backend process uses
// to reach the orchestrator.
type BridgeConfig struct {
	OrchestratorURL   string        `yaml:"orchestrator_url" env:"BTK_BRIDGE_ORCHESTRATOR_URL"`
	ComponentID       string        `yaml:"component_id" env:"BTK_BRIDGE_COMPONENT_ID"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"BTK_BRIDGE_HEARTBEAT_INTERVAL"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" env:"BTK_BRIDGE_RECONNECT_DELAY"`
	RequestTimeout    time.Duration `yaml:"request_timeout" env:"BTK_BRIDGE_REQUEST_TIMEOUT"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"BTK_LOG_LEVEL"`
	Format string `yaml:"format" env:"BTK_LOG_FORMAT"`
	Output string `yaml:"output" env:"BTK_LOG_OUTPUT"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:       ":8080",
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			EnableCORS:    true,
			ShutdownGrace: 2 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrent:       8,
			HealthCheckInterval: 15 * time.Second,
			DefaultTaskTimeout:  30 * time.Second,
			DefaultRetries:      2,
		},
		Backends: nil,
		Bridge: BridgeConfig{
			OrchestratorURL:   "ws://localhost:8080/api/v1/bridge",
			HeartbeatInterval: 10 * time.Second,
			ReconnectDelay:    5 * time.Second,
			RequestTimeout:    60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	cmdArgs    map[string]string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "BTK_",
		cmdArgs:   make(map[string]string),
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithCmdArgs sets command-line arguments for configuration override.
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := l.applyCmdOverrides(cfg); err != nil {
		return nil, fmt.Errorf("apply flag overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	return l.applyEnvToStruct(reflect.ValueOf(cfg).Elem())
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// applyCmdOverrides applies command-line argument overrides to the configuration.
func (l *Loader) applyCmdOverrides(cfg *Config) error {
	for key, value := range l.cmdArgs {
		if err := l.setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("set config value %s: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a configuration value by dot-notation path.
func (l *Loader) setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		fieldName := strings.ReplaceAll(part, "_", "")

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName) || strings.EqualFold(name, part)
		})

		if !field.IsValid() {
			return fmt.Errorf("unknown config path: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("expected %s to be a struct, got %s", part, field.Kind())
		}
		v = field
	}

	return nil
}

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field is not settable")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration parses as a duration string
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		field.SetFloat(f)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	case reflect.Map:
		if field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.String {
			m := make(map[string]string)
			pairs := strings.Split(value, ",")
			for _, pair := range pairs {
				kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
				if len(kv) == 2 {
					m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
				}
			}
			field.Set(reflect.ValueOf(m))
		} else {
			return fmt.Errorf("unsupported map type")
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration from bytes.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}
