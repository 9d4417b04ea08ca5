package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read by Load.
const DefaultPath = "config.yaml"

// EnvPrefix prefixes environment overrides. Nested keys use a double
// underscore: HUB_STORAGE__TYPE=memory.
const EnvPrefix = "HUB_"

type Config struct {
	Server      ServerConfig       `koanf:"server"`
	Storage     StorageConfig      `koanf:"storage"`
	Webhook     WebhookConfig      `koanf:"webhook"`
	Queue       QueueConfig        `koanf:"queue"`
	Tracing     TracingConfig      `koanf:"tracing"`
	Connections []ConnectionConfig `koanf:"connections"`
	Flows       []FlowConfig       `koanf:"flows"`
}

type ServerConfig struct {
	Port           int    `koanf:"port"`
	RequestTimeout string `koanf:"request_timeout"` // Duration string like "30s"
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, postgres, mysql, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
	// Database is the generic database configuration for postgres and mysql
	Database DatabaseConfig `koanf:"database"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// DatabaseConfig is the generic database configuration supporting multiple dialects.
type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres, mysql
	DSN    string `koanf:"dsn"`    // Data source name / connection string
}

// WebhookConfig applies to every outbound delivery unless a job overrides it.
type WebhookConfig struct {
	Scheme      string `koanf:"scheme"`
	TokenHeader string `koanf:"token_header"`
	Timeout     string `koanf:"timeout"`
	// DenyPrivateNetworks refuses deliveries to loopback and private
	// addresses.
	DenyPrivateNetworks bool `koanf:"deny_private_networks"`
}

type QueueConfig struct {
	Workers int `koanf:"workers"` // 0 delivers inline
	Buffer  int `koanf:"buffer"`
}

type TracingConfig struct {
	Enabled bool `koanf:"enabled"`
}

// ConnectionConfig seeds a connection at startup when none with the same
// name exists.
type ConnectionConfig struct {
	Name       string         `koanf:"name"`
	URL        string         `koanf:"url"`
	Key        string         `koanf:"key"`
	Token      string         `koanf:"token"`
	Parameters map[string]any `koanf:"parameters"`
}

type FlowConfig struct {
	Name       string      `koanf:"name"`
	Connection string      `koanf:"connection"`
	Jobs       []JobConfig `koanf:"jobs"`
}

type JobConfig struct {
	Name       string         `koanf:"name"`
	Type       string         `koanf:"type"`       // webhook (default)
	Connection string         `koanf:"connection"` // defaults to the flow's connection
	Path       string         `koanf:"path"`
	EventTypes []string       `koanf:"event_types"`
	Options    map[string]any `koanf:"options"`
}

// TimeoutDuration parses the webhook timeout.
func (w WebhookConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("webhook.timeout", w.Timeout)
}

// RequestTimeoutDuration parses the server request timeout. Zero disables it.
func (s ServerConfig) RequestTimeoutDuration() (time.Duration, error) {
	return parseDuration("server.request_timeout", s.RequestTimeout)
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads DefaultPath, if present, and the environment.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads the YAML file at path, if present, applies HUB_ environment
// overrides and defaults, and validates the result.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in connection credentials
	for i := range cfg.Connections {
		cfg.Connections[i].Token = substituteEnvVars(cfg.Connections[i].Token)
		cfg.Connections[i].Key = substituteEnvVars(cfg.Connections[i].Key)
	}
	cfg.Storage.Database.DSN = substituteEnvVars(cfg.Storage.Database.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":          8080,
		"storage.type":         "sqlite",
		"storage.sqlite.path":  "./data/hub.db",
		"webhook.scheme":       "https",
		"webhook.token_header": "X-Hub-Token",
		"webhook.timeout":      "10s",
		"queue.workers":        0,
		"queue.buffer":         64,
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

// Validate checks cross-references between flows, jobs and durations.
func (c *Config) Validate() error {
	if _, err := c.Webhook.TimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Server.RequestTimeoutDuration(); err != nil {
		return err
	}

	switch c.Storage.Type {
	case "sqlite", "postgres", "mysql", "memory":
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}

	seen := make(map[string]bool, len(c.Flows))
	for _, f := range c.Flows {
		if f.Name == "" {
			return fmt.Errorf("flow name is required")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate flow %q", f.Name)
		}
		seen[f.Name] = true

		if f.Connection == "" {
			return fmt.Errorf("flow %s: connection is required", f.Name)
		}
		for _, j := range f.Jobs {
			if j.Name == "" {
				return fmt.Errorf("flow %s: job name is required", f.Name)
			}
			if j.Type != "" && j.Type != "webhook" {
				return fmt.Errorf("flow %s job %s: unsupported type %q", f.Name, j.Name, j.Type)
			}
		}
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
