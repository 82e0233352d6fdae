// Package config handles reading and writing ~/.tinymem/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level structure for config.yaml.
type Config struct {
	Version int           `yaml:"version"`
	Store   StoreConfig   `yaml:"store"`
	Server  ServerConfig  `yaml:"server"`
	Ask     AskConfig     `yaml:"ask"`
	Cleanup CleanupConfig `yaml:"cleanup"`
	Log     LogConfig     `yaml:"log"`
	Bridge  BridgeConfig  `yaml:"bridge"`
}

// StoreConfig selects the key-value backend.
type StoreConfig struct {
	Backend    string `yaml:"backend"` // "redis" | "sqlite"
	RedisURL   string `yaml:"redis_url"`
	SQLitePath string `yaml:"sqlite_path"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"` // empty disables auth
}

// AskConfig tunes the ask/answer rendezvous.
type AskConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// CleanupConfig tunes the stale-session sweeper.
type CleanupConfig struct {
	IntervalSeconds    int `yaml:"interval_seconds"`
	MaxInactiveSeconds int `yaml:"max_inactive_seconds"`
}

// LogConfig controls operational logging and the lifecycle journal.
type LogConfig struct {
	Level   string `yaml:"level"`   // debug | info | warn | error
	Format  string `yaml:"format"`  // text | json
	Journal string `yaml:"journal"` // empty disables the journal
}

// BridgeConfig is where the MCP bridge finds the HTTP server.
type BridgeConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

const (
	configDirName = ".tinymem"
	configFile    = "config.yaml"
)

// Backend names.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Environment variables that override file values.
const (
	EnvRedis = "TINYMEM_REDIS"
	EnvPort  = "TINYMEM_PORT"
	EnvToken = "TINYMEM_TOKEN"
	EnvHost  = "TINYMEM_HOST"
)

// DefaultDir returns ~/.tinymem.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// ReadConfig reads config.yaml from dir. A missing file yields DefaultConfig;
// a malformed one is an error. Fields absent from the file keep their defaults.
func ReadConfig(dir string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(filepath.Join(dir, configFile))
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// WriteConfig writes cfg to config.yaml in dir, creating dir if needed.
func WriteConfig(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	path := filepath.Join(dir, configFile)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// Load reads the config in dir and applies environment overrides.
func Load(dir string) (*Config, error) {
	cfg, err := ReadConfig(dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the TINYMEM_* variables found by lookup.
// TINYMEM_PORT applies to both the server and the bridge; TINYMEM_HOST is
// where the bridge connects.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRedis); ok && v != "" {
		c.Store.RedisURL = v
	}
	if v, ok := lookup(EnvToken); ok {
		c.Server.Token = v
	}
	if v, ok := lookup(EnvHost); ok && v != "" {
		c.Bridge.Host = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s %q", EnvPort, v)
		}
		c.Server.Port = port
		c.Bridge.Port = port
	}
	return nil
}

// Validate reports settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendRedis:
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url is required for the redis backend")
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Ask.PollIntervalMs <= 0 || c.Ask.TimeoutSeconds <= 0 {
		return errors.New("ask.poll_interval_ms and ask.timeout_seconds must be positive")
	}
	if c.Cleanup.IntervalSeconds <= 0 || c.Cleanup.MaxInactiveSeconds <= 0 {
		return errors.New("cleanup.interval_seconds and cleanup.max_inactive_seconds must be positive")
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Ask.PollIntervalMs) * time.Millisecond
}

func (c *Config) AskTimeout() time.Duration {
	return time.Duration(c.Ask.TimeoutSeconds) * time.Second
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalSeconds) * time.Second
}

func (c *Config) MaxInactive() time.Duration {
	return time.Duration(c.Cleanup.MaxInactiveSeconds) * time.Second
}

// ListenAddr is the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// BridgeURL is the base URL the MCP bridge sends requests to.
func (c *Config) BridgeURL() string {
	return fmt.Sprintf("http://%s:%d", c.Bridge.Host, c.Bridge.Port)
}

// ResolvePath makes a relative path from the config file relative to dir.
// Empty paths stay empty.
func ResolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Backend:    BackendRedis,
			RedisURL:   "redis://127.0.0.1:6379",
			SQLitePath: "tinymem.db",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Ask: AskConfig{
			PollIntervalMs: 500,
			TimeoutSeconds: 300,
		},
		Cleanup: CleanupConfig{
			IntervalSeconds:    30,
			MaxInactiveSeconds: 120,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "text",
			Journal: "journal.jsonl",
		},
		Bridge: BridgeConfig{
			Host: "localhost",
			Port: 3000,
		},
	}
}
