// Package config loads daemon settings: built-in defaults, then an optional
// YAML file, then HOTCMD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/alucardeht/hotcmd/internal/dispatch"
	"github.com/alucardeht/hotcmd/internal/logger"
	"github.com/alucardeht/hotcmd/internal/module"
)

const EnvPrefix = "HOTCMD_"

type LoggingConfig struct {
	Level     string `yaml:"level" env:"LEVEL"`
	Format    string `yaml:"format" env:"FORMAT"`
	AddSource bool   `yaml:"add_source" env:"ADD_SOURCE"`

	// DefaultChannel is the legacy single destination. Channels overrides it
	// per component.
	DefaultChannel string            `yaml:"default_channel" env:"DEFAULT_CHANNEL"`
	Channels       map[string]string `yaml:"channels" env:"CHANNELS"`
}

type Config struct {
	RootDir                string   `yaml:"root_dir" env:"ROOT_DIR"`
	DebounceMs             int      `yaml:"debounce_ms" env:"DEBOUNCE_MS"`
	CooldownDefaultSeconds float64  `yaml:"cooldown_default_seconds" env:"COOLDOWN_DEFAULT_SECONDS"`
	HistoryCapacity        int      `yaml:"history_capacity" env:"HISTORY_CAPACITY"`
	HotReloadEnabled       bool     `yaml:"hot_reload_enabled" env:"HOT_RELOAD_ENABLED"`
	HandlerTimeoutMs       int      `yaml:"handler_timeout_ms" env:"HANDLER_TIMEOUT_MS"`
	Exclude                []string `yaml:"exclude" env:"EXCLUDE" envSeparator:","`

	SocketPath   string `yaml:"socket_path" env:"SOCKET_PATH"`
	DatabasePath string `yaml:"database_path" env:"DATABASE_PATH"`
	PersistUsage bool   `yaml:"persist_usage" env:"PERSIST_USAGE"`

	HostCapabilities     []string `yaml:"host_capabilities" env:"HOST_CAPABILITIES" envSeparator:","`
	PrivilegedPrincipals []string `yaml:"privileged_principals" env:"PRIVILEGED_PRINCIPALS" envSeparator:","`
	ExtraCapabilities    []string `yaml:"extra_capabilities" env:"EXTRA_CAPABILITIES" envSeparator:","`

	Logging LoggingConfig `yaml:"logging" envPrefix:"LOG_"`
}

// StateDir is where the socket, lock and database live by default.
func StateDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".hotcmd")
	}
	return filepath.Join(homeDir, ".hotcmd")
}

func Default() *Config {
	dir := StateDir()
	return &Config{
		RootDir:          "commands",
		DebounceMs:       100,
		HistoryCapacity:  100,
		HotReloadEnabled: true,
		SocketPath:       filepath.Join(dir, "daemon.sock"),
		DatabasePath:     filepath.Join(dir, "usage.db"),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the effective configuration. An empty path skips the file;
// a path that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.RootDir == "" {
		errs = append(errs, errors.New("root_dir is required"))
	}
	if c.DebounceMs < 0 {
		errs = append(errs, fmt.Errorf("debounce_ms must not be negative, got %d", c.DebounceMs))
	}
	if c.CooldownDefaultSeconds < 0 {
		errs = append(errs, fmt.Errorf("cooldown_default_seconds must not be negative, got %v", c.CooldownDefaultSeconds))
	}
	if c.HistoryCapacity <= 0 {
		errs = append(errs, fmt.Errorf("history_capacity must be positive, got %d", c.HistoryCapacity))
	}
	if c.HandlerTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("handler_timeout_ms must not be negative, got %d", c.HandlerTimeoutMs))
	}
	if c.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is required"))
	}
	if c.PersistUsage && c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required when persist_usage is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Dispatcher converts the file-level settings into dispatcher settings.
func (c *Config) Dispatcher() dispatch.Config {
	discover := module.DefaultDiscoverConfig()
	discover.Exclude = append(discover.Exclude, c.Exclude...)

	return dispatch.Config{
		RootDir:              c.RootDir,
		Discover:             discover,
		DebounceWindow:       time.Duration(c.DebounceMs) * time.Millisecond,
		DefaultCooldown:      time.Duration(c.CooldownDefaultSeconds * float64(time.Second)),
		HistoryCapacity:      c.HistoryCapacity,
		HotReload:            c.HotReloadEnabled,
		HandlerTimeout:       time.Duration(c.HandlerTimeoutMs) * time.Millisecond,
		HostCapabilities:     c.HostCapabilities,
		PrivilegedPrincipals: c.PrivilegedPrincipals,
		ExtraCapabilities:    c.ExtraCapabilities,
	}
}

func (c *Config) Logger() logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.ParseLevel(c.Logging.Level)
	if c.Logging.Format != "" {
		cfg.Format = c.Logging.Format
	}
	cfg.AddSource = c.Logging.AddSource
	cfg.DefaultChannel = c.Logging.DefaultChannel
	cfg.Channels = c.Logging.Channels
	return cfg
}

func (c *Config) EnsureDirectories() error {
	for _, p := range []string{c.SocketPath, c.DatabasePath} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	return nil
}
