// Package config loads the picotelemetry configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/CristiGvl/picoTelemetry/internal/memo"
)

// Config is the top level configuration.
type Config struct {
	Server  Server  `yaml:"server"`
	Log     Log     `yaml:"log"`
	Cache   Cache   `yaml:"cache"`
	Process Process `yaml:"process"`
}

// Server configures the HTTP API.
type Server struct {
	Bind string `yaml:"bind"`
	Port string `yaml:"port"`
}

// Log configures logging.
type Log struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Cache configures how long processor counters are reused.
type Cache struct {
	Expiration time.Duration `yaml:"expiration"`
}

// Process configures process lookups.
type Process struct {
	RegistrySize   int           `yaml:"registry_size"`
	NameExpiration time.Duration `yaml:"name_expiration"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: Server{Bind: "0.0.0.0", Port: "8080"},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  2,
			MaxBackups: 10,
			MaxAgeDays: 10,
		},
		Cache:   Cache{Expiration: 300 * time.Millisecond},
		Process: Process{RegistrySize: 1024, NameExpiration: time.Hour},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values the rest of the program cannot recover from.
func (c Config) Validate() error {
	var errs error
	if c.Server.Port == "" {
		errs = multierr.Append(errs, errors.New("server.port is empty"))
	}
	if c.Process.RegistrySize < 1 {
		errs = multierr.Append(errs, fmt.Errorf("process.registry_size must be positive, got %d", c.Process.RegistrySize))
	}
	// -1ns keeps counters forever, 0 disables caching
	if c.Cache.Expiration < memo.NoExpiration {
		errs = multierr.Append(errs, fmt.Errorf("cache.expiration must not be negative, got %s", c.Cache.Expiration))
	}
	return errs
}

// Address returns the listen address of the HTTP API.
func (c Config) Address() string {
	return c.Server.Bind + ":" + c.Server.Port
}
