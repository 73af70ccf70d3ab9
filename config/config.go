// Package config holds the server configuration: defaults, an optional
// YAML or JSON file and environment overrides, applied in that order.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stevemurr/itable/store"
)

// Config holds the configuration of the itable server.
type Config struct {
	// Host and Port form the listen address
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`

	// DataDir is the directory the file-based store backends write to
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// StoreBackend is one of json, sqlite, bolt, memory
	StoreBackend string `json:"store_backend" yaml:"store_backend"`

	// AllowedOrigins lists CORS origins; "*" allows any
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`

	// StrictSchemas turns on strict mode for every schema the server parses
	StrictSchemas bool `json:"strict_schemas" yaml:"strict_schemas"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           8080,
		DataDir:        "./data",
		StoreBackend:   "json",
		AllowedOrigins: []string{"*"},
	}
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if !slices.Contains(store.Backends, c.StoreBackend) {
		return fmt.Errorf("invalid store backend: %q (must be one of %s)", c.StoreBackend, strings.Join(store.Backends, ", "))
	}
	if c.StoreBackend != "memory" && c.DataDir == "" {
		return fmt.Errorf("data_dir is required for the %s backend", c.StoreBackend)
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("allowed_origins must not be empty")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv applies environment overrides to cfg. Malformed numeric or
// boolean values are reported rather than ignored.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.StoreBackend = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.AllowedOrigins = origins
	}
	if v := os.Getenv("STRICT_SCHEMAS"); v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid STRICT_SCHEMAS %q: %w", v, err)
		}
		cfg.StrictSchemas = strict
	}
	return nil
}

// Load builds the effective configuration: defaults, then the file at path
// when path is non-empty, then the environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
