package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stevemurr/itable/config"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"HOST", "PORT", "DATA_DIR", "STORE_BACKEND", "ALLOWED_ORIGINS", "STRICT_SCHEMAS"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "0.0.0.0:8080", cfg.Addr())
	require.Equal(t, "json", cfg.StoreBackend)
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"port zero", func(c *config.Config) { c.Port = 0 }},
		{"port too large", func(c *config.Config) { c.Port = 70000 }},
		{"unknown backend", func(c *config.Config) { c.StoreBackend = "redis" }},
		{"no data dir", func(c *config.Config) { c.DataDir = "" }},
		{"no origins", func(c *config.Config) { c.AllowedOrigins = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := config.DefaultConfig()
	cfg.StoreBackend = "memory"
	cfg.DataDir = ""
	require.NoError(t, cfg.Validate(), "memory backend needs no data dir")
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "itable.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9090
store_backend: bolt
data_dir: /var/lib/itable
strict_schemas: true
`), 0o644))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "bolt", cfg.StoreBackend)
	require.Equal(t, "/var/lib/itable", cfg.DataDir)
	require.True(t, cfg.StrictSchemas)
	// untouched keys keep their defaults
	require.Equal(t, "0.0.0.0", cfg.Host)
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "itable.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"host": "127.0.0.1", "allowed_origins": ["http://a", "http://b"]}`), 0o644))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8080", cfg.Addr())
	require.Equal(t, []string{"http://a", "http://b"}, cfg.AllowedOrigins)
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := config.LoadFromFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	toml := filepath.Join(dir, "itable.toml")
	require.NoError(t, os.WriteFile(toml, []byte("port = 1"), 0o644))
	_, err = config.LoadFromFile(toml)
	require.ErrorContains(t, err, "unsupported config file format")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("port: [1"), 0o644))
	_, err = config.LoadFromFile(bad)
	require.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOST", "localhost")
	t.Setenv("PORT", "7000")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("ALLOWED_ORIGINS", "http://a, http://b,")
	t.Setenv("STRICT_SCHEMAS", "true")

	cfg := config.DefaultConfig()
	require.NoError(t, config.LoadFromEnv(cfg))
	require.Equal(t, "localhost:7000", cfg.Addr())
	require.Equal(t, "sqlite", cfg.StoreBackend)
	require.Equal(t, []string{"http://a", "http://b"}, cfg.AllowedOrigins)
	require.True(t, cfg.StrictSchemas)
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "eighty")
	require.Error(t, config.LoadFromEnv(config.DefaultConfig()))

	clearEnv(t)
	t.Setenv("STRICT_SCHEMAS", "maybe")
	require.Error(t, config.LoadFromEnv(config.DefaultConfig()))
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "itable.yml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\nstore_backend: sqlite\n"), 0o644))
	t.Setenv("STORE_BACKEND", "memory")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, "memory", cfg.StoreBackend)

	t.Setenv("STORE_BACKEND", "redis")
	_, err = config.Load(path)
	require.Error(t, err)
}
