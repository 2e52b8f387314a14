package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "dev", c.App.Env)
	require.Equal(t, "memory", c.Storage.Driver)
	require.Equal(t, "ks_", c.Storage.SchemaPrefix)
	require.Equal(t, 2048, c.Keys.RSABits)
	require.False(t, c.Cache.Enabled)
	require.Equal(t, 5*time.Minute, c.CacheTTL())
	require.Equal(t, 30*time.Minute, c.ConnMaxLifetime())
	require.NoError(t, c.Validate())
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	p := writeYAML(t, `
storage:
  driver: postgres
  dsn: postgres://yaml@localhost/keys
  postgres:
    max_open_conns: 4
cache:
  enabled: true
  ttl: 90s
keys:
  rsa_bits: 3072
`)
	t.Setenv("STORAGE_DSN", "postgres://env@localhost/keys")
	t.Setenv("KEYS_RSA_BITS", "4096")
	t.Setenv("CACHE_ENABLED", "false")

	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "postgres", c.Storage.Driver)
	require.Equal(t, "postgres://env@localhost/keys", c.Storage.DSN)
	require.Equal(t, 4, c.Storage.Postgres.MaxOpenConns)
	require.Equal(t, 4096, c.Keys.RSABits)
	require.False(t, c.Cache.Enabled)
	require.Equal(t, 90*time.Second, c.CacheTTL())
	require.NoError(t, c.Validate())
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeYAML(t, "storage: [nope"))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "cassandra" }, "unknown driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"redis without addr", func(c *Config) { c.Storage.Driver = "redis" }, "storage.redis.addr"},
		{"weak rsa", func(c *Config) { c.Keys.RSABits = 1024 }, "keys.rsa_bits"},
		{"bad ttl", func(c *Config) { c.Cache.TTL = "soon" }, "cache.ttl"},
		{"bad lifetime", func(c *Config) { c.Storage.Postgres.ConnMaxLifetime = "x" }, "conn_max_lifetime"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Load("")
			require.NoError(t, err)
			tc.mut(c)
			err = c.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
