package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useMemFs(t *testing.T) afero.Fs {
	t.Helper()
	prev := AppFs
	fs := afero.NewMemMapFs()
	AppFs = fs
	t.Cleanup(func() { AppFs = prev })
	return fs
}

// unsetEnv clears key for the test and restores it afterwards.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadDefaults(t *testing.T) {
	useMemFs(t)
	unsetEnv(t, "KVQUERY_STORE_DRIVER")
	unsetEnv(t, "KVQUERY_STORE_DSN")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 1, cfg.Query.Parallelism)
	assert.Equal(t, Default().Query.CacheSize, cfg.Query.CacheSize)
	assert.Equal(t, 25, cfg.Store.Pool.MaxOpen)
	assert.Empty(t, cfg.File)
}

func TestLoadFile(t *testing.T) {
	fs := useMemFs(t)
	unsetEnv(t, "KVQUERY_STORE_DRIVER")
	unsetEnv(t, "KVQUERY_STORE_DSN")

	content := `
store:
  driver: sqlite
  dsn: file:test.db
  pool:
    max_open: 4
    max_lifetime: 5m
query:
  parallelism: 3
  cache_size: 16
debug: true
classes:
  - name: Person
    fields: [name, age]
    identity: [id]
`
	require.NoError(t, afero.WriteFile(fs, "/etc/kvquery/.kvquery.yaml", []byte(content), 0o644))

	cfg, err := Load("/etc/kvquery/.kvquery.yaml")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:test.db", cfg.Store.DSN)
	assert.Equal(t, 4, cfg.Store.Pool.MaxOpen)
	assert.Equal(t, 5*time.Minute, cfg.Store.Pool.MaxLifetime)
	assert.Equal(t, 3, cfg.Query.Parallelism)
	assert.Equal(t, 16, cfg.Query.CacheSize)
	assert.True(t, cfg.Debug)
	require.Len(t, cfg.Classes, 1)
	assert.Equal(t, ClassConfig{Name: "Person", Fields: []string{"name", "age"}, Identity: []string{"id"}}, cfg.Classes[0])
	assert.Equal(t, "/etc/kvquery/.kvquery.yaml", cfg.File)

	pool := cfg.Store.Pool.Sqlstore()
	assert.Equal(t, 4, pool.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, pool.ConnMaxLifetime)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	useMemFs(t)
	_, err := Load("/nope/.kvquery.yaml")
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	useMemFs(t)
	t.Setenv("KVQUERY_STORE_DRIVER", "postgres")
	t.Setenv("KVQUERY_STORE_DSN", "postgres://localhost/kv")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/kv", cfg.Store.DSN)
}

func TestEnvFiles(t *testing.T) {
	fs := useMemFs(t)
	unsetEnv(t, "KVQUERY_STORE_DRIVER")
	unsetEnv(t, "KVQUERY_STORE_DSN")

	require.NoError(t, afero.WriteFile(fs, ".env", []byte("KVQUERY_STORE_DRIVER=mysql\nKVQUERY_STORE_DSN=base\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, ".env.local", []byte("KVQUERY_STORE_DSN=local\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Store.Driver)
	assert.Equal(t, "local", cfg.Store.DSN)
}

func TestEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	fs := useMemFs(t)
	t.Setenv("KVQUERY_STORE_DRIVER", "sqlite")
	t.Setenv("KVQUERY_STORE_DSN", "from-env")

	require.NoError(t, afero.WriteFile(fs, ".env", []byte("KVQUERY_STORE_DSN=from-file\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Store.DSN)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }},
		{"sql driver without dsn", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"zero parallelism", func(c *Config) { c.Query.Parallelism = 0 }},
		{"unnamed class", func(c *Config) { c.Classes = []ClassConfig{{Fields: []string{"a"}}} }},
		{"duplicate class", func(c *Config) { c.Classes = []ClassConfig{{Name: "A"}, {Name: "A"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	useMemFs(t)
	unsetEnv(t, "KVQUERY_STORE_DRIVER")
	unsetEnv(t, "KVQUERY_STORE_DSN")

	cfg := Default()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = "file:kv.db"
	cfg.Query.Parallelism = 2
	cfg.Classes = []ClassConfig{{Name: "Row", Fields: []string{"g", "v"}, Identity: []string{"id"}}}

	path, err := Save(cfg, "/work/.kvquery.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/work/.kvquery.yaml", path)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", loaded.Store.Driver)
	assert.Equal(t, "file:kv.db", loaded.Store.DSN)
	assert.Equal(t, 2, loaded.Query.Parallelism)
	assert.Equal(t, cfg.Store.Pool, loaded.Store.Pool)
	assert.Equal(t, cfg.Classes, loaded.Classes)
}
