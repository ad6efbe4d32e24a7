// Package config loads the kvquery CLI configuration from .kvquery.yaml,
// KVQUERY_* environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/scalaris-go/kvquery/query/compiler"
	"github.com/scalaris-go/kvquery/store/sqlstore"
)

// AppFs is the filesystem config files and .env files are read from.
var AppFs = afero.NewOsFs()

const (
	// FileName is the config file name searched for.
	FileName = ".kvquery.yaml"
	// EnvPrefix prefixes environment overrides, e.g. KVQUERY_STORE_DSN.
	EnvPrefix = "KVQUERY"
)

// Drivers lists the accepted store.driver values.
var Drivers = []string{"memory", "sqlite", "postgres", "mysql"}

// ErrInvalidConfig is returned for configuration values that cannot be used.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds the CLI configuration.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Query   QueryConfig   `mapstructure:"query"`
	Debug   bool          `mapstructure:"debug"`
	Classes []ClassConfig `mapstructure:"classes"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// StoreConfig selects and configures the backing store.
type StoreConfig struct {
	Driver string     `mapstructure:"driver"`
	DSN    string     `mapstructure:"dsn"`
	Pool   PoolConfig `mapstructure:"pool"`
}

// PoolConfig mirrors sqlstore.PoolConfig.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
	HealthCheck time.Duration `mapstructure:"health_check"`
}

// QueryConfig tunes compilation and evaluation.
type QueryConfig struct {
	Parallelism int `mapstructure:"parallelism"`
	CacheSize   int `mapstructure:"cache_size"`
}

// ClassConfig declares a dynamic candidate class.
type ClassConfig struct {
	Name     string   `mapstructure:"name"`
	Fields   []string `mapstructure:"fields"`
	Identity []string `mapstructure:"identity"`
}

// Sqlstore converts p into the pool configuration of store/sqlstore.
func (p PoolConfig) Sqlstore() sqlstore.PoolConfig {
	return sqlstore.PoolConfig{
		MaxOpenConns:        p.MaxOpen,
		MaxIdleConns:        p.MaxIdle,
		ConnMaxLifetime:     p.MaxLifetime,
		ConnMaxIdleTime:     p.MaxIdleTime,
		HealthCheckInterval: p.HealthCheck,
	}
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	pool := sqlstore.DefaultPoolConfig()
	return &Config{
		Store: StoreConfig{
			Driver: "memory",
			Pool: PoolConfig{
				MaxOpen:     pool.MaxOpenConns,
				MaxIdle:     pool.MaxIdleConns,
				MaxLifetime: pool.ConnMaxLifetime,
				MaxIdleTime: pool.ConnMaxIdleTime,
				HealthCheck: pool.HealthCheckInterval,
			},
		},
		Query: QueryConfig{
			Parallelism: 1,
			CacheSize:   compiler.DefaultCacheSize,
		},
	}
}

// Validate checks the driver and the class declarations.
func (c *Config) Validate() error {
	known := false
	for _, d := range Drivers {
		if c.Store.Driver == d {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: store.driver %q (want one of %s)", ErrInvalidConfig, c.Store.Driver, strings.Join(Drivers, ", "))
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("%w: store.dsn is required for driver %s", ErrInvalidConfig, c.Store.Driver)
	}
	if c.Query.Parallelism < 1 {
		return fmt.Errorf("%w: query.parallelism must be at least 1", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Classes))
	for _, cl := range c.Classes {
		if cl.Name == "" {
			return fmt.Errorf("%w: class without a name", ErrInvalidConfig)
		}
		if seen[cl.Name] {
			return fmt.Errorf("%w: class %s declared twice", ErrInvalidConfig, cl.Name)
		}
		seen[cl.Name] = true
	}
	return nil
}

// Load reads the configuration. An explicit path must exist; otherwise
// FileName is searched in the working directory, $HOME and
// $HOME/.config/kvquery, and a missing file is not an error.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return nil, err
		}
		v.SetConfigName(strings.TrimSuffix(FileName, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(home)
		v.AddConfigPath(filepath.Join(home, ".config", "kvquery"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path. An empty path writes to
// $HOME/.config/kvquery/.kvquery.yaml.
func Save(cfg *Config, path string) (string, error) {
	if path == "" {
		home, err := homedir.Dir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, ".config", "kvquery", FileName)
	}
	if err := AppFs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetFs(AppFs)
	v.Set("store.driver", cfg.Store.Driver)
	v.Set("store.dsn", cfg.Store.DSN)
	v.Set("store.pool.max_open", cfg.Store.Pool.MaxOpen)
	v.Set("store.pool.max_idle", cfg.Store.Pool.MaxIdle)
	v.Set("store.pool.max_lifetime", cfg.Store.Pool.MaxLifetime.String())
	v.Set("store.pool.max_idle_time", cfg.Store.Pool.MaxIdleTime.String())
	v.Set("store.pool.health_check", cfg.Store.Pool.HealthCheck.String())
	v.Set("query.parallelism", cfg.Query.Parallelism)
	v.Set("query.cache_size", cfg.Query.CacheSize)
	v.Set("debug", cfg.Debug)

	classes := make([]map[string]any, 0, len(cfg.Classes))
	for _, cl := range cfg.Classes {
		classes = append(classes, map[string]any{
			"name":     cl.Name,
			"fields":   cl.Fields,
			"identity": cl.Identity,
		})
	}
	v.Set("classes", classes)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetFs(AppFs)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("store.driver", def.Store.Driver)
	v.SetDefault("store.dsn", def.Store.DSN)
	v.SetDefault("store.pool.max_open", def.Store.Pool.MaxOpen)
	v.SetDefault("store.pool.max_idle", def.Store.Pool.MaxIdle)
	v.SetDefault("store.pool.max_lifetime", def.Store.Pool.MaxLifetime)
	v.SetDefault("store.pool.max_idle_time", def.Store.Pool.MaxIdleTime)
	v.SetDefault("store.pool.health_check", def.Store.Pool.HealthCheck)
	v.SetDefault("query.parallelism", def.Query.Parallelism)
	v.SetDefault("query.cache_size", def.Query.CacheSize)
	v.SetDefault("debug", false)
	return v
}

// loadEnvFiles applies .env without overriding the environment, then
// .env.local with override.
func loadEnvFiles() {
	applyEnvFile(".env", false)
	applyEnvFile(".env.local", true)
}

func applyEnvFile(name string, override bool) {
	f, err := AppFs.Open(name)
	if err != nil {
		return
	}
	defer f.Close()

	vars, err := godotenv.Parse(f)
	if err != nil {
		return
	}
	for k, val := range vars {
		if _, set := os.LookupEnv(k); set && !override {
			continue
		}
		_ = os.Setenv(k, val)
	}
}
