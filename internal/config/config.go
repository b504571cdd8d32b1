// Package config loads and validates the dbcontext configuration file.
//
// Configuration is YAML with a small set of environment overrides, so a
// deployment can keep credentials out of the file:
//
//	DBCONTEXT_DSN    overrides database.dsn
//	DBCONTEXT_CACHE  overrides cache.dir
package config

import (
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/dbcontext-go/dbcontext/internal/errs"
)

// Config is the root configuration document.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Mirror   MirrorConfig   `yaml:"mirror"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects the vendor adapter and its pool tuning.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres | mysql
	DSN    string `yaml:"dsn"`
	Owner  string `yaml:"owner"` // schema/owner to introspect; adapter default when empty

	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// CacheConfig controls the metadata cache and its durable snapshot.
type CacheConfig struct {
	Dir          string        `yaml:"dir"`           // snapshot directory
	LoadSnapshot *bool         `yaml:"load_snapshot"` // attempt snapshot load on startup (default true)
	SaveInterval time.Duration `yaml:"save_interval"` // min interval between opportunistic saves

	// TTLs per freshness class. Structural metadata changes rarely;
	// statistics such as row counts drift constantly.
	StructureTTL  time.Duration `yaml:"structure_ttl"`
	StatisticsTTL time.Duration `yaml:"statistics_ttl"`
}

// MirrorConfig configures the optional object-store snapshot mirror.
type MirrorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Key       string `yaml:"key"` // object key of the snapshot document
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

// ServerConfig configures the HTTP tool surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a fully populated configuration with production defaults.
func Default() *Config {
	loadSnapshot := true
	return &Config{
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			ConnectTimeout:  10 * time.Second,
			QueryTimeout:    30 * time.Second,
		},
		Cache: CacheConfig{
			Dir:           ".cache",
			LoadSnapshot:  &loadSnapshot,
			SaveInterval:  30 * time.Second,
			StructureTTL:  time.Hour,
			StatisticsTTL: 30 * time.Minute,
		},
		Mirror: MirrorConfig{
			Key: "schema-snapshot.json",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path, layers it over the defaults, applies
// environment overrides, and validates the result. An empty path yields
// defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "cannot read config file", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "cannot parse config file", err)
		}
	}

	if dsn := os.Getenv("DBCONTEXT_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if dir := os.Getenv("DBCONTEXT_CACHE"); dir != "" {
		cfg.Cache.Dir = dir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql":
	default:
		return errs.Newf(errs.ErrKindInvalidInput, "unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errs.New(errs.ErrKindInvalidInput, "database.dsn is required (or set DBCONTEXT_DSN)")
	}
	if c.Cache.Dir == "" {
		return errs.New(errs.ErrKindInvalidInput, "cache.dir is required")
	}
	if c.Cache.StructureTTL <= 0 || c.Cache.StatisticsTTL <= 0 {
		return errs.New(errs.ErrKindInvalidInput, "cache TTLs must be positive")
	}
	if c.Mirror.Enabled && (c.Mirror.Endpoint == "" || c.Mirror.Bucket == "") {
		return errs.New(errs.ErrKindInvalidInput, "mirror.endpoint and mirror.bucket are required when the mirror is enabled")
	}
	return nil
}

// LoadSnapshotEnabled reports whether startup should attempt to load the
// persisted snapshot.
func (c *CacheConfig) LoadSnapshotEnabled() bool {
	return c.LoadSnapshot == nil || *c.LoadSnapshot
}
