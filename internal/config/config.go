// Package config provides unified configuration loading for the deal engine.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Pricing cache drivers.
const (
	CacheFile     = "file"
	CacheSQLite   = "sqlite"
	CachePostgres = "postgres"
	CacheRedis    = "redis"
	CacheMemory   = "memory"
)

// Config holds all configuration for the deal engine.
type Config struct {
	Cache         CacheConfig         `yaml:"cache"`
	Database      DatabaseConfig      `yaml:"database"`
	Fetch         FetchConfig         `yaml:"fetch"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// CacheConfig selects where the pricing document lives.
type CacheConfig struct {
	Driver   string      `yaml:"driver"` // file, sqlite, postgres, redis or memory
	FilePath string      `yaml:"file_path"`
	Redis    RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings. URL wins over Addr when set.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// DatabaseConfig holds database connection settings, used by the sqlite and
// postgres cache drivers and by run recording.
type DatabaseConfig struct {
	Driver     string         `yaml:"driver"` // sqlite or postgres
	SQLite     SQLiteConfig   `yaml:"sqlite"`
	Postgres   PostgresConfig `yaml:"postgres"`
	RecordRuns bool           `yaml:"record_runs"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// FetchConfig holds reference pricing fetch settings.
type FetchConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	ZipCode     string        `yaml:"zip_code"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Concurrency int           `yaml:"concurrency"`
	UserAgent   string        `yaml:"user_agent"`
}

// AnalysisConfig holds analysis run settings.
type AnalysisConfig struct {
	VariantCatalog string `yaml:"variant_catalog"`
	OutputDir      string `yaml:"output_dir"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

var zipCodePattern = regexp.MustCompile(`^\d{5}$`)

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file next to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		cfg.resolvePaths(path)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadEnvFile loads variables from a .env file without overriding ones
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults for local runs.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Driver:   CacheFile,
			FilePath: "data/pricing_cache.json",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "de:",
			},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path: "data/deal-engine.db",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Fetch: FetchConfig{
			Enabled:     true,
			BaseURL:     "https://www.kbb.com",
			Timeout:     30 * time.Second,
			RetryDelay:  2 * time.Second,
			Concurrency: 2,
		},
		Analysis: AnalysisConfig{
			VariantCatalog: "data/kbb_variants.json",
			OutputDir:      "output",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case CacheFile:
		if c.Cache.FilePath == "" {
			return fmt.Errorf("cache.file_path is required for the file driver")
		}
	case CacheSQLite, CacheMemory:
	case CachePostgres:
		if c.Database.Postgres.DSN == "" {
			return fmt.Errorf("database.postgres.dsn is required for the postgres cache driver")
		}
	case CacheRedis:
		if c.Cache.Redis.URL == "" && c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.url or cache.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Fetch.Concurrency < 1 || c.Fetch.Concurrency > 16 {
		return fmt.Errorf("fetch.concurrency must be between 1 and 16")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}
	if c.Fetch.RetryDelay < 0 {
		return fmt.Errorf("fetch.retry_delay must not be negative")
	}
	if c.Fetch.ZipCode != "" && !zipCodePattern.MatchString(c.Fetch.ZipCode) {
		return fmt.Errorf("invalid zip code: %q", c.Fetch.ZipCode)
	}

	if f := c.Observability.LogFormat; f != "console" && f != "json" {
		return fmt.Errorf("invalid log format: %s", f)
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// UsesDatabase reports whether any component needs a SQL connection.
func (c *Config) UsesDatabase() bool {
	return c.Cache.Driver == CacheSQLite || c.Cache.Driver == CachePostgres || c.Database.RecordRuns
}

// resolvePaths makes relative file paths relative to the config file.
func (c *Config) resolvePaths(configPath string) {
	c.Cache.FilePath = ResolveRelativePath(configPath, c.Cache.FilePath)
	c.Database.SQLite.Path = ResolveRelativePath(configPath, c.Database.SQLite.Path)
	c.Analysis.VariantCatalog = ResolveRelativePath(configPath, c.Analysis.VariantCatalog)
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRICING_CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = strings.ToLower(v)
	}

	if v := os.Getenv("PRICING_CACHE_PATH"); v != "" {
		cfg.Cache.FilePath = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Redis.URL = v
	}

	if v := os.Getenv("KBB_BASE_URL"); v != "" {
		cfg.Fetch.BaseURL = v
	}

	if v := os.Getenv("ZIP_CODE"); v != "" {
		cfg.Fetch.ZipCode = v
	}

	if v := os.Getenv("FETCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fetch.Concurrency = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if targetPath == "" || filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
