package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/cache"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/pricing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/storage"
)

// backend holds the pricing store selected by the cache driver plus the
// optional run repository, and owns their connections.
type backend struct {
	store pricing.Store
	runs  *storage.RunRepository

	dbs map[string]*sql.DB
	kv  cache.Client
}

// openBackend connects the pricing store for cfg.Cache.Driver. SQL
// databases are migrated before use.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{dbs: map[string]*sql.DB{}}

	switch cfg.Cache.Driver {
	case config.CacheFile:
		b.store = pricing.NewFileStore(cfg.Cache.FilePath)

	case config.CacheSQLite, config.CachePostgres:
		dsn := cfg.Database.SQLite.Path
		if cfg.Cache.Driver == config.CachePostgres {
			dsn = cfg.Database.Postgres.DSN
		}
		db, err := b.openDatabase(ctx, cfg, cfg.Cache.Driver, dsn)
		if err != nil {
			return nil, err
		}
		b.store = storage.NewPricingRepository(db, cfg.Cache.Driver)

	case config.CacheRedis:
		client, err := openRedis(cfg.Cache.Redis)
		if err != nil {
			return nil, err
		}
		b.kv = client
		b.store = pricing.NewKVStore(client)

	case config.CacheMemory:
		b.kv = cache.NewMemoryClient(0)
		b.store = pricing.NewKVStore(b.kv)

	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}

	if cfg.Database.RecordRuns {
		db, err := b.openDatabase(ctx, cfg, cfg.Database.Driver, cfg.DatabaseDSN())
		if err != nil {
			b.Close()
			return nil, err
		}
		b.runs = storage.NewRunRepository(db)
	}

	return b, nil
}

// openDatabase opens and migrates a database, reusing a connection already
// opened for the same driver and DSN.
func (b *backend) openDatabase(ctx context.Context, cfg *config.Config, driver, dsn string) (*sql.DB, error) {
	id := driver + "|" + dsn
	if db, ok := b.dbs[id]; ok {
		return db, nil
	}

	db, err := storage.Open(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == storage.DriverPostgres {
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.Postgres.ConnMaxLifetime)
	}

	if err := storage.NewMigrationManager(db, driver).Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	b.dbs[id] = db
	return db, nil
}

func openRedis(cfg config.RedisConfig) (*cache.RedisClient, error) {
	if cfg.URL != "" {
		return cache.NewRedisClientFromURL(cfg.URL, cfg.Prefix)
	}
	return cache.NewRedisClient(cache.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
		Prefix:   cfg.Prefix,
	})
}

// describeStore names where the pricing document lives, for status output.
func describeStore(cfg *config.Config) string {
	switch cfg.Cache.Driver {
	case config.CacheFile:
		return "file " + cfg.Cache.FilePath
	case config.CacheSQLite:
		return "sqlite " + cfg.Database.SQLite.Path
	case config.CachePostgres:
		return "postgres"
	case config.CacheRedis:
		if cfg.Cache.Redis.URL != "" {
			return "redis (url)"
		}
		return "redis " + cfg.Cache.Redis.Addr
	default:
		return cfg.Cache.Driver
	}
}

// Close releases every connection the backend opened.
func (b *backend) Close() error {
	var firstErr error
	if b.kv != nil {
		if err := b.kv.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, db := range b.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
