package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/mschirtzinger/menuboard/internal/config"
	"github.com/mschirtzinger/menuboard/internal/db"
	"github.com/mschirtzinger/menuboard/internal/kvstore"
	"github.com/mschirtzinger/menuboard/internal/offline"
	"github.com/mschirtzinger/menuboard/internal/pubsub"
	"github.com/mschirtzinger/menuboard/internal/pubsub/redisbus"
	"github.com/mschirtzinger/menuboard/internal/pubsub/spool"
	"github.com/mschirtzinger/menuboard/internal/storage"
	"github.com/mschirtzinger/menuboard/internal/storage/pgarea"
	"github.com/mschirtzinger/menuboard/internal/storage/redisarea"
)

// closers releases resources in reverse order of acquisition.
type closers []io.Closer

func (c *closers) add(cl io.Closer) {
	*c = append(*c, cl)
}

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

// openDatabase opens the SQLite database and ensures its schema.
func openDatabase(ctx context.Context) (*db.DB, error) {
	if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	database, err := db.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.InitSchemaContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return database, nil
}

// openArea returns the persisted area selected by storage.backend.
func openArea(ctx context.Context, database *db.DB, cl *closers) (storage.Area, error) {
	switch cfg.Storage.Backend {
	case config.StorageSQLite:
		return database.KV(), nil
	case config.StorageRedis:
		area, err := redisarea.New(ctx, cfg.Storage.RedisAddr)
		if err != nil {
			return nil, err
		}
		cl.add(area)
		return area, nil
	case config.StoragePostgres:
		area, err := pgarea.New(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		cl.add(area)
		return area, nil
	case config.StorageMemory:
		m := storage.NewMemory()
		m.MaxBytes = cfg.Storage.QuotaBytes
		return m, nil
	case config.StorageDisabled:
		return storage.Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// openBus returns the cross-context bus selected by bus.backend.
func openBus(ctx context.Context, cl *closers) (pubsub.Bus, error) {
	logger := logs.Logger("bus")
	switch cfg.Bus.Backend {
	case config.BusLocal:
		bus := pubsub.NewLocal(logger)
		cl.add(bus)
		return bus, nil
	case config.BusRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Bus.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		cl.add(client)
		bus, err := redisbus.New(ctx, client, cfg.Bus.Channel, logger)
		if err != nil {
			return nil, err
		}
		cl.add(bus)
		return bus, nil
	case config.BusSpool:
		bus, err := spool.New(&spool.Config{Dir: cfg.Bus.SpoolDir, Logger: logger})
		if err != nil {
			return nil, err
		}
		cl.add(bus)
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown bus backend %q", cfg.Bus.Backend)
	}
}

// openStore builds one key-value browsing context over the configured area
// and bus.
func openStore(ctx context.Context, database *db.DB, cl *closers) (*kvstore.Store, error) {
	area, err := openArea(ctx, database, cl)
	if err != nil {
		return nil, err
	}
	bus, err := openBus(ctx, cl)
	if err != nil {
		return nil, err
	}
	store := kvstore.New(area, bus, &kvstore.Config{
		Prefix: cfg.KV.Prefix,
		Logger: logs.Logger("kvstore"),
	})
	cl.add(store)
	return store, nil
}

// loadManifest returns the configured precache manifest.
func loadManifest() (*offline.Manifest, error) {
	m := offline.DefaultManifest()
	if cfg.Offline.ManifestFile != "" {
		loaded, err := offline.LoadManifest(cfg.Offline.ManifestFile)
		if err != nil {
			return nil, err
		}
		m = loaded
	}
	if cfg.Offline.Version != "" {
		m.Version = cfg.Offline.Version
	}
	return m, nil
}

// newCoordinator builds a coordinator over the database's buckets and queue.
func newCoordinator(database *db.DB, clients offline.Clients, notifier offline.Notifier) (*offline.Coordinator, *url.URL, error) {
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, nil, err
	}
	manifest, err := loadManifest()
	if err != nil {
		return nil, nil, err
	}

	oc := offline.DefaultConfig(origin)
	oc.Manifest = manifest
	oc.Names = offline.NewNames(cfg.Offline.CachePrefix, manifest.Version)
	oc.Caches = database.CacheStorage()
	oc.Queue = database.PendingQueue()
	oc.Logger = logs.Logger("offline")
	if clients != nil {
		oc.Clients = clients
	}
	if notifier != nil {
		oc.Notifier = notifier
	}

	c, err := offline.New(oc)
	if err != nil {
		return nil, nil, err
	}
	return c, origin, nil
}
