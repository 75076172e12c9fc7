package storage

import (
	"context"
	"fmt"

	"github.com/1broseidon/beacon/internal/config"
	"github.com/1broseidon/beacon/internal/logging"
)

// HealthChecker is implemented by backends that can verify their connection
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// New creates the storage backend selected by configuration, wrapped with
// the InfluxDB mirror when it is enabled.
func New(ctx context.Context, cfg *config.StorageConfig, logger *logging.Logger) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	log := logger.WithComponent(logging.ComponentStorage)

	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case config.BackendMemory:
		log.Info("Using in-memory storage - nothing survives a restart")
		store = NewMemoryStore()

	case config.BackendBadger, "":
		log.Info("Using BadgerDB storage")
		store, err = NewBadgerStore(BadgerOptions{
			Path:       cfg.Badger.Path,
			Retention:  cfg.Badger.Retention,
			GCInterval: cfg.Badger.GCInterval,
		}, logger)

	case config.BackendPostgres:
		log.Info("Using PostgreSQL storage")
		store, err = NewPostgresStore(ctx, PostgresOptions{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			ConnectTimeout:  cfg.Postgres.ConnectTimeout,
		}, logger)

	case config.BackendSQLite:
		log.Info("Using SQLite storage")
		store, err = NewSQLiteStore(ctx, cfg.SQLite.Path, logger)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (valid options: memory, badger, postgres, sqlite)", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if !cfg.InfluxDB.Enabled {
		return store, nil
	}
	mirror, err := NewInfluxMirror(ctx, store, InfluxOptions{
		URL:    cfg.InfluxDB.URL,
		Token:  cfg.InfluxDB.Token,
		Org:    cfg.InfluxDB.Org,
		Bucket: cfg.InfluxDB.Bucket,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return mirror, nil
}
