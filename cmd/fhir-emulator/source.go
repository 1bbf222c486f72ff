package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/fhir-emulator/internal/config"
	"github.com/ehr/fhir-emulator/internal/platform/db"
	"github.com/ehr/fhir-emulator/internal/platform/store"
)

// recordSource is the configured store plus whatever has to be released
// with it.
type recordSource struct {
	store.Source
	pool      *pgxpool.Pool
	stopWatch func() error
}

func (s *recordSource) Close() {
	if s.stopWatch != nil {
		_ = s.stopWatch()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

func buildSource(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*recordSource, error) {
	out := &recordSource{}

	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to database")
		out.pool = pool
		out.Source = store.NewPostgres(pool, logger)
	case config.StoreS3:
		obj, err := store.NewObject(store.ObjectConfig{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		out.Source = obj
	case config.StoreFile:
		out.Source = store.NewFile(cfg.FilesDir, logger)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	if cfg.CacheRecords {
		cache := store.NewCache(out.Source, logger)
		out.Source = cache
		if cfg.Store == config.StoreFile {
			stop, err := cache.Watch(ctx, cfg.FilesDir)
			if err != nil {
				// Without a watcher stale snapshots would be served forever.
				out.Close()
				return nil, fmt.Errorf("watch %s: %w", cfg.FilesDir, err)
			}
			out.stopWatch = stop
		}
	}
	return out, nil
}
