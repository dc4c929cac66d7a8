package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bidlevel/internal/analysis"
	"github.com/sells-group/bidlevel/internal/cache"
	"github.com/sells-group/bidlevel/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "bidlevel.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// newAnalysisService wires the snapshot cache and analysis service from config.
func newAnalysisService(st store.Store) *analysis.Service {
	lc := cfg.Leveling
	snapshots := cache.New(cache.Options{
		Capacity:        lc.CacheCapacity,
		RecencyWeight:   lc.CacheRecencyWeight,
		FrequencyWeight: lc.CacheFrequencyWeight,
		HalfLife:        time.Duration(lc.CacheHalfLifeSecs) * time.Second,
	})
	return analysis.NewService(st, snapshots, analysis.OptionsFromConfig(lc))
}
