package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/reverseauction/go/internal/auction/record"
	"github.com/mcdev12/reverseauction/go/internal/dbconfig"
	"github.com/rs/zerolog/log"
)

// setupStore returns the record store selected by AUCTION_STORE (postgres or memory)
// and a cleanup function.
func setupStore(ctx context.Context) (record.Store, func(), error) {
	switch kind := getEnv("AUCTION_STORE", "postgres"); kind {
	case "memory":
		log.Warn().Msg("using in-memory auction store, state is lost on restart")
		return record.NewMemoryStore(), func() {}, nil
	case "postgres":
		pool, err := setupDatabase(ctx)
		if err != nil {
			return nil, nil, err
		}
		store := record.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown AUCTION_STORE %q", kind)
	}
}

func setupDatabase(ctx context.Context) (*pgxpool.Pool, error) {
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := cfg.NewPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")
	return pool, nil
}
