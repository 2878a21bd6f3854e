package main

import (
	"context"
	"fmt"

	"solana-swap-engine/internal/api"
	"solana-swap-engine/internal/config"
	"solana-swap-engine/internal/storage"
	chstore "solana-swap-engine/internal/storage/clickhouse"
	"solana-swap-engine/internal/storage/memory"
	"solana-swap-engine/internal/storage/migrations"
	pgstore "solana-swap-engine/internal/storage/postgres"
)

// allStores holds all storage implementations.
type allStores struct {
	trades          storage.TradeStore
	reconciliations storage.ReconciliationStore
	events          storage.EventStore // nil when no event store is configured
	health          []api.HealthCheck
}

// createStores creates all required stores.
func createStores(ctx context.Context, cfg config.StorageConfig, observe storage.QueryObserver) (*allStores, func(), error) {
	if cfg.UseMemory {
		stores := &allStores{
			trades:          memory.NewTradeStore(),
			reconciliations: memory.NewReconciliationStore(),
			events:          memory.NewEventStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RunMigrations {
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
	}

	stores := &allStores{
		trades:          storage.ObserveTrades(pgstore.NewTradeStore(pool), "postgres", observe),
		reconciliations: storage.ObserveReconciliations(pgstore.NewReconciliationStore(pool), "postgres", observe),
		health:          []api.HealthCheck{{Name: "postgres", Check: pool.Ping}},
	}

	if cfg.ClickhouseDSN == "" {
		return stores, pool.Close, nil
	}

	// ClickHouse (event history)
	var chConn *chstore.Conn
	if cfg.RunMigrations {
		chConn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
	} else {
		chConn, err = chstore.NewConn(ctx, cfg.ClickhouseDSN)
	}
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse: %w", err)
	}
	stores.events = storage.ObserveEvents(chstore.NewEventStore(chConn), "clickhouse", observe)
	stores.health = append(stores.health, api.HealthCheck{Name: "clickhouse", Check: chConn.Ping})

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}
