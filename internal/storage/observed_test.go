package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/storage"
	"solana-swap-engine/internal/storage/memory"
)

type call struct {
	db, op string
	err    error
}

func TestObserveTrades(t *testing.T) {
	var calls []call
	fn := func(db, op string, _ time.Duration, err error) {
		calls = append(calls, call{db, op, err})
	}
	store := storage.ObserveTrades(memory.NewTradeStore(), "memory", fn)
	ctx := context.Background()

	rec := &domain.TradeRecord{TradeID: "t-1", Outcome: domain.OutcomeConfirmed, CompletedAt: 10}
	require.NoError(t, store.Insert(ctx, rec))
	assert.ErrorIs(t, store.Insert(ctx, rec), storage.ErrDuplicateKey)
	_, err := store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.Insert(ctx, nil), storage.ErrInvalidInput)

	require.Len(t, calls, 4)
	assert.Equal(t, call{"memory", "insert_trade", nil}, calls[0])
	assert.Equal(t, call{"memory", "insert_trade", nil}, calls[1])
	assert.Equal(t, call{"memory", "get_trade", nil}, calls[2])
	assert.True(t, errors.Is(calls[3].err, storage.ErrInvalidInput))
}

func TestObserveEvents_NilObserverReturnsStore(t *testing.T) {
	inner := memory.NewEventStore()
	assert.Same(t, inner, storage.ObserveEvents(inner, "memory", nil))
}

func TestObserveReconciliations(t *testing.T) {
	var ops []string
	fn := func(_, op string, _ time.Duration, _ error) { ops = append(ops, op) }
	store := storage.ObserveReconciliations(memory.NewReconciliationStore(), "memory", fn)

	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &domain.Reconciliation{TradeID: "t-1", Signature: "sig", CheckedAt: 1, Status: domain.ChainStatusPending}))
	got, err := store.GetByTradeID(ctx, "t-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, []string{"insert_reconciliation", "get_reconciliations"}, ops)
}
