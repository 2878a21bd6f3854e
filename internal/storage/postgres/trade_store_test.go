package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/storage"
)

func confirmedTrade(id string, completedAt int64) *domain.TradeRecord {
	return &domain.TradeRecord{
		TradeID:        id,
		InputMint:      domain.MintWSOL,
		OutputMint:     domain.MintUSDC,
		InputAmount:    1_000_000_000,
		SlippageBps:    100,
		RouteHint:      "raydium:58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2",
		Outcome:        domain.OutcomeConfirmed,
		Signature:      "sig-" + id,
		ExpectedOutput: 95_000_000,
		MinimumOutput:  94_050_000,
		OutputObserved: ptr(uint64(94_100_000)),
		PriceImpactPct: 0.0012,
		Attempts:       1,
		StartedAt:      completedAt - 1500,
		CompletedAt:    completedAt,
	}
}

func TestTradeStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeStore(pool)
	ctx := context.Background()

	trade := confirmedTrade("trade-1", 1_700_000_000_000)
	require.NoError(t, store.Insert(ctx, trade))

	got, err := store.GetByID(ctx, "trade-1")
	require.NoError(t, err)
	assert.Equal(t, trade, got)

	err = store.Insert(ctx, trade)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTradeStore_NullableObservedOutput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeStore(pool)
	ctx := context.Background()

	trade := &domain.TradeRecord{
		TradeID:       "trade-timeout",
		InputMint:     domain.MintUSDC,
		OutputMint:    domain.MintWSOL,
		InputAmount:   5_000_000,
		SlippageBps:   50,
		Outcome:       domain.OutcomeTimedOut,
		Signature:     "sig-timeout",
		FailureKind:   domain.KindTimedOut.String(),
		FailureReason: "TIMED_OUT: confirmation deadline exceeded",
		Attempts:      1,
		StartedAt:     1000,
		CompletedAt:   61000,
	}
	require.NoError(t, store.Insert(ctx, trade))

	got, err := store.GetByID(ctx, "trade-timeout")
	require.NoError(t, err)
	assert.Nil(t, got.OutputObserved)
	assert.Equal(t, domain.OutcomeTimedOut, got.Outcome)
	assert.Equal(t, "TIMED_OUT", got.FailureKind)
}

func TestTradeStore_GetByOutcome(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeStore(pool)
	ctx := context.Background()

	for _, tr := range []*domain.TradeRecord{
		confirmedTrade("b", 2000),
		confirmedTrade("a", 1000),
		confirmedTrade("late", 9000),
	} {
		require.NoError(t, store.Insert(ctx, tr))
	}

	got, err := store.GetByOutcome(ctx, domain.OutcomeConfirmed, 1000, 2000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].TradeID)
	assert.Equal(t, "b", got[1].TradeID)

	none, err := store.GetByOutcome(ctx, domain.OutcomeFailed, 0, 10000)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTradeStore_RejectsInvalid(t *testing.T) {
	store := NewTradeStore(nil)
	ctx := context.Background()

	assert.ErrorIs(t, store.Insert(ctx, nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Insert(ctx, &domain.TradeRecord{TradeID: "x", Outcome: "LOST"}), storage.ErrInvalidInput)

	huge := confirmedTrade("huge", 1)
	huge.InputAmount = ^uint64(0)
	assert.ErrorIs(t, store.Insert(ctx, huge), storage.ErrInvalidInput)
}

func TestReconciliationStore_AppendOnly(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	trades := NewTradeStore(pool)
	store := NewReconciliationStore(pool)
	ctx := context.Background()

	require.NoError(t, trades.Insert(ctx, confirmedTrade("t1", 1000)))

	later := &domain.Reconciliation{TradeID: "t1", Signature: "sig-t1", CheckedAt: 3000, Status: domain.ChainStatusConfirmed, Slot: 250_000_001}
	earlier := &domain.Reconciliation{TradeID: "t1", Signature: "sig-t1", CheckedAt: 2000, Status: domain.ChainStatusNotFound}
	require.NoError(t, store.Insert(ctx, later))
	require.NoError(t, store.Insert(ctx, earlier))
	assert.ErrorIs(t, store.Insert(ctx, later), storage.ErrDuplicateKey)

	got, err := store.GetByTradeID(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, earlier, got[0])
	assert.Equal(t, later, got[1])

	empty, err := store.GetByTradeID(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
