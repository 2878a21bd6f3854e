package storage

import (
	"context"

	"solana-swap-engine/internal/domain"
)

// TradeStore provides access to the trades journal.
type TradeStore interface {
	// Insert adds a finished trade. Returns ErrDuplicateKey if trade_id exists.
	Insert(ctx context.Context, t *domain.TradeRecord) error

	// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error)

	// GetByOutcome retrieves trades with outcome completed within [start, end] (inclusive, unix ms),
	// ordered by completed_at ASC.
	GetByOutcome(ctx context.Context, outcome domain.Outcome, start, end int64) ([]*domain.TradeRecord, error)
}

// ReconciliationStore provides access to append-only reconciliation checks.
type ReconciliationStore interface {
	// Insert adds a check. Returns ErrDuplicateKey if (trade_id, checked_at) exists.
	Insert(ctx context.Context, r *domain.Reconciliation) error

	// GetByTradeID retrieves all checks for a trade, ordered by checked_at ASC.
	GetByTradeID(ctx context.Context, tradeID string) ([]*domain.Reconciliation, error)
}

// EventStore provides access to trade lifecycle events.
type EventStore interface {
	// InsertBulk adds multiple events. Fails entire batch on duplicate event_id.
	InsertBulk(ctx context.Context, events []*domain.TradeEvent) error

	// GetByTradeID retrieves all events for a trade, ordered by seq ASC.
	GetByTradeID(ctx context.Context, tradeID string) ([]*domain.TradeEvent, error)
}
