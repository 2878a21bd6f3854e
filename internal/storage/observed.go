package storage

import (
	"context"
	"errors"
	"time"

	"solana-swap-engine/internal/domain"
)

// QueryObserver receives the duration of every store call. err is nil for
// ErrNotFound and ErrDuplicateKey, which are expected results.
type QueryObserver func(database, operation string, elapsed time.Duration, err error)

func observe(fn QueryObserver, database, operation string, start time.Time, err error) {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateKey) {
		err = nil
	}
	fn(database, operation, time.Since(start), err)
}

// ObserveTrades wraps s so that every call is reported to fn.
func ObserveTrades(s TradeStore, database string, fn QueryObserver) TradeStore {
	if fn == nil {
		return s
	}
	return &observedTrades{next: s, db: database, fn: fn}
}

type observedTrades struct {
	next TradeStore
	db   string
	fn   QueryObserver
}

func (o *observedTrades) Insert(ctx context.Context, t *domain.TradeRecord) (err error) {
	defer func(start time.Time) { observe(o.fn, o.db, "insert_trade", start, err) }(time.Now())
	return o.next.Insert(ctx, t)
}

func (o *observedTrades) GetByID(ctx context.Context, tradeID string) (_ *domain.TradeRecord, err error) {
	defer func(start time.Time) { observe(o.fn, o.db, "get_trade", start, err) }(time.Now())
	return o.next.GetByID(ctx, tradeID)
}

func (o *observedTrades) GetByOutcome(ctx context.Context, outcome domain.Outcome, start, end int64) (_ []*domain.TradeRecord, err error) {
	defer func(began time.Time) { observe(o.fn, o.db, "get_trades_by_outcome", began, err) }(time.Now())
	return o.next.GetByOutcome(ctx, outcome, start, end)
}

// ObserveReconciliations wraps s so that every call is reported to fn.
func ObserveReconciliations(s ReconciliationStore, database string, fn QueryObserver) ReconciliationStore {
	if fn == nil {
		return s
	}
	return &observedReconciliations{next: s, db: database, fn: fn}
}

type observedReconciliations struct {
	next ReconciliationStore
	db   string
	fn   QueryObserver
}

func (o *observedReconciliations) Insert(ctx context.Context, r *domain.Reconciliation) (err error) {
	defer func(start time.Time) { observe(o.fn, o.db, "insert_reconciliation", start, err) }(time.Now())
	return o.next.Insert(ctx, r)
}

func (o *observedReconciliations) GetByTradeID(ctx context.Context, tradeID string) (_ []*domain.Reconciliation, err error) {
	defer func(start time.Time) { observe(o.fn, o.db, "get_reconciliations", start, err) }(time.Now())
	return o.next.GetByTradeID(ctx, tradeID)
}

// ObserveEvents wraps s so that every call is reported to fn.
func ObserveEvents(s EventStore, database string, fn QueryObserver) EventStore {
	if fn == nil {
		return s
	}
	return &observedEvents{next: s, db: database, fn: fn}
}

type observedEvents struct {
	next EventStore
	db   string
	fn   QueryObserver
}

func (o *observedEvents) InsertBulk(ctx context.Context, events []*domain.TradeEvent) (err error) {
	defer func(start time.Time) { observe(o.fn, o.db, "insert_events", start, err) }(time.Now())
	return o.next.InsertBulk(ctx, events)
}

func (o *observedEvents) GetByTradeID(ctx context.Context, tradeID string) (_ []*domain.TradeEvent, err error) {
	defer func(start time.Time) { observe(o.fn, o.db, "get_events", start, err) }(time.Now())
	return o.next.GetByTradeID(ctx, tradeID)
}
