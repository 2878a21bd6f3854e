package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/storage"
)

// JournalSink writes one trade record per finished trade.
type JournalSink struct {
	trades storage.TradeStore

	mu      sync.Mutex
	started map[string]time.Time // trade_id -> INITIATED timestamp
}

// NewJournalSink creates a JournalSink over trades.
func NewJournalSink(trades storage.TradeStore) *JournalSink {
	return &JournalSink{trades: trades, started: make(map[string]time.Time)}
}

// Name implements Sink.
func (s *JournalSink) Name() string { return "journal" }

// Handle implements Sink. Re-delivered terminal events are ignored.
func (s *JournalSink) Handle(ctx context.Context, ev domain.TradeEvent) error {
	if ev.Stage == domain.StageInitiated {
		s.mu.Lock()
		s.started[ev.TradeID] = ev.Timestamp
		s.mu.Unlock()
		return nil
	}
	if !ev.Stage.IsTerminal() {
		return nil
	}
	if ev.Request == nil || ev.Result == nil {
		return fmt.Errorf("terminal event %s without request or result", ev.EventID)
	}

	s.mu.Lock()
	startedAt, ok := s.started[ev.TradeID]
	delete(s.started, ev.TradeID)
	s.mu.Unlock()
	if !ok {
		// INITIATED was dropped
		startedAt = ev.Result.CompletedAt
	}

	err := s.trades.Insert(ctx, domain.NewTradeRecord(*ev.Request, *ev.Result, startedAt))
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("journal trade %s: %w", ev.TradeID, err)
	}
	return nil
}
