package memory

import (
	"context"
	"sort"
	"sync"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu      sync.RWMutex
	ids     map[string]struct{}
	byTrade map[string][]*domain.TradeEvent
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		ids:     make(map[string]struct{}),
		byTrade: make(map[string][]*domain.TradeEvent),
	}
}

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *EventStore) InsertBulk(_ context.Context, events []*domain.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(events))

	// First pass: check for duplicates (existing + intra-batch)
	for _, e := range events {
		if e == nil || e.EventID == "" || e.TradeID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.ids[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[e.EventID] = struct{}{}
	}

	// Second pass: insert all
	for _, e := range events {
		c := *e
		// request and result are kept by the trade journal
		c.Request, c.Result = nil, nil
		s.ids[e.EventID] = struct{}{}
		s.byTrade[e.TradeID] = append(s.byTrade[e.TradeID], &c)
	}

	return nil
}

// GetByTradeID retrieves all events for a trade, ordered by seq ASC.
func (s *EventStore) GetByTradeID(_ context.Context, tradeID string) ([]*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.TradeEvent, 0, len(s.byTrade[tradeID]))
	for _, e := range s.byTrade[tradeID] {
		c := *e
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})

	return result, nil
}

var _ storage.EventStore = (*EventStore)(nil)
