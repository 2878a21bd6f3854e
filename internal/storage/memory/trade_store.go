package memory

import (
	"context"
	"sort"
	"sync"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeRecord // keyed by trade_id
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.TradeRecord),
	}
}

// Insert adds a finished trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.TradeRecord) error {
	if t == nil || t.TradeID == "" || !t.Outcome.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.TradeID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[t.TradeID] = cloneTrade(t)
	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(_ context.Context, tradeID string) (*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[tradeID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneTrade(t), nil
}

// GetByOutcome retrieves trades with outcome completed within [start, end].
func (s *TradeStore) GetByOutcome(_ context.Context, outcome domain.Outcome, start, end int64) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeRecord
	for _, t := range s.data {
		if t.Outcome == outcome && t.CompletedAt >= start && t.CompletedAt <= end {
			result = append(result, cloneTrade(t))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CompletedAt != result[j].CompletedAt {
			return result[i].CompletedAt < result[j].CompletedAt
		}
		return result[i].TradeID < result[j].TradeID
	})

	return result, nil
}

func cloneTrade(t *domain.TradeRecord) *domain.TradeRecord {
	c := *t
	if t.OutputObserved != nil {
		v := *t.OutputObserved
		c.OutputObserved = &v
	}
	return &c
}

var _ storage.TradeStore = (*TradeStore)(nil)
