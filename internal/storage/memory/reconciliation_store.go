package memory

import (
	"context"
	"sort"
	"sync"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/storage"
)

// ReconciliationStore is an in-memory implementation of storage.ReconciliationStore.
type ReconciliationStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.Reconciliation // keyed by trade_id
}

// NewReconciliationStore creates a new in-memory reconciliation store.
func NewReconciliationStore() *ReconciliationStore {
	return &ReconciliationStore{
		data: make(map[string][]*domain.Reconciliation),
	}
}

// Insert adds a check. Returns ErrDuplicateKey if (trade_id, checked_at) exists.
func (s *ReconciliationStore) Insert(_ context.Context, r *domain.Reconciliation) error {
	if r == nil || r.TradeID == "" || r.Signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data[r.TradeID] {
		if existing.CheckedAt == r.CheckedAt {
			return storage.ErrDuplicateKey
		}
	}

	c := *r
	s.data[r.TradeID] = append(s.data[r.TradeID], &c)
	return nil
}

// GetByTradeID retrieves all checks for a trade, ordered by checked_at ASC.
func (s *ReconciliationStore) GetByTradeID(_ context.Context, tradeID string) ([]*domain.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Reconciliation, 0, len(s.data[tradeID]))
	for _, r := range s.data[tradeID] {
		c := *r
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CheckedAt < result[j].CheckedAt
	})

	return result, nil
}

var _ storage.ReconciliationStore = (*ReconciliationStore)(nil)
