package postgres

import (
	"context"
	"fmt"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/storage"
)

// ReconciliationStore implements storage.ReconciliationStore using PostgreSQL.
type ReconciliationStore struct {
	pool *Pool
}

// NewReconciliationStore creates a new ReconciliationStore.
func NewReconciliationStore(pool *Pool) *ReconciliationStore {
	return &ReconciliationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ReconciliationStore = (*ReconciliationStore)(nil)

// Insert adds a check. Returns ErrDuplicateKey if (trade_id, checked_at) exists.
func (s *ReconciliationStore) Insert(ctx context.Context, r *domain.Reconciliation) error {
	if r == nil || r.TradeID == "" || r.Signature == "" {
		return storage.ErrInvalidInput
	}
	slot, err := toBigint(r.Slot)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO trade_reconciliations (trade_id, signature, checked_at, status, slot, chain_err)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.pool.Exec(ctx, query, r.TradeID, r.Signature, r.CheckedAt, string(r.Status), slot, r.ChainErr)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert reconciliation: %w", err)
	}
	return nil
}

// GetByTradeID retrieves all checks for a trade, ordered by checked_at ASC.
func (s *ReconciliationStore) GetByTradeID(ctx context.Context, tradeID string) ([]*domain.Reconciliation, error) {
	query := `
		SELECT trade_id, signature, checked_at, status, slot, chain_err
		FROM trade_reconciliations
		WHERE trade_id = $1
		ORDER BY checked_at ASC
	`
	rows, err := s.pool.Query(ctx, query, tradeID)
	if err != nil {
		return nil, fmt.Errorf("query reconciliations: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Reconciliation, 0)
	for rows.Next() {
		var (
			r      domain.Reconciliation
			status string
			slot   int64
		)
		if err := rows.Scan(&r.TradeID, &r.Signature, &r.CheckedAt, &status, &slot, &r.ChainErr); err != nil {
			return nil, fmt.Errorf("scan reconciliation: %w", err)
		}
		r.Status = domain.ChainStatus(status)
		r.Slot = uint64(slot)
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reconciliations: %w", err)
	}
	return result, nil
}
