package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const tradeColumns = `
	trade_id, input_mint, output_mint, input_amount, slippage_bps, route_hint,
	outcome, signature, expected_output, minimum_output, output_observed,
	price_impact_pct, failure_kind, failure_reason, attempts, started_at, completed_at`

// Insert adds a finished trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.TradeRecord) error {
	if t == nil || t.TradeID == "" || !t.Outcome.IsValid() {
		return storage.ErrInvalidInput
	}

	inputAmount, err := toBigint(t.InputAmount)
	if err != nil {
		return err
	}
	expected, err := toBigint(t.ExpectedOutput)
	if err != nil {
		return err
	}
	minimum, err := toBigint(t.MinimumOutput)
	if err != nil {
		return err
	}
	var observed *int64
	if t.OutputObserved != nil {
		v, err := toBigint(*t.OutputObserved)
		if err != nil {
			return err
		}
		observed = &v
	}

	query := `INSERT INTO trades (` + tradeColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11,
		$12, $13, $14, $15, $16, $17
	)`

	_, err = s.pool.Exec(ctx, query,
		t.TradeID, t.InputMint, t.OutputMint, inputAmount, int32(t.SlippageBps), t.RouteHint,
		string(t.Outcome), t.Signature, expected, minimum, observed,
		t.PriceImpactPct, t.FailureKind, t.FailureReason, t.Attempts, t.StartedAt, t.CompletedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE trade_id = $1`

	t, err := scanTrade(s.pool.QueryRow(ctx, query, tradeID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade: %w", err)
	}
	return t, nil
}

// GetByOutcome retrieves trades with outcome completed within [start, end].
func (s *TradeStore) GetByOutcome(ctx context.Context, outcome domain.Outcome, start, end int64) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE outcome = $1 AND completed_at >= $2 AND completed_at <= $3
		ORDER BY completed_at ASC, trade_id ASC`

	rows, err := s.pool.Query(ctx, query, string(outcome), start, end)
	if err != nil {
		return nil, fmt.Errorf("query trades by outcome: %w", err)
	}
	defer rows.Close()

	var result []*domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return result, nil
}

func scanTrade(row pgx.Row) (*domain.TradeRecord, error) {
	var (
		t                              domain.TradeRecord
		inputAmount, expected, minimum int64
		observed                       *int64
		slippage                       int32
		outcome                        string
	)
	err := row.Scan(
		&t.TradeID, &t.InputMint, &t.OutputMint, &inputAmount, &slippage, &t.RouteHint,
		&outcome, &t.Signature, &expected, &minimum, &observed,
		&t.PriceImpactPct, &t.FailureKind, &t.FailureReason, &t.Attempts, &t.StartedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	t.InputAmount = uint64(inputAmount)
	t.SlippageBps = uint16(slippage)
	t.Outcome = domain.Outcome(outcome)
	t.ExpectedOutput = uint64(expected)
	t.MinimumOutput = uint64(minimum)
	if observed != nil {
		v := uint64(*observed)
		t.OutputObserved = &v
	}
	return &t, nil
}
