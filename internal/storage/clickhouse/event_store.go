package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/storage"
)

// chRows is the subset of driver.Rows used by scanners.
type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// EventStore implements storage.EventStore using ClickHouse.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// InsertBulk adds multiple events. Fails entire batch on duplicate event_id.
// Request and result payloads stay in the trade journal.
func (s *EventStore) InsertBulk(ctx context.Context, events []*domain.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e == nil || e.EventID == "" || e.TradeID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[e.EventID] = struct{}{}
	}

	// MergeTree does not enforce uniqueness
	for _, e := range events {
		exists, err := s.exists(ctx, e.TradeID, e.EventID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trade_events (
			event_id, trade_id, seq, stage, attempt,
			timestamp_ms, signature, failure_kind, detail
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.EventID, e.TradeID, uint32(e.Seq), string(e.Stage), uint16(e.Attempt),
			e.Timestamp.UnixMilli(), e.Signature, string(e.FailureKind), e.Detail,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTradeID retrieves all events for a trade, ordered by seq ASC.
func (s *EventStore) GetByTradeID(ctx context.Context, tradeID string) ([]*domain.TradeEvent, error) {
	query := `
		SELECT event_id, trade_id, seq, stage, attempt,
		       timestamp_ms, signature, failure_kind, detail
		FROM trade_events FINAL
		WHERE trade_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.conn.Query(ctx, query, tradeID)
	if err != nil {
		return nil, fmt.Errorf("query by trade id: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// exists checks if an event with the given id was already stored.
func (s *EventStore) exists(ctx context.Context, tradeID, eventID string) (bool, error) {
	query := `
		SELECT count(*) FROM trade_events
		WHERE trade_id = ? AND event_id = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, tradeID, eventID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanEvents(rows chRows) ([]*domain.TradeEvent, error) {
	events := make([]*domain.TradeEvent, 0)

	for rows.Next() {
		var (
			e                  domain.TradeEvent
			seq                uint32
			attempt            uint16
			timestampMs        int64
			stage, failureKind string
		)
		err := rows.Scan(
			&e.EventID, &e.TradeID, &seq, &stage, &attempt,
			&timestampMs, &e.Signature, &failureKind, &e.Detail,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade event row: %w", err)
		}

		e.Seq = int(seq)
		e.Attempt = int(attempt)
		e.Stage = domain.Stage(stage)
		e.FailureKind = domain.FailureKind(failureKind)
		e.Timestamp = time.UnixMilli(timestampMs).UTC()
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade event rows: %w", err)
	}

	return events, nil
}
