package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/storage"
)

// DefaultBatchSize is the number of events buffered before an insert.
const DefaultBatchSize = 100

// StoreSink appends events to an EventStore in batches. A batch is also
// written when a trade ends.
type StoreSink struct {
	store     storage.EventStore
	batchSize int

	mu  sync.Mutex
	buf []*domain.TradeEvent
}

// NewStoreSink creates a StoreSink. A non-positive batchSize uses DefaultBatchSize.
func NewStoreSink(store storage.EventStore, batchSize int) *StoreSink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &StoreSink{store: store, batchSize: batchSize}
}

// Name implements Sink.
func (s *StoreSink) Name() string { return "event_store" }

// Handle implements Sink.
func (s *StoreSink) Handle(ctx context.Context, ev domain.TradeEvent) error {
	s.mu.Lock()
	s.buf = append(s.buf, &ev)
	full := len(s.buf) >= s.batchSize
	s.mu.Unlock()

	if full || ev.Stage.IsTerminal() {
		return s.Flush(ctx)
	}
	return nil
}

// Flush implements Flusher. On a duplicate the batch is retried one event
// at a time and duplicates are skipped.
func (s *StoreSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	err := s.store.InsertBulk(ctx, batch)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		if err != nil {
			return fmt.Errorf("insert %d events: %w", len(batch), err)
		}
		return nil
	}

	var errs error
	for _, ev := range batch {
		if err := s.store.InsertBulk(ctx, []*domain.TradeEvent{ev}); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			errs = multierr.Append(errs, fmt.Errorf("insert event %s: %w", ev.EventID, err))
		}
	}
	return errs
}
