// Package events delivers trade lifecycle events from the orchestrator's
// notifier to durable sinks.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/observability"
)

// Sink consumes trade events in publication order of one trade.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev domain.TradeEvent) error
}

// Flusher is implemented by sinks that buffer events.
type Flusher interface {
	Flush(ctx context.Context) error
}

// DefaultFlushInterval bounds how long a buffering sink holds events.
const DefaultFlushInterval = time.Second

// Dispatcher drains one subscription into one sink. Sink errors are logged
// and counted; they never reach the trade that produced the event.
type Dispatcher struct {
	sink          Sink
	flushInterval time.Duration
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	FlushInterval time.Duration          // default DefaultFlushInterval
	Metrics       *observability.Metrics // optional
	Logger        *zap.Logger
}

// NewDispatcher creates a Dispatcher for sink.
func NewDispatcher(sink Sink, opts DispatcherOptions) *Dispatcher {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dispatcher{
		sink:          sink,
		flushInterval: opts.FlushInterval,
		metrics:       opts.Metrics,
		logger:        opts.Logger.With(zap.String("sink", sink.Name())),
	}
}

// Run delivers events until ch is closed or ctx is done, then flushes.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.TradeEvent) error {
	ticker := time.NewTicker(d.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				d.flush(ctx)
				return nil
			}
			d.deliver(ctx, ev)
		case <-ticker.C:
			d.flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			d.flush(flushCtx)
			cancel()
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev domain.TradeEvent) {
	if err := d.sink.Handle(ctx, ev); err != nil {
		d.fail("events.sink_failed", err,
			zap.String("trade_id", ev.TradeID),
			zap.String("stage", ev.Stage.String()),
			zap.Int("seq", ev.Seq))
		return
	}
	if d.metrics != nil {
		d.metrics.EventsDelivered.WithLabelValues(d.sink.Name()).Inc()
	}
}

func (d *Dispatcher) flush(ctx context.Context) {
	f, ok := d.sink.(Flusher)
	if !ok {
		return
	}
	if err := f.Flush(ctx); err != nil {
		d.fail("events.flush_failed", err)
	}
}

func (d *Dispatcher) fail(msg string, err error, fields ...zap.Field) {
	d.logger.Warn(msg, append(fields, zap.Error(err))...)
	if d.metrics != nil {
		d.metrics.SinkErrors.WithLabelValues(d.sink.Name()).Inc()
	}
}
