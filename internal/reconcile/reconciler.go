// Package reconcile re-checks timed-out trades against the chain.
//
// A TimedOut result only says the engine stopped waiting; the signed
// transaction may still have landed. The reconciler records what an
// independent status query finds, append-only, and never alters the
// journaled result.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/observability"
	chain "solana-swap-engine/internal/solana"
	"solana-swap-engine/internal/storage"
)

// maxStatusBatch is the getSignatureStatuses limit per request.
const maxStatusBatch = 256

// ErrNotReconcilable is returned for trades that did not time out.
var ErrNotReconcilable = errors.New("only timed out trades are reconciled")

// StatusSource queries signature statuses.
type StatusSource interface {
	GetSignatureStatuses(ctx context.Context, searchHistory bool, signatures ...string) ([]*chain.SignatureStatus, error)
}

// Config controls the periodic pass.
type Config struct {
	Interval  time.Duration // between passes
	Lookback  time.Duration // trades completed within this window are checked
	BatchSize int           // signatures per status request, at most 256
}

// DefaultConfig returns the default reconciliation settings.
func DefaultConfig() Config {
	return Config{
		Interval:  time.Minute,
		Lookback:  24 * time.Hour,
		BatchSize: 100,
	}
}

// Options configures a Reconciler.
type Options struct {
	Trades          storage.TradeStore
	Reconciliations storage.ReconciliationStore
	Chain           StatusSource
	Config          Config
	Metrics         *observability.Metrics // optional
	Logger          *zap.Logger
	Now             func() time.Time
}

// Reconciler appends chain checks for timed-out trades.
type Reconciler struct {
	trades  storage.TradeStore
	recs    storage.ReconciliationStore
	chain   StatusSource
	cfg     Config
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Reconciler.
func New(opts Options) (*Reconciler, error) {
	if opts.Trades == nil || opts.Reconciliations == nil || opts.Chain == nil {
		return nil, fmt.Errorf("reconcile: trades, reconciliations and chain are required")
	}
	def := DefaultConfig()
	if opts.Config.Interval <= 0 {
		opts.Config.Interval = def.Interval
	}
	if opts.Config.Lookback <= 0 {
		opts.Config.Lookback = def.Lookback
	}
	if opts.Config.BatchSize <= 0 || opts.Config.BatchSize > maxStatusBatch {
		opts.Config.BatchSize = def.BatchSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		trades:  opts.Trades,
		recs:    opts.Reconciliations,
		chain:   opts.Chain,
		cfg:     opts.Config,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
	}, nil
}

// Reconcile checks one trade now and appends the result.
func (r *Reconciler) Reconcile(ctx context.Context, tradeID string) (*domain.Reconciliation, error) {
	trade, err := r.trades.GetByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Outcome != domain.OutcomeTimedOut || trade.Signature == "" {
		return nil, ErrNotReconcilable
	}

	recs, err := r.check(ctx, []*domain.TradeRecord{trade})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// RunOnce checks every timed-out trade in the lookback window that has no
// final reconciliation yet. Returns the number of checks appended.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	now := r.now()
	candidates, err := r.trades.GetByOutcome(ctx, domain.OutcomeTimedOut, now.Add(-r.cfg.Lookback).UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("list timed out trades: %w", err)
	}

	var open []*domain.TradeRecord
	for _, t := range candidates {
		if t.Signature == "" {
			continue
		}
		settled, err := r.settled(ctx, t.TradeID)
		if err != nil {
			return 0, err
		}
		if !settled {
			open = append(open, t)
		}
	}

	appended := 0
	for start := 0; start < len(open); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(open))
		recs, err := r.check(ctx, open[start:end])
		appended += len(recs)
		if err != nil {
			return appended, err
		}
	}

	r.logger.Debug("reconcile.pass",
		zap.Int("candidates", len(candidates)),
		zap.Int("checked", appended))
	return appended, nil
}

// Run performs a pass every Interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("reconcile.pass_failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// settled reports whether the trade already has a confirmed or failed check.
func (r *Reconciler) settled(ctx context.Context, tradeID string) (bool, error) {
	recs, err := r.recs.GetByTradeID(ctx, tradeID)
	if err != nil {
		return false, fmt.Errorf("get reconciliations %s: %w", tradeID, err)
	}
	for _, rec := range recs {
		if rec.Status == domain.ChainStatusConfirmed || rec.Status == domain.ChainStatusFailed {
			return true, nil
		}
	}
	return false, nil
}

func (r *Reconciler) check(ctx context.Context, trades []*domain.TradeRecord) ([]*domain.Reconciliation, error) {
	sigs := make([]string, len(trades))
	for i, t := range trades {
		sigs[i] = t.Signature
	}

	statuses, err := r.chain.GetSignatureStatuses(ctx, true, sigs...)
	if err != nil {
		return nil, fmt.Errorf("get signature statuses: %w", err)
	}
	if len(statuses) != len(sigs) {
		return nil, fmt.Errorf("get signature statuses: %d results for %d signatures", len(statuses), len(sigs))
	}

	checkedAt := r.now().UnixMilli()
	out := make([]*domain.Reconciliation, 0, len(trades))
	for i, t := range trades {
		rec := fromStatus(t.TradeID, t.Signature, checkedAt, statuses[i])
		if err := r.recs.Insert(ctx, rec); err != nil {
			return out, fmt.Errorf("append reconciliation %s: %w", t.TradeID, err)
		}
		out = append(out, rec)

		if r.metrics != nil {
			r.metrics.Reconciliations.WithLabelValues(string(rec.Status)).Inc()
		}
		r.logger.Info("reconcile.checked",
			zap.String("trade_id", rec.TradeID),
			zap.String("signature", rec.Signature),
			zap.String("status", string(rec.Status)),
			zap.Uint64("slot", rec.Slot))
	}
	return out, nil
}

func fromStatus(tradeID, sig string, checkedAt int64, st *chain.SignatureStatus) *domain.Reconciliation {
	rec := &domain.Reconciliation{TradeID: tradeID, Signature: sig, CheckedAt: checkedAt}
	switch {
	case st == nil:
		rec.Status = domain.ChainStatusNotFound
	case st.Err != nil:
		rec.Status = domain.ChainStatusFailed
		rec.Slot = st.Slot
		rec.ChainErr = fmt.Sprint(st.Err)
	case st.Landed():
		rec.Status = domain.ChainStatusConfirmed
		rec.Slot = st.Slot
	default:
		rec.Status = domain.ChainStatusPending
		rec.Slot = st.Slot
	}
	return rec
}
