// Package tracker submits signed transactions and watches them to a terminal state.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/solana"
)

// Config holds submission and confirmation limits.
type Config struct {
	PollInterval         time.Duration
	ConfirmationDeadline time.Duration
	SubmitMaxAttempts    int
	SubmitBackoffBase    time.Duration
	SubmitBackoffMax     time.Duration
	// SkipPreflight submits without simulation. Rejections then surface as
	// landed execution errors instead of preflight failures.
	SkipPreflight bool
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		PollInterval:         500 * time.Millisecond,
		ConfirmationDeadline: 60 * time.Second,
		SubmitMaxAttempts:    4,
		SubmitBackoffBase:    250 * time.Millisecond,
		SubmitBackoffMax:     4 * time.Second,
	}
}

// Options configures Tracker.
type Options struct {
	Chain solana.ChainClient
	// Subscriber is optional. Notifications only trigger an early poll.
	Subscriber solana.SignatureSubscriber
	Config     Config
	Logger     *zap.Logger
}

// Tracker implements submission with bounded retry and confirmation polling.
type Tracker struct {
	chain  solana.ChainClient
	sub    solana.SignatureSubscriber
	cfg    Config
	logger *zap.Logger
}

// New creates a Tracker. Zero config fields take their defaults.
func New(opts Options) *Tracker {
	def := DefaultConfig()
	cfg := opts.Config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ConfirmationDeadline <= 0 {
		cfg.ConfirmationDeadline = def.ConfirmationDeadline
	}
	if cfg.SubmitMaxAttempts <= 0 {
		cfg.SubmitMaxAttempts = def.SubmitMaxAttempts
	}
	if cfg.SubmitBackoffBase <= 0 {
		cfg.SubmitBackoffBase = def.SubmitBackoffBase
	}
	if cfg.SubmitBackoffMax < cfg.SubmitBackoffBase {
		cfg.SubmitBackoffMax = max(def.SubmitBackoffMax, cfg.SubmitBackoffBase)
	}
	// every retry must wait longer than the one before
	cfg.SubmitBackoffMax = max(cfg.SubmitBackoffMax, MinBackoffMax(cfg.SubmitMaxAttempts, cfg.SubmitBackoffBase))
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{chain: opts.Chain, sub: opts.Subscriber, cfg: cfg, logger: logger}
}

// Backoff returns the delay before submit attempt+1: base doubled per
// attempt, capped at maxDelay.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		if d >= maxDelay/2 {
			return maxDelay
		}
		d *= 2
	}
	return min(d, maxDelay)
}

// MinBackoffMax returns the smallest cap under which every delay of a
// submission with the given attempt count is still strictly longer than the
// previous one.
func MinBackoffMax(attempts int, base time.Duration) time.Duration {
	d := base
	for i := 2; i < attempts; i++ {
		if d > math.MaxInt64/2 {
			return math.MaxInt64
		}
		d *= 2
	}
	return d
}

// SubmitAndConfirm submits signed and waits for a terminal state.
//
// The returned error is non-nil only for CONTEXT_EXPIRED, which means the
// blockhash expired before the transaction was accepted and the caller must
// rebuild. Every other outcome is reported in the TradeResult.
func (t *Tracker) SubmitAndConfirm(ctx context.Context, signed *domain.SignedTransaction) (domain.TradeResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.Failed(domain.NewError(domain.KindCanceled, "canceled before submission", err)), nil
	}

	deadline := time.Now().Add(t.cfg.ConfirmationDeadline)
	m := &machine{signature: signed.Signature, trace: traceFrom(ctx)}
	log := t.logger.With(zap.String("signature", signed.Signature))

	res, accepted, err := t.submit(ctx, signed, log)
	if !accepted {
		return res, err
	}

	m.to(StateSubmitted)
	return t.confirm(ctx, signed, m, deadline, log), nil
}

// submit sends signed until the node accepts it. When accepted is false the
// result and error are final.
func (t *Tracker) submit(ctx context.Context, signed *domain.SignedTransaction, log *zap.Logger) (domain.TradeResult, bool, error) {
	opts := solana.SendOpts{
		SkipPreflight:       t.cfg.SkipPreflight,
		PreflightCommitment: solana.CommitmentConfirmed,
	}
	trace := traceFrom(ctx)

	// delivered is set once a send may have reached the node.
	delivered := false
	var lastErr error

	for attempt := 1; attempt <= t.cfg.SubmitMaxAttempts; attempt++ {
		if attempt > 1 && t.blockhashExpired(ctx, signed) {
			return t.expiredContext(ctx, signed, delivered, log)
		}

		_, err := t.chain.SendTransaction(ctx, signed.Wire, opts)
		if err == nil {
			log.Debug("tracker.submitted", zap.Int("attempt", attempt))
			return domain.TradeResult{}, true, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// the interrupted request may have reached the node
			return domain.TimedOut(signed.Signature, domain.NewError(domain.KindCanceled, "canceled during submission", ctx.Err())), false, nil
		}

		var rpcErr *solana.RPCError
		if errors.As(err, &rpcErr) {
			if rpcErr.BlockhashNotFound() {
				return t.expiredContext(ctx, signed, delivered, log)
			}
			if !rpcErr.Transient() {
				log.Info("tracker.rejected", zap.Int("code", rpcErr.Code), zap.String("reason", rpcErr.Message))
				return domain.Failed(rejection(rpcErr)), false, nil
			}
		} else {
			// transport failures and unclassified errors leave delivery unknown
			delivered = true
		}

		if attempt == t.cfg.SubmitMaxAttempts {
			break
		}
		delay := Backoff(attempt, t.cfg.SubmitBackoffBase, t.cfg.SubmitBackoffMax)
		log.Warn("tracker.submit_retry", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		if trace.OnSubmitRetry != nil {
			trace.OnSubmitRetry(attempt, delay, err)
		}
		if !sleep(ctx, delay) {
			if delivered {
				return domain.TimedOut(signed.Signature, domain.NewError(domain.KindCanceled, "stopped during submit backoff", ctx.Err())), false, nil
			}
			return domain.Failed(domain.NewError(domain.KindCanceled, "stopped during submit backoff", ctx.Err())), false, nil
		}
	}

	// A delivered copy may still have landed.
	if delivered {
		if res, ok := t.landedResult(ctx, signed); ok {
			return res, false, nil
		}
	}
	log.Warn("tracker.submit_exhausted", zap.Int("attempts", t.cfg.SubmitMaxAttempts), zap.Error(lastErr))
	return domain.Failed(domain.Errorf(domain.KindTransientNetworkError,
		"submission failed after %d attempts: %w", t.cfg.SubmitMaxAttempts, lastErr)), false, nil
}

func rejection(e *solana.RPCError) *domain.Error {
	msg := e.Message
	if logs := e.Logs(); len(logs) > 0 {
		msg = fmt.Sprintf("%s (last log: %s)", msg, logs[len(logs)-1])
	}
	return domain.NewError(domain.KindRejected, msg, e)
}

// expiredContext reports whether an earlier delivered copy landed before
// giving up the blockhash.
func (t *Tracker) expiredContext(ctx context.Context, signed *domain.SignedTransaction, delivered bool, log *zap.Logger) (domain.TradeResult, bool, error) {
	if delivered {
		if res, ok := t.landedResult(ctx, signed); ok {
			return res, false, nil
		}
	}
	log.Info("tracker.context_expired", zap.Uint64("last_valid_block_height", signed.Context.LastValidBlockHeight))
	return domain.TradeResult{}, false, domain.NewError(domain.KindContextExpired, "blockhash expired before acceptance", nil)
}

func (t *Tracker) blockhashExpired(ctx context.Context, signed *domain.SignedTransaction) bool {
	height, err := t.chain.GetBlockHeight(ctx)
	if err != nil {
		return false
	}
	return height > signed.Context.LastValidBlockHeight
}

// landedResult checks once for an already landed signature.
func (t *Tracker) landedResult(ctx context.Context, signed *domain.SignedTransaction) (domain.TradeResult, bool) {
	statuses, err := t.chain.GetSignatureStatuses(ctx, true, signed.Signature)
	if err != nil || len(statuses) == 0 || !statuses[0].Landed() {
		return domain.TradeResult{}, false
	}
	return t.resolve(ctx, signed, statuses[0]), true
}

func (t *Tracker) resolve(ctx context.Context, signed *domain.SignedTransaction, st *solana.SignatureStatus) domain.TradeResult {
	if st.Err != nil {
		return domain.Failed(domain.Errorf(domain.KindRejected, "transaction failed on chain: %v", st.Err))
	}
	return domain.Confirmed(signed.Signature, t.observe(ctx, signed))
}

func (t *Tracker) confirm(ctx context.Context, signed *domain.SignedTransaction, m *machine, deadline time.Time, log *zap.Logger) domain.TradeResult {
	var wake <-chan solana.SignatureNotification
	if t.sub != nil {
		subCtx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()
		ch, err := t.sub.SubscribeSignature(subCtx, signed.Signature)
		if err != nil {
			log.Debug("tracker.subscribe_failed", zap.Error(err))
		} else {
			wake = ch
		}
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	expiredPolls := 0
	for {
		statuses, err := t.chain.GetSignatureStatuses(ctx, false, signed.Signature)
		switch {
		case err != nil:
			log.Debug("tracker.poll_failed", zap.Error(err))
		case len(statuses) > 0 && statuses[0].Landed():
			st := statuses[0]
			if st.Err != nil {
				m.to(StateRejected)
				log.Info("tracker.failed_on_chain", zap.Any("err", st.Err), zap.Uint64("slot", st.Slot))
				return t.resolve(ctx, signed, st)
			}
			m.to(StateConfirmed)
			log.Info("tracker.confirmed", zap.Uint64("slot", st.Slot))
			return t.resolve(ctx, signed, st)
		default:
			if m.state == StateSubmitted {
				m.to(StatePending)
			}
			// Once the blockhash is past its window and one more poll saw
			// nothing, the transaction cannot be included any more.
			if t.blockhashExpired(ctx, signed) {
				expiredPolls++
				if expiredPolls > 1 {
					m.to(StateExpired)
					log.Info("tracker.expired", zap.String("reason", "blockhash expired"))
					return domain.TimedOut(signed.Signature, domain.NewError(domain.KindTimedOut, "blockhash expired before confirmation", nil))
				}
			}
		}

		select {
		case <-ctx.Done():
			t.expire(m)
			log.Info("tracker.expired", zap.String("reason", "canceled"))
			return domain.TimedOut(signed.Signature, domain.NewError(domain.KindTimedOut, "stopped watching", ctx.Err()))
		case <-timer.C:
			t.expire(m)
			log.Info("tracker.expired", zap.Duration("deadline", t.cfg.ConfirmationDeadline))
			return domain.TimedOut(signed.Signature, nil)
		case n, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			log.Debug("tracker.notified", zap.Uint64("slot", n.Slot))
		case <-ticker.C:
		}
	}
}

func (t *Tracker) expire(m *machine) {
	if m.state == StateSubmitted {
		m.to(StatePending)
	}
	m.to(StateExpired)
}

// observe reads the realized output. Failures leave it unknown.
func (t *Tracker) observe(ctx context.Context, signed *domain.SignedTransaction) *uint64 {
	if signed.OutputMint == "" || signed.Payer == "" {
		return nil
	}
	tx, err := t.chain.GetTransaction(ctx, signed.Signature)
	if err != nil {
		t.logger.Debug("tracker.observe_failed", zap.String("signature", signed.Signature), zap.Error(err))
		return nil
	}
	return RealizedOutput(tx, signed.Payer, signed.OutputMint)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
