// Package orchestrator executes trades end to end.
// It sequences: quote → validate → build → sign → submit/confirm,
// restarting the whole cycle only when the world moved under it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/idhash"
	"solana-swap-engine/internal/observability"
	"solana-swap-engine/internal/quote"
	"solana-swap-engine/internal/slippage"
	chain "solana-swap-engine/internal/solana"
	"solana-swap-engine/internal/tracker"
)

// Validator accepts a quote under a slippage tolerance.
type Validator interface {
	Validate(q *domain.Quote, toleranceBps uint16) (*domain.ValidatedTrade, error)
}

// Builder encodes a validated trade into an unsigned transaction.
type Builder interface {
	Build(vt *domain.ValidatedTrade, payer solana.PublicKey, cc domain.ChainContext) (*domain.UnsignedTransaction, error)
}

// Signer signs transactions for a single payer identity.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(ctx context.Context, utx *domain.UnsignedTransaction) (*domain.SignedTransaction, error)
}

// Submitter submits a signed transaction and watches it to a terminal state.
// A non-nil error is always CONTEXT_EXPIRED.
type Submitter interface {
	SubmitAndConfirm(ctx context.Context, signed *domain.SignedTransaction) (domain.TradeResult, error)
}

// ContextSource provides fresh blockhash contexts.
type ContextSource interface {
	GetLatestBlockhash(ctx context.Context) (*chain.LatestBlockhash, error)
}

// Orchestrator coordinates trade execution.
type Orchestrator struct {
	quotes    quote.Source
	validator Validator
	builder   Builder
	signer    Signer
	submitter Submitter
	chain     ContextSource

	cfg      Config
	notifier *Notifier
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// Options for creating Orchestrator.
type Options struct {
	// Required components
	Quotes    quote.Source
	Builder   Builder
	Signer    Signer
	Submitter Submitter
	Chain     ContextSource

	// Validator defaults to a slippage.Validator with Config.MaxQuoteAge.
	Validator Validator

	Config   Config
	Notifier *Notifier              // optional
	Metrics  *observability.Metrics // optional
	Logger   *zap.Logger

	// Test hooks
	Now   func() time.Time
	NewID func() string
}

// New creates a new Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Quotes == nil:
		return nil, errors.New("orchestrator: quote source is required")
	case opts.Builder == nil:
		return nil, errors.New("orchestrator: builder is required")
	case opts.Signer == nil:
		return nil, errors.New("orchestrator: signer is required")
	case opts.Submitter == nil:
		return nil, errors.New("orchestrator: submitter is required")
	case opts.Chain == nil:
		return nil, errors.New("orchestrator: chain context source is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	o := &Orchestrator{
		quotes:    opts.Quotes,
		validator: opts.Validator,
		builder:   opts.Builder,
		signer:    opts.Signer,
		submitter: opts.Submitter,
		chain:     opts.Chain,
		cfg:       opts.Config,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.validator == nil {
		o.validator = slippage.NewValidator(o.cfg.MaxQuoteAge, o.now)
	}
	return o, nil
}

// Payer returns the identity trades are paid and signed by.
func (o *Orchestrator) Payer() solana.PublicKey {
	return o.signer.PublicKey()
}

// NewTradeID returns a fresh trade id.
func (o *Orchestrator) NewTradeID() string {
	return o.newID()
}

// ExecuteTrade runs req to a terminal result under a fresh trade id.
//
// The error is non-nil only when req violates the caller contract, in which
// case nothing touched the network. Every other failure is a TradeResult.
func (o *Orchestrator) ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	return o.ExecuteTradeWithID(ctx, o.newID(), req)
}

// ExecuteTradeWithID is ExecuteTrade with a caller assigned trade id.
func (o *Orchestrator) ExecuteTradeWithID(ctx context.Context, tradeID string, req domain.TradeRequest) (domain.TradeResult, error) {
	if err := req.Validate(); err != nil {
		return domain.TradeResult{}, err
	}
	r := &run{
		o:       o,
		tradeID: tradeID,
		req:     req,
		start:   o.now(),
		log:     o.logger.With(zap.String("trade_id", tradeID)),
	}
	return r.execute(ctx), nil
}

// run is the state of one ExecuteTrade call.
type run struct {
	o       *Orchestrator
	tradeID string
	req     domain.TradeRequest
	start   time.Time
	log     *zap.Logger

	seq     int
	attempt int
	last    *domain.ValidatedTrade // final attempt's trade, for the result
}

func (r *run) execute(ctx context.Context) domain.TradeResult {
	r.log.Info("trade.initiated",
		zap.String("input_mint", r.req.InputMint),
		zap.String("output_mint", r.req.OutputMint),
		zap.Uint64("input_amount", r.req.InputAmount),
		zap.Uint16("slippage_bps", r.req.SlippageBps),
		zap.String("route_hint", r.req.RouteHint),
	)
	r.attempt = 1
	r.emit(domain.TradeEvent{Stage: domain.StageInitiated, Request: &r.req})

	maxAttempts := r.o.cfg.MaxCycleRetries + 1
	for {
		res, err := r.cycle(ctx)
		if err == nil {
			return r.finish(res)
		}

		derr := classify(ctx, err)
		if derr.Kind.Retriable() && r.attempt < maxAttempts {
			r.log.Info("trade.cycle_retry",
				zap.Int("attempt", r.attempt),
				zap.String("kind", derr.Kind.String()),
				zap.Error(derr),
			)
			r.emit(domain.TradeEvent{Stage: domain.StageRetry, FailureKind: derr.Kind, Detail: derr.Error()})
			if r.o.metrics != nil {
				r.o.metrics.CycleRetries.Inc()
			}
			r.attempt++
			continue
		}
		return r.finish(domain.Failed(derr))
	}
}

// cycle runs one quote-to-confirmation pass. A returned error means no
// terminal result was produced.
func (r *run) cycle(ctx context.Context) (domain.TradeResult, error) {
	o := r.o
	if err := ctx.Err(); err != nil {
		return domain.TradeResult{}, err
	}
	// an out of range tolerance must not reach the quote source
	if err := slippage.CheckTolerance(r.req.SlippageBps); err != nil {
		return domain.TradeResult{}, err
	}

	q, err := o.quotes.Quote(ctx, quote.Params{
		InputMint:   r.req.InputMint,
		OutputMint:  r.req.OutputMint,
		Amount:      r.req.InputAmount,
		SlippageBps: r.req.SlippageBps,
		RouteHint:   r.req.RouteHint,
	})
	if err != nil {
		return domain.TradeResult{}, tag(domain.KindQuoteUnavailable, err)
	}
	r.emit(domain.TradeEvent{
		Stage:  domain.StageQuoteReceived,
		Detail: fmt.Sprintf("expected %d via %s", q.ExpectedOutput, q.Route.Label),
	})
	r.log.Info("trade.quote_received",
		zap.Int("attempt", r.attempt),
		zap.Uint64("expected_output", q.ExpectedOutput),
		zap.Float64("price_impact_pct", q.PriceImpactPct),
		zap.String("route", q.Route.Label),
	)

	vt, err := o.validator.Validate(q, r.req.SlippageBps)
	if err != nil {
		return domain.TradeResult{}, err
	}
	r.last = vt
	r.emit(domain.TradeEvent{Stage: domain.StageValidated, Detail: fmt.Sprintf("minimum output %d", vt.MinimumOutput)})

	bh, err := o.chain.GetLatestBlockhash(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return domain.TradeResult{}, ctx.Err()
		}
		return domain.TradeResult{}, domain.NewError(domain.KindTransientNetworkError, "fetch blockhash", err)
	}
	cc := domain.ChainContext{
		Blockhash:            bh.Blockhash,
		LastValidBlockHeight: bh.LastValidBlockHeight,
		FetchedAt:            o.now(),
	}

	utx, err := o.builder.Build(vt, o.signer.PublicKey(), cc)
	if err != nil {
		return domain.TradeResult{}, tag(domain.KindRouteEncodingError, err)
	}
	r.emit(domain.TradeEvent{Stage: domain.StageBuilt})

	signed, err := o.signer.Sign(ctx, utx)
	if err != nil {
		return domain.TradeResult{}, tag(domain.KindSigningFailed, err)
	}
	r.emit(domain.TradeEvent{Stage: domain.StageSigned, Signature: signed.Signature})

	var submittedAt time.Time
	trace := &tracker.Trace{
		OnTransition: func(_, to tracker.State, sig string) {
			switch to {
			case tracker.StateSubmitted:
				submittedAt = o.now()
				r.emit(domain.TradeEvent{Stage: domain.StageSubmitted, Signature: sig})
			case tracker.StatePending:
				r.emit(domain.TradeEvent{Stage: domain.StagePending, Signature: sig})
			case tracker.StateConfirmed:
				if o.metrics != nil {
					o.metrics.ConfirmationLatency.Observe(o.now().Sub(submittedAt).Seconds())
				}
			}
		},
		OnSubmitRetry: func(int, time.Duration, error) {
			if o.metrics != nil {
				o.metrics.SubmitRetries.Inc()
			}
		},
	}

	res, err := o.submitter.SubmitAndConfirm(tracker.WithTrace(ctx, trace), signed)
	if err != nil {
		return domain.TradeResult{}, tag(domain.KindContextExpired, err)
	}
	return res, nil
}

// tag classifies err with the kind of the stage that produced it, unless a
// component already classified it.
func tag(kind domain.FailureKind, err error) error {
	if domain.KindOf(err) != "" {
		return err
	}
	return domain.NewError(kind, "unclassified failure", err)
}

// classify maps cycle errors onto the failure taxonomy. Cycle errors all
// precede acceptance by the chain, so cancellation is reported as CANCELED.
func classify(ctx context.Context, err error) *domain.Error {
	if ctx.Err() != nil {
		return domain.NewError(domain.KindCanceled, "canceled before submission", ctx.Err())
	}
	var derr *domain.Error
	if errors.As(err, &derr) {
		return derr
	}
	// validator errors are always classified, so this is a plain cycle error
	return domain.NewError(domain.KindInvalidRequest, "unclassified failure", err)
}

func (r *run) finish(res domain.TradeResult) domain.TradeResult {
	o := r.o
	res.TradeID = r.tradeID
	res.Attempts = r.attempt
	res.CompletedAt = o.now()
	if r.last != nil {
		res.ExpectedOutput = r.last.Quote.ExpectedOutput
		res.MinimumOutput = r.last.MinimumOutput
		res.PriceImpactPct = r.last.Quote.PriceImpactPct
	}

	ev := domain.TradeEvent{Signature: res.Signature, Request: &r.req, Result: &res}
	switch res.Outcome {
	case domain.OutcomeConfirmed:
		ev.Stage = domain.StageConfirmed
	case domain.OutcomeTimedOut:
		ev.Stage = domain.StageTimedOut
	default:
		ev.Stage = domain.StageFailed
	}
	if res.Failure != nil {
		ev.FailureKind = res.Failure.Kind
		ev.Detail = res.Failure.Error()
	}
	r.emit(ev)

	fields := []zap.Field{
		zap.String("outcome", res.Outcome.String()),
		zap.String("signature", res.Signature),
		zap.Int("attempts", res.Attempts),
		zap.Duration("elapsed", res.CompletedAt.Sub(r.start)),
	}
	if res.OutputObserved != nil {
		fields = append(fields, zap.Uint64("output_observed", *res.OutputObserved))
	}
	if res.Failure != nil {
		fields = append(fields, zap.String("failure_kind", res.Failure.Kind.String()), zap.Error(res.Failure))
	}
	if res.Outcome == domain.OutcomeConfirmed {
		r.log.Info("trade.completed", fields...)
	} else {
		r.log.Warn("trade.completed", fields...)
	}

	if o.metrics != nil {
		o.metrics.RecordResult(res, res.CompletedAt.Sub(r.start))
	}
	return res
}

func (r *run) emit(ev domain.TradeEvent) {
	r.seq++
	ev.TradeID = r.tradeID
	ev.Seq = r.seq
	ev.Attempt = r.attempt
	ev.Timestamp = r.o.now()
	ev.EventID = idhash.ComputeEventID(r.tradeID, ev.Seq, ev.Stage, ev.Attempt)

	if r.o.metrics != nil {
		r.o.metrics.RecordStage(ev.Stage, ev.Timestamp.Sub(r.start))
	}
	if r.o.notifier != nil {
		r.o.notifier.Publish(ev)
	}
}
