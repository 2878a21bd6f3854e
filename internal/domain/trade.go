package domain

import (
	"fmt"
	"time"
)

// MaxSlippageBps is the upper bound of a slippage tolerance (100%).
const MaxSlippageBps = 10000

// TradeRequest is a caller's swap intent. It is never mutated after creation.
type TradeRequest struct {
	InputMint   string // asset sold (base58 mint)
	OutputMint  string // asset bought (base58 mint)
	InputAmount uint64 // smallest units, > 0
	SlippageBps uint16 // 0-10000
	RouteHint   string // optional, interpreted by the quote source
}

// Validate enforces the caller contract. It runs before any network activity.
func (r TradeRequest) Validate() error {
	if err := ValidateAssetID(r.InputMint); err != nil {
		return NewError(KindInvalidRequest, "input mint", err)
	}
	if err := ValidateAssetID(r.OutputMint); err != nil {
		return NewError(KindInvalidRequest, "output mint", err)
	}
	if r.InputMint == r.OutputMint {
		return NewError(KindInvalidRequest, "input and output mint are identical", nil)
	}
	if r.InputAmount == 0 {
		return NewError(KindInvalidRequest, "input amount must be positive", nil)
	}
	return nil
}

// Quote is a priced route returned by a quote source. Immutable once returned.
type Quote struct {
	InputMint      string
	OutputMint     string
	InputAmount    uint64
	ExpectedOutput uint64    // smallest units of the output mint
	PriceImpactPct float64   // aggregator estimate, 0.01 = 1%
	Route          Route     // opaque to the core, consumed by the builder
	Timestamp      time.Time // when the quote was produced
}

// Valid reports whether the quote satisfies its invariant.
func (q *Quote) Valid() bool {
	return q != nil && q.ExpectedOutput > 0
}

// Age returns how old the quote is relative to now.
func (q *Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// ValidatedTrade is a quote accepted under a slippage tolerance.
// It exists only between validation and transaction construction.
type ValidatedTrade struct {
	Quote         *Quote
	SlippageBps   uint16
	MinimumOutput uint64 // floor(expected * (10000 - bps) / 10000)
}

// Outcome is the terminal state of a trade.
type Outcome string

const (
	OutcomeConfirmed Outcome = "CONFIRMED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeTimedOut  Outcome = "TIMED_OUT"
)

// String returns the string representation of Outcome.
func (o Outcome) String() string {
	return string(o)
}

// IsValid checks if the outcome is a valid value.
func (o Outcome) IsValid() bool {
	return o == OutcomeConfirmed || o == OutcomeFailed || o == OutcomeTimedOut
}

// TradeResult is the terminal record of one ExecuteTrade call.
//
// TimedOut does not assert that the trade did not execute: the signed
// transaction may still land. Callers reconcile with an independent chain
// query using Signature before treating funds as safe.
type TradeResult struct {
	TradeID        string
	Outcome        Outcome
	Signature      string  // chain signature; for TimedOut the last submitted one
	OutputObserved *uint64 // realized output when obtainable (advisory)
	Failure        *Error  // set for Failed and TimedOut
	Attempts       int     // full quote-to-submit cycles used
	ExpectedOutput uint64  // from the final attempt's quote
	MinimumOutput  uint64  // on-chain floor of the final attempt
	PriceImpactPct float64
	CompletedAt    time.Time
}

// Confirmed builds a confirmed result.
func Confirmed(signature string, observed *uint64) TradeResult {
	return TradeResult{Outcome: OutcomeConfirmed, Signature: signature, OutputObserved: observed}
}

// Failed builds a failed result from a classified error.
func Failed(err *Error) TradeResult {
	return TradeResult{Outcome: OutcomeFailed, Failure: err}
}

// TimedOut builds a timed-out result for the last submitted signature.
func TimedOut(signature string, reason *Error) TradeResult {
	if reason == nil {
		reason = NewError(KindTimedOut, "confirmation deadline exceeded", nil)
	}
	return TradeResult{Outcome: OutcomeTimedOut, Signature: signature, Failure: reason}
}

// FailureKind returns the kind of the failure, or empty for confirmed trades.
func (r TradeResult) FailureKind() FailureKind {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Kind
}

func (r TradeResult) String() string {
	switch r.Outcome {
	case OutcomeConfirmed:
		if r.OutputObserved != nil {
			return fmt.Sprintf("Confirmed(%s, %d)", r.Signature, *r.OutputObserved)
		}
		return fmt.Sprintf("Confirmed(%s)", r.Signature)
	case OutcomeFailed:
		return fmt.Sprintf("Failed(%v)", r.Failure)
	default:
		return fmt.Sprintf("TimedOut(%s)", r.Signature)
	}
}

// TradeRecord is the journaled form of a finished trade.
// Corresponds to the trades table in PostgreSQL.
type TradeRecord struct {
	TradeID        string
	InputMint      string
	OutputMint     string
	InputAmount    uint64
	SlippageBps    uint16
	RouteHint      string
	Outcome        Outcome
	Signature      string  // empty when nothing was submitted
	ExpectedOutput uint64  // final attempt
	MinimumOutput  uint64  // final attempt
	OutputObserved *uint64 // nullable
	PriceImpactPct float64
	FailureKind    string // empty for confirmed trades
	FailureReason  string
	Attempts       int
	StartedAt      int64 // unix ms
	CompletedAt    int64 // unix ms
}

// NewTradeRecord combines a request and its terminal result.
func NewTradeRecord(req TradeRequest, res TradeResult, startedAt time.Time) *TradeRecord {
	rec := &TradeRecord{
		TradeID:        res.TradeID,
		InputMint:      req.InputMint,
		OutputMint:     req.OutputMint,
		InputAmount:    req.InputAmount,
		SlippageBps:    req.SlippageBps,
		RouteHint:      req.RouteHint,
		Outcome:        res.Outcome,
		Signature:      res.Signature,
		ExpectedOutput: res.ExpectedOutput,
		MinimumOutput:  res.MinimumOutput,
		OutputObserved: res.OutputObserved,
		PriceImpactPct: res.PriceImpactPct,
		Attempts:       res.Attempts,
		StartedAt:      startedAt.UnixMilli(),
		CompletedAt:    res.CompletedAt.UnixMilli(),
	}
	if res.Failure != nil {
		rec.FailureKind = res.Failure.Kind.String()
		rec.FailureReason = res.Failure.Error()
	}
	return rec
}

// ChainStatus is what an independent chain query found for a signature.
type ChainStatus string

const (
	ChainStatusConfirmed ChainStatus = "CONFIRMED"
	ChainStatusFailed    ChainStatus = "FAILED" // landed with an execution error
	ChainStatusPending   ChainStatus = "PENDING"
	ChainStatusNotFound  ChainStatus = "NOT_FOUND"
)

// Reconciliation is the record of re-checking a timed-out trade on chain.
// It never changes the TradeResult already returned to the caller.
type Reconciliation struct {
	TradeID   string
	Signature string
	CheckedAt int64 // unix ms
	Status    ChainStatus
	Slot      uint64
	ChainErr  string // execution error reported by the chain, if any
}
