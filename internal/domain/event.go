package domain

import "time"

// Stage is a step of the trade lifecycle reported to subscribers.
type Stage string

const (
	StageInitiated     Stage = "INITIATED"
	StageQuoteReceived Stage = "QUOTE_RECEIVED"
	StageValidated     Stage = "VALIDATED"
	StageBuilt         Stage = "BUILT"
	StageSigned        Stage = "SIGNED"
	StageSubmitted     Stage = "SUBMITTED"
	StagePending       Stage = "PENDING"
	StageRetry         Stage = "RETRY"
	StageConfirmed     Stage = "CONFIRMED"
	StageFailed        Stage = "FAILED"
	StageTimedOut      Stage = "TIMED_OUT"
)

// String returns the string representation of Stage.
func (s Stage) String() string {
	return string(s)
}

// IsTerminal reports whether the stage ends a trade.
func (s Stage) IsTerminal() bool {
	return s == StageConfirmed || s == StageFailed || s == StageTimedOut
}

// TradeEvent is a stage transition of a single trade.
type TradeEvent struct {
	EventID     string // deterministic, see idhash.ComputeEventID
	TradeID     string
	Seq         int // per-trade sequence number starting at 1
	Stage       Stage
	Attempt     int // full cycle attempt, starting at 1
	Timestamp   time.Time
	Signature   string
	FailureKind FailureKind
	Detail      string

	// Set only on terminal events.
	Request *TradeRequest
	Result  *TradeResult
}
