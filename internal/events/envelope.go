package events

import (
	"time"

	"solana-swap-engine/internal/domain"
)

// Envelope is the wire form of a trade event.
type Envelope struct {
	EventID     string    `json:"event_id"`
	TradeID     string    `json:"trade_id"`
	Seq         int       `json:"seq"`
	Stage       string    `json:"stage"`
	Attempt     int       `json:"attempt"`
	Timestamp   time.Time `json:"timestamp"`
	Signature   string    `json:"signature,omitempty"`
	FailureKind string    `json:"failure_kind,omitempty"`
	Detail      string    `json:"detail,omitempty"`

	Request *RequestBody `json:"request,omitempty"`
	Result  *ResultBody  `json:"result,omitempty"`
}

// RequestBody is the wire form of a trade request.
type RequestBody struct {
	InputMint   string `json:"input_mint"`
	OutputMint  string `json:"output_mint"`
	InputAmount uint64 `json:"input_amount,string"`
	SlippageBps uint16 `json:"slippage_bps"`
	RouteHint   string `json:"route_hint,omitempty"`
}

// ResultBody is the wire form of a trade result.
type ResultBody struct {
	Outcome        string  `json:"outcome"`
	Signature      string  `json:"signature,omitempty"`
	OutputObserved *uint64 `json:"output_observed,string,omitempty"`
	ExpectedOutput uint64  `json:"expected_output,string"`
	MinimumOutput  uint64  `json:"minimum_output,string"`
	Attempts       int     `json:"attempts"`
}

// NewEnvelope converts ev. Amounts are strings so JSON consumers keep u64 precision.
func NewEnvelope(ev domain.TradeEvent) Envelope {
	env := Envelope{
		EventID:     ev.EventID,
		TradeID:     ev.TradeID,
		Seq:         ev.Seq,
		Stage:       ev.Stage.String(),
		Attempt:     ev.Attempt,
		Timestamp:   ev.Timestamp.UTC(),
		Signature:   ev.Signature,
		FailureKind: ev.FailureKind.String(),
		Detail:      ev.Detail,
	}
	if r := ev.Request; r != nil {
		env.Request = &RequestBody{
			InputMint:   r.InputMint,
			OutputMint:  r.OutputMint,
			InputAmount: r.InputAmount,
			SlippageBps: r.SlippageBps,
			RouteHint:   r.RouteHint,
		}
	}
	if res := ev.Result; res != nil {
		env.Result = &ResultBody{
			Outcome:        res.Outcome.String(),
			Signature:      res.Signature,
			OutputObserved: res.OutputObserved,
			ExpectedOutput: res.ExpectedOutput,
			MinimumOutput:  res.MinimumOutput,
			Attempts:       res.Attempts,
		}
	}
	return env
}
