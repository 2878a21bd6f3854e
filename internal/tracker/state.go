package tracker

import (
	"context"
	"time"
)

// State is a step of the submission state machine.
type State string

const (
	StateSubmitted State = "SUBMITTED"
	StatePending   State = "PENDING"
	StateConfirmed State = "CONFIRMED"
	StateRejected  State = "REJECTED"
	StateExpired   State = "EXPIRED"
)

var transitions = map[State][]State{
	StateSubmitted: {StatePending, StateConfirmed, StateRejected},
	StatePending:   {StateConfirmed, StateExpired, StateRejected},
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateConfirmed || s == StateRejected || s == StateExpired
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Trace observes one SubmitAndConfirm call. Any field may be nil.
type Trace struct {
	// OnTransition is called on every state change, including entry into Submitted (from empty).
	OnTransition func(from, to State, signature string)
	// OnSubmitRetry is called before sleeping ahead of submit attempt+1.
	OnSubmitRetry func(attempt int, delay time.Duration, err error)
}

type traceKey struct{}

// WithTrace returns a context whose SubmitAndConfirm calls report to t.
func WithTrace(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

func traceFrom(ctx context.Context) *Trace {
	if t, ok := ctx.Value(traceKey{}).(*Trace); ok && t != nil {
		return t
	}
	return &Trace{}
}

// machine enforces the transition table for one submission.
type machine struct {
	state     State
	signature string
	trace     *Trace
}

func (m *machine) to(next State) {
	if m.state != "" && !CanTransition(m.state, next) {
		panic("tracker: illegal transition " + string(m.state) + " -> " + string(next))
	}
	prev := m.state
	m.state = next
	if m.trace.OnTransition != nil {
		m.trace.OnTransition(prev, next, m.signature)
	}
}
