// Package slippage accepts or rejects quotes under a caller's slippage tolerance
// and computes the minimum output the swap instruction must enforce.
package slippage

import (
	"math/bits"
	"time"

	"solana-swap-engine/internal/domain"
)

// DefaultMaxQuoteAge is the oldest quote accepted when no age is configured.
const DefaultMaxQuoteAge = 5 * time.Second

// Validator checks quotes against tolerance and freshness.
// It performs no I/O; time comes from the injected clock.
type Validator struct {
	maxQuoteAge time.Duration
	now         func() time.Time
}

// NewValidator creates a validator. A nil clock uses time.Now.
func NewValidator(maxQuoteAge time.Duration, now func() time.Time) *Validator {
	if maxQuoteAge <= 0 {
		maxQuoteAge = DefaultMaxQuoteAge
	}
	if now == nil {
		now = time.Now
	}
	return &Validator{maxQuoteAge: maxQuoteAge, now: now}
}

// MaxQuoteAge returns the configured freshness bound.
func (v *Validator) MaxQuoteAge() time.Duration {
	return v.maxQuoteAge
}

// Validate accepts quote under toleranceBps.
//
// Errors:
//   - SLIPPAGE_TOLERANCE_INVALID if toleranceBps > 10000
//   - QUOTE_UNAVAILABLE if the quote has no positive expected output
//   - QUOTE_EXPIRED if the quote is older than the maximum age
func (v *Validator) Validate(quote *domain.Quote, toleranceBps uint16) (*domain.ValidatedTrade, error) {
	if err := CheckTolerance(toleranceBps); err != nil {
		return nil, err
	}
	if !quote.Valid() {
		return nil, domain.NewError(domain.KindQuoteUnavailable, "quote has no positive expected output", nil)
	}
	if age := quote.Age(v.now()); age > v.maxQuoteAge {
		return nil, domain.Errorf(domain.KindQuoteExpired,
			"quote is %s old, max %s", age.Truncate(time.Millisecond), v.maxQuoteAge)
	}

	return &domain.ValidatedTrade{
		Quote:         quote,
		SlippageBps:   toleranceBps,
		MinimumOutput: MinimumOutput(quote.ExpectedOutput, toleranceBps),
	}, nil
}

// CheckTolerance rejects tolerances above 10000 bps.
func CheckTolerance(toleranceBps uint16) error {
	if toleranceBps > domain.MaxSlippageBps {
		return domain.Errorf(domain.KindSlippageToleranceInvalid,
			"tolerance %d bps outside [0, %d]", toleranceBps, domain.MaxSlippageBps)
	}
	return nil
}

// MinimumOutput returns floor(expected * (10000 - bps) / 10000).
// The product is computed in 128 bits so it cannot overflow.
func MinimumOutput(expected uint64, bps uint16) uint64 {
	if bps >= domain.MaxSlippageBps {
		return 0
	}
	hi, lo := bits.Mul64(expected, uint64(domain.MaxSlippageBps-bps))
	q, _ := bits.Div64(hi, lo, domain.MaxSlippageBps)
	return q
}
