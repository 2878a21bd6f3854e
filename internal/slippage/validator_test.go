package slippage

import (
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-engine/internal/domain"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newQuote(expected uint64, ts time.Time) *domain.Quote {
	return &domain.Quote{
		InputMint:      domain.MintWSOL,
		OutputMint:     domain.MintUSDC,
		InputAmount:    1_000_000_000,
		ExpectedOutput: expected,
		Timestamp:      ts,
	}
}

func TestMinimumOutput_Formula(t *testing.T) {
	expected := []uint64{1, 7, 999, 10_000, 95_000_000, 123_456_789_012, math.MaxUint64}
	bpsValues := []uint16{0, 1, 50, 100, 300, 5000, 9999, 10000}

	for _, e := range expected {
		for _, bps := range bpsValues {
			want := new(big.Int).Mul(new(big.Int).SetUint64(e), big.NewInt(int64(10000-int(bps))))
			want.Div(want, big.NewInt(10000))

			got := MinimumOutput(e, bps)
			assert.Equal(t, want.Uint64(), got, "E=%d bps=%d", e, bps)
			assert.LessOrEqual(t, got, e)
		}
	}
}

func TestMinimumOutput_Bounds(t *testing.T) {
	assert.Equal(t, uint64(95_000_000), MinimumOutput(95_000_000, 0), "zero tolerance demands exact output")
	assert.Equal(t, uint64(0), MinimumOutput(95_000_000, 10000), "full tolerance accepts anything")
}

func TestValidator_OnePercentOfNinetyFive(t *testing.T) {
	v := NewValidator(5*time.Second, fixedClock(baseTime))

	// 95.0 USDC expected, 100 bps tolerance
	vt, err := v.Validate(newQuote(95_000_000, baseTime.Add(-time.Second)), 100)
	require.NoError(t, err)

	assert.Equal(t, uint64(94_050_000), vt.MinimumOutput) // 94.05 USDC
	assert.Equal(t, uint16(100), vt.SlippageBps)
	assert.Equal(t, uint64(95_000_000), vt.Quote.ExpectedOutput)
}

func TestValidator_ToleranceOutOfRange(t *testing.T) {
	v := NewValidator(5*time.Second, fixedClock(baseTime))

	for _, bps := range []uint16{10001, 20000, math.MaxUint16} {
		_, err := v.Validate(newQuote(100, baseTime), bps)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrSlippageToleranceInvalid), "bps=%d", bps)
	}

	_, err := v.Validate(newQuote(100, baseTime), 10000)
	assert.NoError(t, err)
}

func TestValidator_Expired(t *testing.T) {
	v := NewValidator(5*time.Second, fixedClock(baseTime))

	tests := []struct {
		name    string
		age     time.Duration
		expired bool
	}{
		{"fresh", 0, false},
		{"at limit", 5 * time.Second, false},
		{"just over", 5*time.Second + time.Millisecond, true},
		{"ten seconds", 10 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(newQuote(100, baseTime.Add(-tt.age)), 100)
			if tt.expired {
				assert.True(t, errors.Is(err, domain.ErrQuoteExpired))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidator_InvalidQuote(t *testing.T) {
	v := NewValidator(5*time.Second, fixedClock(baseTime))

	_, err := v.Validate(newQuote(0, baseTime), 100)
	assert.True(t, errors.Is(err, domain.ErrQuoteUnavailable))

	_, err = v.Validate(nil, 100)
	assert.True(t, errors.Is(err, domain.ErrQuoteUnavailable))
}

func TestValidator_Deterministic(t *testing.T) {
	v := NewValidator(5*time.Second, fixedClock(baseTime))
	q := newQuote(123_456_789, baseTime.Add(-2*time.Second))

	first, err := v.Validate(q, 250)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := v.Validate(q, 250)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestNewValidator_Defaults(t *testing.T) {
	v := NewValidator(0, nil)
	assert.Equal(t, DefaultMaxQuoteAge, v.MaxQuoteAge())
	assert.NotNil(t, v.now)
}
