package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-engine/internal/domain"
)

func TestMetrics_RecordResult(t *testing.T) {
	m := NewMetrics("", nil)

	out := uint64(10)
	m.RecordResult(domain.Confirmed("sig", &out), time.Second)
	m.RecordResult(domain.Failed(domain.NewError(domain.KindRejected, "insufficient funds", nil)), time.Second)
	m.RecordResult(domain.TimedOut("sig2", nil), time.Minute)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues("CONFIRMED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues("FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailuresTotal.WithLabelValues("REJECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailuresTotal.WithLabelValues("TIMED_OUT")))
}

func TestMetrics_RecordRPCAndDB(t *testing.T) {
	m := NewMetrics("test", nil)
	m.RecordRPC("sendTransaction", 20*time.Millisecond, nil)
	m.RecordRPC("sendTransaction", 20*time.Millisecond, errors.New("boom"))
	m.RecordDBQuery("postgres", "insert_trade", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCCallErrors.WithLabelValues("sendTransaction")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DBQueryErrors.WithLabelValues("postgres", "insert_trade")))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("", reg)
	m.CycleRetries.Inc()

	// registering twice on the same registry would panic
	assert.Panics(t, func() { NewMetrics("", reg) })
	assert.NotPanics(t, func() { NewMetrics("", nil); NewMetrics("", nil) })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "swap_engine_trade_cycle_retries_total 1"))
}
