package quote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/solana"
	"solana-swap-engine/internal/solana/stub"
)

type poolFixture struct {
	id, baseVault, quoteVault string
}

func newPoolFixture() poolFixture {
	return poolFixture{
		id:         sol.NewWallet().PublicKey().String(),
		baseVault:  sol.NewWallet().PublicKey().String(),
		quoteVault: sol.NewWallet().PublicKey().String(),
	}
}

func newRaydiumServer(t *testing.T, f poolFixture, programID string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pools/key/ids" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("ids") != f.id {
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": []interface{}{nil}})
			return
		}
		key := func() string { return sol.NewWallet().PublicKey().String() }
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "req",
			"success": true,
			"data": []interface{}{map[string]interface{}{
				"programId":        programID,
				"id":               f.id,
				"mintA":            map[string]interface{}{"address": domain.MintWSOL, "decimals": 9},
				"mintB":            map[string]interface{}{"address": domain.MintUSDC, "decimals": 6},
				"vault":            map[string]string{"A": f.baseVault, "B": f.quoteVault},
				"authority":        "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1",
				"openOrders":       key(),
				"targetOrders":     key(),
				"marketProgramId":  "srmqPvymJeFKQ4zGQed1GFppgkRHL9kaELCbyksJtPX",
				"marketId":         key(),
				"marketAuthority":  key(),
				"marketBaseVault":  key(),
				"marketQuoteVault": key(),
				"marketBids":       key(),
				"marketAsks":       key(),
				"marketEventQueue": key(),
			}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestRaydium(t *testing.T, baseURL string, chain *stub.Chain) *RaydiumSource {
	t.Helper()
	src, err := NewRaydiumSource(RaydiumOptions{
		BaseURL: baseURL,
		Chain:   chain,
		Now:     func() time.Time { return quotedAt },
	})
	require.NoError(t, err)
	return src
}

func TestConstantProductOut(t *testing.T) {
	// 1 SOL into a 1000 SOL / 150000 USDC pool with 25 bps fee.
	out, impact := ConstantProductOut(1_000_000_000, 1_000_000_000_000, 150_000_000_000, 25)

	// in after fee = 997500000; out = 997500000*150e9 / (1e12+997500000)
	assert.Equal(t, uint64(149_475_897), out)
	assert.InDelta(t, 0.000996506, impact, 1e-8)

	zero, _ := ConstantProductOut(1, 0, 100, 25)
	assert.Zero(t, zero)
}

func TestRaydiumSource_Quote(t *testing.T) {
	f := newPoolFixture()
	chain := stub.NewChain(1000)
	chain.TokenBalances[f.baseVault] = &solana.TokenAmount{Amount: "1000000000000", Decimals: 9}
	chain.TokenBalances[f.quoteVault] = &solana.TokenAmount{Amount: "150000000000", Decimals: 6}

	server := newRaydiumServer(t, f, RaydiumAMMV4ProgramID)
	src := newTestRaydium(t, server.URL, chain)

	q, err := src.Quote(context.Background(), Params{
		InputMint:  domain.MintWSOL,
		OutputMint: domain.MintUSDC,
		Amount:     1_000_000_000,
		RouteHint:  RaydiumHintPrefix + f.id,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(149_475_897), q.ExpectedOutput)
	assert.Equal(t, quotedAt, q.Timestamp)
	assert.Equal(t, domain.RouteKindRaydiumAMM, q.Route.Kind)

	pool, ok := q.Route.Payload.(*domain.RaydiumPool)
	require.True(t, ok)
	assert.Equal(t, f.id, pool.AmmID)
	assert.Equal(t, domain.MintWSOL, pool.InputMint)
	assert.Equal(t, domain.MintUSDC, pool.OutputMint)
	assert.Equal(t, f.baseVault, pool.BaseVault)
}

func TestRaydiumSource_ReverseDirection(t *testing.T) {
	f := newPoolFixture()
	chain := stub.NewChain(1000)
	chain.TokenBalances[f.baseVault] = &solana.TokenAmount{Amount: "1000000000000", Decimals: 9}
	chain.TokenBalances[f.quoteVault] = &solana.TokenAmount{Amount: "150000000000", Decimals: 6}

	server := newRaydiumServer(t, f, RaydiumAMMV4ProgramID)
	src := newTestRaydium(t, server.URL, chain)

	q, err := src.Quote(context.Background(), Params{
		InputMint:  domain.MintUSDC,
		OutputMint: domain.MintWSOL,
		Amount:     150_000_000,
		RouteHint:  RaydiumHintPrefix + f.id,
	})
	require.NoError(t, err)

	want, _ := ConstantProductOut(150_000_000, 150_000_000_000, 1_000_000_000_000, DefaultRaydiumFeeBps)
	assert.Equal(t, want, q.ExpectedOutput)
}

func TestRaydiumSource_Unavailable(t *testing.T) {
	f := newPoolFixture()
	chain := stub.NewChain(1000)
	chain.TokenBalances[f.baseVault] = &solana.TokenAmount{Amount: "0", Decimals: 9}
	chain.TokenBalances[f.quoteVault] = &solana.TokenAmount{Amount: "0", Decimals: 6}

	tests := []struct {
		name      string
		programID string
		params    Params
	}{
		{"unknown pool", RaydiumAMMV4ProgramID, Params{InputMint: domain.MintWSOL, OutputMint: domain.MintUSDC, Amount: 1, RouteHint: RaydiumHintPrefix + sol.NewWallet().PublicKey().String()}},
		{"malformed pool id", RaydiumAMMV4ProgramID, Params{InputMint: domain.MintWSOL, OutputMint: domain.MintUSDC, Amount: 1, RouteHint: RaydiumHintPrefix + "nope"}},
		{"wrong mints", RaydiumAMMV4ProgramID, Params{InputMint: domain.MintWSOL, OutputMint: domain.MintBONK, Amount: 1, RouteHint: RaydiumHintPrefix + f.id}},
		{"not amm v4", "CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK", Params{InputMint: domain.MintWSOL, OutputMint: domain.MintUSDC, Amount: 1, RouteHint: RaydiumHintPrefix + f.id}},
		{"empty reserves", RaydiumAMMV4ProgramID, Params{InputMint: domain.MintWSOL, OutputMint: domain.MintUSDC, Amount: 1, RouteHint: RaydiumHintPrefix + f.id}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newRaydiumServer(t, f, tt.programID)
			src := newTestRaydium(t, server.URL, chain)

			_, err := src.Quote(context.Background(), tt.params)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrQuoteUnavailable), err)
		})
	}
}

type fakeSource struct {
	calls int
	quote *domain.Quote
}

func (f *fakeSource) Quote(_ context.Context, _ Params) (*domain.Quote, error) {
	f.calls++
	return f.quote, nil
}

func TestRouter_DispatchesOnHint(t *testing.T) {
	agg, ray := &fakeSource{quote: &domain.Quote{}}, &fakeSource{quote: &domain.Quote{}}
	r := NewRouter(agg, ray)

	_, _ = r.Quote(context.Background(), Params{RouteHint: "Orca"})
	_, _ = r.Quote(context.Background(), Params{})
	_, _ = r.Quote(context.Background(), Params{RouteHint: "raydium:pool"})

	assert.Equal(t, 2, agg.calls)
	assert.Equal(t, 1, ray.calls)

	_, err := NewRouter(agg, nil).Quote(context.Background(), Params{RouteHint: "raydium:pool"})
	assert.True(t, errors.Is(err, domain.ErrQuoteUnavailable))
}
