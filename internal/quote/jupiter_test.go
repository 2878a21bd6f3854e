package quote

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
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

var quotedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testQuoteResponse = `{
	"inputMint": "So11111111111111111111111111111111111111112",
	"inAmount": "1000000000",
	"outputMint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"outAmount": "95000000",
	"otherAmountThreshold": "94050000",
	"swapMode": "ExactIn",
	"slippageBps": 100,
	"priceImpactPct": "0.0012",
	"routePlan": [
		{"swapInfo": {"ammKey": "amm1", "label": "Raydium", "inputMint": "So11111111111111111111111111111111111111112", "outputMint": "mid", "inAmount": "1000000000", "outAmount": "1"}, "percent": 100},
		{"swapInfo": {"ammKey": "amm2", "label": "Orca", "inputMint": "mid", "outputMint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "inAmount": "1", "outAmount": "95000000"}, "percent": 100}
	],
	"contextSlot": 1234
}`

func lookupTableData(addrs ...sol.PublicKey) []byte {
	return lookupTableDataDeactivated(math.MaxUint64, addrs...)
}

func lookupTableDataDeactivated(slot uint64, addrs ...sol.PublicKey) []byte {
	data := make([]byte, lookupTableMetaSize)
	binary.LittleEndian.PutUint32(data[0:], 1)
	binary.LittleEndian.PutUint64(data[4:], slot)
	for _, a := range addrs {
		data = append(data, a[:]...)
	}
	return data
}

func instructionJSON(programID string, data []byte, accounts ...string) map[string]interface{} {
	metas := make([]map[string]interface{}, len(accounts))
	for i, a := range accounts {
		metas[i] = map[string]interface{}{"pubkey": a, "isSigner": i == 0, "isWritable": true}
	}
	return map[string]interface{}{
		"programId": programID,
		"accounts":  metas,
		"data":      base64.StdEncoding.EncodeToString(data),
	}
}

func newJupiterServer(t *testing.T, onQuote func(r *http.Request)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		if onQuote != nil {
			onQuote(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(testQuoteResponse))
	})
	mux.HandleFunc("/swap-instructions", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode swap request: %v", err)
			return
		}
		var quoteResp map[string]interface{}
		if err := json.Unmarshal(req["quoteResponse"], &quoteResp); err != nil || quoteResp["outAmount"] != "95000000" {
			t.Errorf("quoteResponse not forwarded verbatim: %s", req["quoteResponse"])
		}
		if string(req["wrapAndUnwrapSol"]) != "true" {
			t.Errorf("expected wrapAndUnwrapSol true, got %s", req["wrapAndUnwrapSol"])
		}

		resp := map[string]interface{}{
			"computeBudgetInstructions": []interface{}{
				instructionJSON("ComputeBudget111111111111111111111111111111", []byte{2, 0x40, 0x0d, 0x03, 0x00}),
			},
			"setupInstructions": []interface{}{},
			"swapInstruction": instructionJSON("JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4",
				[]byte{1, 2, 3}, "payer1111111111111111111111111111111111111"),
			"cleanupInstruction":          nil,
			"otherInstructions":           []interface{}{},
			"addressLookupTableAddresses": []string{"GxS6FiQ3mNnAar9HGQ6mxP7t6FcwmHkU7peSeQDUHmpN"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestJupiter(t *testing.T, baseURL string, chain *stub.Chain) *JupiterSource {
	t.Helper()
	src, err := NewJupiterSource(JupiterOptions{
		BaseURL:                 baseURL,
		UserPublicKey:           sol.NewWallet().PublicKey().String(),
		WrapAndUnwrapSOL:        true,
		DynamicComputeUnitLimit: true,
		Chain:                   chain,
		Now:                     func() time.Time { return quotedAt },
	})
	require.NoError(t, err)
	return src
}

func TestJupiterSource_Quote(t *testing.T) {
	tableAddrs := []sol.PublicKey{sol.NewWallet().PublicKey(), sol.NewWallet().PublicKey()}
	chain := stub.NewChain(1000)
	chain.Accounts["GxS6FiQ3mNnAar9HGQ6mxP7t6FcwmHkU7peSeQDUHmpN"] = &solana.AccountInfo{Data: lookupTableData(tableAddrs...)}

	server := newJupiterServer(t, func(r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, domain.MintWSOL, q.Get("inputMint"))
		assert.Equal(t, domain.MintUSDC, q.Get("outputMint"))
		assert.Equal(t, "1000000000", q.Get("amount"))
		assert.Equal(t, "100", q.Get("slippageBps"))
		assert.Equal(t, "20", q.Get("maxAccounts"))
		assert.Equal(t, "ExactIn", q.Get("swapMode"))
		assert.Empty(t, q.Get("dexes"))
	})
	src := newTestJupiter(t, server.URL, chain)

	q, err := src.Quote(context.Background(), Params{
		InputMint:   domain.MintWSOL,
		OutputMint:  domain.MintUSDC,
		Amount:      1_000_000_000,
		SlippageBps: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(95_000_000), q.ExpectedOutput)
	assert.InDelta(t, 0.0012, q.PriceImpactPct, 1e-9)
	assert.Equal(t, quotedAt, q.Timestamp)
	assert.Equal(t, domain.RouteKindJupiter, q.Route.Kind)
	assert.Equal(t, "Raydium > Orca", q.Route.Label)
	assert.Equal(t, 2, q.Route.Hops)

	route, ok := q.Route.Payload.(*domain.JupiterRoute)
	require.True(t, ok)
	assert.Equal(t, "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4", route.Swap.ProgramID)
	assert.Equal(t, []byte{1, 2, 3}, route.Swap.Data)
	require.Len(t, route.Swap.Accounts, 1)
	assert.True(t, route.Swap.Accounts[0].IsSigner)
	assert.Len(t, route.ComputeBudget, 1)
	assert.Nil(t, route.Cleanup)
	assert.Equal(t, []string{tableAddrs[0].String(), tableAddrs[1].String()},
		route.AddressTables["GxS6FiQ3mNnAar9HGQ6mxP7t6FcwmHkU7peSeQDUHmpN"])
}

func TestJupiterSource_RouteHintRestrictsDexes(t *testing.T) {
	chain := stub.NewChain(1000)
	chain.Accounts["GxS6FiQ3mNnAar9HGQ6mxP7t6FcwmHkU7peSeQDUHmpN"] = &solana.AccountInfo{Data: lookupTableData()}

	var dexes string
	server := newJupiterServer(t, func(r *http.Request) {
		dexes = r.URL.Query().Get("dexes")
	})
	src := newTestJupiter(t, server.URL, chain)

	_, err := src.Quote(context.Background(), Params{
		InputMint:  domain.MintWSOL,
		OutputMint: domain.MintUSDC,
		Amount:     1,
		RouteHint:  "Raydium,Whirlpool",
	})
	require.NoError(t, err)
	assert.Equal(t, "Raydium,Whirlpool", dexes)
}

func TestJupiterSource_NoRoute(t *testing.T) {
	var swapCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`))
	})
	mux.HandleFunc("/swap-instructions", func(w http.ResponseWriter, r *http.Request) {
		swapCalls++
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	src := newTestJupiter(t, server.URL, stub.NewChain(1))

	_, err := src.Quote(context.Background(), Params{InputMint: domain.MintWSOL, OutputMint: domain.MintBONK, Amount: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrQuoteUnavailable))
	assert.False(t, errors.Is(err, domain.ErrQuoteExpired))

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Zero(t, swapCalls)
}

func TestJupiterSource_MissingLookupTable(t *testing.T) {
	server := newJupiterServer(t, nil)
	src := newTestJupiter(t, server.URL, stub.NewChain(1))

	_, err := src.Quote(context.Background(), Params{InputMint: domain.MintWSOL, OutputMint: domain.MintUSDC, Amount: 1})
	assert.True(t, errors.Is(err, domain.ErrQuoteUnavailable))
}

func TestNewJupiterSource_RequiresIdentity(t *testing.T) {
	_, err := NewJupiterSource(JupiterOptions{Chain: stub.NewChain(1)})
	assert.Error(t, err)
}

func TestParseLookupTable(t *testing.T) {
	a, b := sol.NewWallet().PublicKey(), sol.NewWallet().PublicKey()

	addrs, err := ParseLookupTable(lookupTableData(a, b))
	require.NoError(t, err)
	assert.Equal(t, []string{a.String(), b.String()}, addrs)

	_, err = ParseLookupTable(make([]byte, 10))
	assert.Error(t, err)

	_, err = ParseLookupTable(make([]byte, lookupTableMetaSize+5))
	assert.Error(t, err)

	_, err = ParseLookupTable(lookupTableDataDeactivated(1234, a))
	assert.ErrorContains(t, err, "deactivated")
}
