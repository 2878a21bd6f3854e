package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-engine/internal/domain"
)

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest("usdc", "wsol", "12.5", -1, -1, "", 300)
	require.NoError(t, err)
	assert.Equal(t, domain.MintUSDC, req.InputMint)
	assert.Equal(t, domain.MintWSOL, req.OutputMint)
	assert.Equal(t, uint64(12_500_000), req.InputAmount)
	assert.Equal(t, uint16(300), req.SlippageBps)

	req, err = buildRequest("WSOL", "USDC", "0.5", -1, 50, "raydium:58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2", 300)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000_000), req.InputAmount)
	assert.Equal(t, uint16(50), req.SlippageBps)
}

func TestBuildRequest_Rejects(t *testing.T) {
	unknown := "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

	_, err := buildRequest(unknown, "USDC", "1", -1, -1, "", 300)
	assert.ErrorContains(t, err, "--decimals")

	_, err = buildRequest("USDC", "USDC", "1", -1, -1, "", 300)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = buildRequest("USDC", "WSOL", "1", -1, 10001, "", 300)
	assert.ErrorContains(t, err, "--slippage")

	_, err = buildRequest("USDC", "WSOL", "abc", -1, -1, "", 300)
	assert.ErrorContains(t, err, "--amount")
}

func TestNewOutput(t *testing.T) {
	res := domain.TimedOut("sig", nil)
	res.TradeID = "t-1"
	res.Attempts = 1

	o := newOutput(domain.TradeRequest{InputAmount: 7}, res)
	assert.Equal(t, "TIMED_OUT", o.Outcome)
	assert.Equal(t, "TIMED_OUT", o.FailureKind)
	assert.Equal(t, uint64(7), o.InputAmount)
}
