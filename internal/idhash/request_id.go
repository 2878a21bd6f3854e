package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"solana-swap-engine/internal/domain"
)

// ComputeRequestFingerprint computes a deterministic fingerprint of a trade request.
// Formula: SHA256(input_mint|output_mint|input_amount|slippage_bps|route_hint)
// Returns hex-encoded hash (64 characters).
//
// Two submissions under one idempotency key must carry the same fingerprint.
func ComputeRequestFingerprint(req domain.TradeRequest) string {
	data := fmt.Sprintf("%s|%s|%d|%d|%s",
		req.InputMint,
		req.OutputMint,
		req.InputAmount,
		req.SlippageBps,
		req.RouteHint,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
