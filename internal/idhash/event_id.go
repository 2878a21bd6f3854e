package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"solana-swap-engine/internal/domain"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(trade_id|seq|stage|attempt)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(
	tradeID string,
	seq int,
	stage domain.Stage,
	attempt int,
) string {
	data := fmt.Sprintf("%s|%d|%s|%d",
		tradeID,
		seq,
		string(stage),
		attempt,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
