package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultIdempotencyTTL is how long an Idempotency-Key stays bound to its trade.
const DefaultIdempotencyTTL = 24 * time.Hour

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency key reused with a different request")

// Claim is the trade an idempotency key is bound to.
type Claim struct {
	TradeID     string `json:"trade_id"`
	Fingerprint string `json:"fingerprint"`
	Fresh       bool   `json:"-"` // the key was bound by this call
}

// IdempotencyGuard binds Idempotency-Key values to trade ids in Redis so a
// retried POST never starts a second trade.
type IdempotencyGuard struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewIdempotencyGuard creates a guard. Keys are stored as <prefix><key>.
func NewIdempotencyGuard(rdb redis.Cmdable, prefix string, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if prefix == "" {
		prefix = "swap:idem:"
	}
	return &IdempotencyGuard{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Claim binds key to tradeID unless it is already bound. The returned claim
// names the trade the key belongs to.
func (g *IdempotencyGuard) Claim(ctx context.Context, key, fingerprint, tradeID string) (Claim, error) {
	claim := Claim{TradeID: tradeID, Fingerprint: fingerprint}
	data, err := json.Marshal(claim)
	if err != nil {
		return Claim{}, fmt.Errorf("marshal claim: %w", err)
	}

	ok, err := g.rdb.SetNX(ctx, g.prefix+key, data, g.ttl).Result()
	if err != nil {
		return Claim{}, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		claim.Fresh = true
		return claim, nil
	}

	raw, err := g.rdb.Get(ctx, g.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return g.Claim(ctx, key, fingerprint, tradeID)
	}
	if err != nil {
		return Claim{}, fmt.Errorf("read idempotency key: %w", err)
	}

	var existing Claim
	if err := json.Unmarshal(raw, &existing); err != nil {
		return Claim{}, fmt.Errorf("decode idempotency key: %w", err)
	}
	if existing.Fingerprint != fingerprint {
		return Claim{}, ErrFingerprintMismatch
	}
	return existing, nil
}

// Ping checks the Redis connection.
func (g *IdempotencyGuard) Ping(ctx context.Context) error {
	return g.rdb.Ping(ctx).Err()
}
