package domain

import (
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// Well-known mint addresses.
const (
	MintWSOL    = "So11111111111111111111111111111111111111112"
	MintUSDC    = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	MintUSDT    = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	MintUSDS    = "USDSwr9ApdHk5bvJKMjzff41FfuX8bSxdKcR81vTwcA"
	MintJitoSOL = "J1toso1uCk3RLmjorhTtrVwY9HJ7X8V9yYac6Y7kGCPn"
	MintBSOL    = "bSo13r4TkiE4KumL71LsHTPpL2euBYLFx6h9HP3piy1"
	MintMSOL    = "mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So"
	MintBONK    = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// DefaultInputMint is used when a request omits the input asset.
const DefaultInputMint = MintUSDC

// DefaultSlippageBps is the slippage tolerance used when a caller does not set one.
const DefaultSlippageBps uint16 = 300

// knownTokens maps lower-case symbols to mint addresses.
var knownTokens = map[string]string{
	"sol":     MintWSOL,
	"wsol":    MintWSOL,
	"usdc":    MintUSDC,
	"usdt":    MintUSDT,
	"usds":    MintUSDS,
	"jitosol": MintJitoSOL,
	"bsol":    MintBSOL,
	"msol":    MintMSOL,
	"bonk":    MintBONK,
}

// knownDecimals holds the mint decimals of the well-known tokens.
var knownDecimals = map[string]int32{
	MintWSOL:    9,
	MintUSDC:    6,
	MintUSDT:    6,
	MintUSDS:    6,
	MintJitoSOL: 9,
	MintBSOL:    9,
	MintMSOL:    9,
	MintBONK:    5,
}

// KnownDecimals returns the decimals of a well-known mint.
func KnownDecimals(mint string) (int32, bool) {
	d, ok := knownDecimals[mint]
	return d, ok
}

// ErrInvalidAsset is returned for asset identifiers that are not 32-byte base58 keys.
var ErrInvalidAsset = errors.New("invalid asset identifier")

// ResolveAsset turns a symbol ("USDC") or mint address into a validated mint address.
func ResolveAsset(s string) (string, error) {
	s = strings.TrimSpace(s)
	if mint, ok := knownTokens[strings.ToLower(s)]; ok {
		return mint, nil
	}
	if err := ValidateAssetID(s); err != nil {
		return "", err
	}
	return s, nil
}

// ValidateAssetID checks that id decodes to a 32-byte public key.
func ValidateAssetID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAsset)
	}
	raw, err := base58.Decode(id)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAsset, id, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidAsset, id, len(raw))
	}
	return nil
}

// ValidateWallet checks that addr is a valid ed25519 public key. Program
// derived addresses are off-curve and can never sign, so they are rejected.
func ValidateWallet(addr string) error {
	if err := ValidateAssetID(addr); err != nil {
		return err
	}
	raw, _ := base58.Decode(addr)
	if !IsOnCurve(raw) {
		return fmt.Errorf("%w: %q is not on the ed25519 curve", ErrInvalidAsset, addr)
	}
	return nil
}

// IsOnCurve reports whether the 32-byte point is a valid ed25519 point.
func IsOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// ToBaseUnits converts a UI amount ("1.5") to smallest units using decimals,
// rounding down. Fractions below one smallest unit are dropped.
func ToBaseUnits(amount string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("amount %q must be positive", amount)
	}
	units := d.Shift(decimals).Floor()
	if units.Sign() <= 0 {
		return 0, fmt.Errorf("amount %q is below one smallest unit", amount)
	}
	if units.GreaterThan(decimal.NewFromUint64(^uint64(0))) {
		return 0, fmt.Errorf("amount %q overflows uint64", amount)
	}
	return units.BigInt().Uint64(), nil
}

// FromBaseUnits renders a smallest-unit amount as a UI amount string.
func FromBaseUnits(units uint64, decimals int32) string {
	return decimal.NewFromUint64(units).Shift(-decimals).String()
}
