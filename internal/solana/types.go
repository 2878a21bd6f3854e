package solana

import (
	"fmt"
	"strconv"
)

// Commitment levels reported by getSignatureStatuses.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// LatestBlockhash from getLatestBlockhash.
type LatestBlockhash struct {
	Blockhash            string
	LastValidBlockHeight uint64
	Slot                 uint64 // context slot of the response
}

// SendOpts configures sendTransaction.
type SendOpts struct {
	SkipPreflight       bool
	PreflightCommitment string // defaults to confirmed
	// MaxRetries is the node-side rebroadcast count. Zero leaves the node default.
	MaxRetries *uint
}

// SignatureStatus from getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64 // nil once rooted
	Err                interface{}
	ConfirmationStatus string
}

// Landed reports whether the transaction reached at least confirmed commitment.
func (s *SignatureStatus) Landed() bool {
	if s == nil {
		return false
	}
	return s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized
}

// TokenBalance is a pre or post token balance entry of a transaction.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       string // raw amount in smallest units
	Decimals     uint8
}

// TokenAmount from getTokenAccountBalance.
type TokenAmount struct {
	Amount         string // raw amount in smallest units
	Decimals       uint8
	UIAmountString string
}

// Uint64 parses the raw amount.
func (a *TokenAmount) Uint64() (uint64, error) {
	if a == nil {
		return 0, fmt.Errorf("nil token amount")
	}
	v, err := strconv.ParseUint(a.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token amount %q: %w", a.Amount, err)
	}
	return v, nil
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Data       []byte // decoded from base64
	Executable bool
	RentEpoch  uint64
}
