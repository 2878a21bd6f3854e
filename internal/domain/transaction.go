package domain

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// MaxTransactionSize is the Solana packet limit for a serialized transaction.
const MaxTransactionSize = 1232

// ChainContext is the short-lived blockhash reference a transaction is built against.
type ChainContext struct {
	Blockhash            string
	LastValidBlockHeight uint64
	FetchedAt            time.Time
}

// UnsignedTransaction is a compiled message awaiting signatures.
// It is owned by the builder until handed to the signer and is never kept
// after signing.
type UnsignedTransaction struct {
	Tx         *solana.Transaction
	Payer      solana.PublicKey
	OutputMint string // asset the payer expects to receive
	Context    ChainContext
}

// SignedTransaction is ready for submission. It must not be resubmitted once
// Context has expired.
type SignedTransaction struct {
	Signature  string // first signature, base58; also the transaction id
	Wire       []byte // serialized transaction
	Payer      string
	OutputMint string
	Context    ChainContext
}
