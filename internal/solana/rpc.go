package solana

import "context"

// ChainClient defines the Solana JSON-RPC methods used to execute and track swaps.
type ChainClient interface {
	// GetLatestBlockhash returns a recent blockhash and the block height after
	// which transactions referencing it are no longer accepted.
	GetLatestBlockhash(ctx context.Context) (*LatestBlockhash, error)

	// GetBlockHeight returns the current block height.
	GetBlockHeight(ctx context.Context) (uint64, error)

	// SendTransaction submits a serialized transaction once and returns its
	// signature. Failures are returned as *RPCError or *TransportError.
	SendTransaction(ctx context.Context, wire []byte, opts SendOpts) (string, error)

	// GetSignatureStatuses returns one status per signature; unknown
	// signatures yield nil entries.
	GetSignatureStatuses(ctx context.Context, searchHistory bool, signatures ...string) ([]*SignatureStatus, error)

	// GetTransaction retrieves a confirmed transaction. Returns nil if not found.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetAccountInfo retrieves account data. Returns nil if not found.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetTokenAccountBalance returns the token balance of an SPL token account.
	GetTokenAccountBalance(ctx context.Context, pubkey string) (*TokenAmount, error)
}

// Transaction represents a confirmed Solana transaction.
type Transaction struct {
	Slot      uint64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	LogMessages       []string
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys []string
}
