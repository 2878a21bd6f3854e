package stub

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	bin "github.com/gagliardetto/binary"
	sol "github.com/gagliardetto/solana-go"

	"solana-swap-engine/internal/solana"
)

// DefaultValidity is the number of blocks a stub blockhash stays valid.
const DefaultValidity = 150

// Chain implements solana.ChainClient in memory for testing.
//
// Blockhashes are handed out sequentially and expire once the block height
// passes their last valid height. Submitted transactions land according to
// the configured policy.
type Chain struct {
	mu sync.Mutex

	height   uint64
	hashSeq  int
	validity uint64
	expiry   map[string]uint64 // blockhash -> last valid block height

	// HeightStep is added to the block height on every GetBlockHeight call.
	HeightStep uint64
	// LandAfterPolls is the number of status polls that report nothing
	// before a submitted signature shows as confirmed.
	LandAfterPolls int
	// Drop makes every accepted submission vanish without landing.
	Drop bool
	// ExecErr, when set, lands transactions with this execution error.
	ExecErr interface{}
	// SendHook runs before the blockhash check. A non-nil error is returned
	// from SendTransaction as is. n counts submissions starting at 1.
	SendHook func(n int, tx *sol.Transaction) error

	sent   []*sol.Transaction
	polls  map[string]int
	landed map[string]*solana.SignatureStatus
	calls  map[string]int

	Transactions  map[string]*solana.Transaction
	Accounts      map[string]*solana.AccountInfo
	TokenBalances map[string]*solana.TokenAmount
}

// NewChain creates a stub chain at the given block height.
func NewChain(height uint64) *Chain {
	return &Chain{
		height:        height,
		validity:      DefaultValidity,
		expiry:        make(map[string]uint64),
		polls:         make(map[string]int),
		landed:        make(map[string]*solana.SignatureStatus),
		calls:         make(map[string]int),
		Transactions:  make(map[string]*solana.Transaction),
		Accounts:      make(map[string]*solana.AccountInfo),
		TokenBalances: make(map[string]*solana.TokenAmount),
	}
}

// Advance moves the block height forward by n.
func (c *Chain) Advance(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += n
}

// SetValidity sets how many blocks new blockhashes stay valid.
func (c *Chain) SetValidity(blocks uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validity = blocks
}

// Calls returns how many times method was invoked.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// Sent returns every transaction passed to SendTransaction, in order.
func (c *Chain) Sent() []*sol.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*sol.Transaction, len(c.sent))
	copy(out, c.sent)
	return out
}

// GetLatestBlockhash returns a fresh blockhash valid for the configured number of blocks.
func (c *Chain) GetLatestBlockhash(_ context.Context) (*solana.LatestBlockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["getLatestBlockhash"]++

	c.hashSeq++
	sum := sha256.Sum256([]byte(fmt.Sprintf("blockhash-%d", c.hashSeq)))
	hash := sol.Hash(sum).String()
	c.expiry[hash] = c.height + c.validity

	return &solana.LatestBlockhash{
		Blockhash:            hash,
		LastValidBlockHeight: c.height + c.validity,
		Slot:                 c.height,
	}, nil
}

// GetBlockHeight returns the current height, then advances it by HeightStep.
func (c *Chain) GetBlockHeight(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["getBlockHeight"]++

	c.height += c.HeightStep
	return c.height, nil
}

// SendTransaction decodes and records the transaction.
func (c *Chain) SendTransaction(_ context.Context, wire []byte, _ solana.SendOpts) (string, error) {
	tx, err := sol.TransactionFromDecoder(bin.NewBinDecoder(wire))
	if err != nil {
		return "", &solana.RPCError{Code: solana.CodeInvalidParams, Message: fmt.Sprintf("failed to deserialize transaction: %v", err)}
	}
	if len(tx.Signatures) == 0 {
		return "", &solana.RPCError{Code: solana.CodeSignatureVerification, Message: "transaction has no signatures"}
	}

	c.mu.Lock()
	c.calls["sendTransaction"]++
	c.sent = append(c.sent, tx)
	n := len(c.sent)
	hook := c.SendHook
	c.mu.Unlock()

	if hook != nil {
		if err := hook(n, tx); err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hash := tx.Message.RecentBlockhash.String()
	lastValid, ok := c.expiry[hash]
	if !ok || c.height > lastValid {
		return "", &solana.RPCError{
			Code:    solana.CodePreflightFailure,
			Message: "Transaction simulation failed: Blockhash not found",
		}
	}

	sig := tx.Signatures[0].String()
	if !c.Drop {
		if _, seen := c.polls[sig]; !seen {
			c.polls[sig] = 0
		}
	}
	return sig, nil
}

// GetSignatureStatuses reports accepted signatures as confirmed after LandAfterPolls polls.
func (c *Chain) GetSignatureStatuses(_ context.Context, _ bool, signatures ...string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["getSignatureStatuses"]++

	out := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		if st, ok := c.landed[sig]; ok {
			out[i] = st
			continue
		}
		polls, accepted := c.polls[sig]
		if !accepted {
			continue
		}
		if polls < c.LandAfterPolls {
			c.polls[sig] = polls + 1
			continue
		}
		st := &solana.SignatureStatus{
			Slot:               c.height,
			Err:                c.ExecErr,
			ConfirmationStatus: solana.CommitmentConfirmed,
		}
		c.landed[sig] = st
		out[i] = st
	}
	return out, nil
}

// GetTransaction returns a stored transaction or nil.
func (c *Chain) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["getTransaction"]++
	return c.Transactions[signature], nil
}

// GetAccountInfo returns a stored account or nil.
func (c *Chain) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["getAccountInfo"]++
	return c.Accounts[pubkey], nil
}

// GetTokenAccountBalance returns a stored balance.
func (c *Chain) GetTokenAccountBalance(_ context.Context, pubkey string) (*solana.TokenAmount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["getTokenAccountBalance"]++
	bal, ok := c.TokenBalances[pubkey]
	if !ok {
		return nil, &solana.RPCError{Code: solana.CodeInvalidParams, Message: "Invalid param: could not find account"}
	}
	return bal, nil
}

// MarkLanded forces a status for signature, e.g. a late landing after a timeout.
func (c *Chain) MarkLanded(signature string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.landed[signature] = status
}
