package tracker

import (
	"strconv"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/solana"
)

// RealizedOutput derives the amount of mint received by owner in tx.
// Token balances are summed per owner; SOL output falls back to the fee
// adjusted lamport change of the fee payer when the wrapped account was
// closed in the same transaction. Returns nil when nothing can be derived.
func RealizedOutput(tx *solana.Transaction, owner, mint string) *uint64 {
	if tx == nil || tx.Meta == nil || owner == "" || mint == "" {
		return nil
	}
	pre, okPre := sumTokens(tx.Meta.PreTokenBalances, owner, mint)
	post, okPost := sumTokens(tx.Meta.PostTokenBalances, owner, mint)
	if (okPre || okPost) && post > pre {
		out := post - pre
		return &out
	}

	if mint != domain.MintWSOL || tx.Message == nil || len(tx.Message.AccountKeys) == 0 {
		return nil
	}
	if tx.Message.AccountKeys[0] != owner || len(tx.Meta.PreBalances) == 0 || len(tx.Meta.PostBalances) == 0 {
		return nil
	}
	before := tx.Meta.PreBalances[0]
	after := tx.Meta.PostBalances[0] + tx.Meta.Fee
	if after <= before {
		return nil
	}
	out := after - before
	return &out
}

func sumTokens(balances []solana.TokenBalance, owner, mint string) (uint64, bool) {
	var total uint64
	found := false
	for _, b := range balances {
		if b.Owner != owner || b.Mint != mint {
			continue
		}
		v, err := strconv.ParseUint(b.Amount, 10, 64)
		if err != nil {
			continue
		}
		total += v
		found = true
	}
	return total, found
}
