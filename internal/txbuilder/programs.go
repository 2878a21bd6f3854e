package txbuilder

import (
	"crypto/sha256"
	"encoding/binary"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Program ids referenced by built transactions.
var (
	SystemProgramID        = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")
	TokenProgramID         = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	AssociatedTokenProgram = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	JupiterV6ProgramID     = solana.MustPublicKeyFromBase58("JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4")
	RaydiumAMMV4ProgramID  = solana.MustPublicKeyFromBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")
	WrappedSOLMint         = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
)

// Compute budget instruction tags, used to detect budget instructions a
// route already carries.
const (
	computeBudgetSetLimit = 2
	computeBudgetSetPrice = 3
)

// Instruction tags of programs solana-go has no builder for.
const (
	ataCreateIdempotent = 1
	raydiumSwapBaseIn   = 9
)

// AnchorDiscriminator returns the 8-byte selector of an anchor instruction.
func AnchorDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

func setComputeUnitLimit(units uint32) solana.Instruction {
	return computebudget.NewSetComputeUnitLimitInstruction(units).Build()
}

func setComputeUnitPrice(microLamports uint64) solana.Instruction {
	return computebudget.NewSetComputeUnitPriceInstruction(microLamports).Build()
}

func createATAIdempotent(payer, ata, owner, mint solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(AssociatedTokenProgram, solana.AccountMetaSlice{
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: ata, IsWritable: true},
		{PublicKey: owner},
		{PublicKey: mint},
		{PublicKey: SystemProgramID},
		{PublicKey: TokenProgramID},
	}, []byte{ataCreateIdempotent})
}

func transferLamports(from, to solana.PublicKey, lamports uint64) solana.Instruction {
	return system.NewTransferInstruction(lamports, from, to).Build()
}

func syncNative(account solana.PublicKey) solana.Instruction {
	return token.NewSyncNativeInstruction(account).Build()
}

func closeAccount(account, destination, owner solana.PublicKey) solana.Instruction {
	return token.NewCloseAccountInstruction(account, destination, owner, nil).Build()
}

// swapBaseInData encodes Raydium AMM v4 swapBaseIn. The program fails the
// swap when the output would be below minimumOut.
func swapBaseInData(amountIn, minimumOut uint64) []byte {
	data := make([]byte, 17)
	data[0] = raydiumSwapBaseIn
	binary.LittleEndian.PutUint64(data[1:], amountIn)
	binary.LittleEndian.PutUint64(data[9:], minimumOut)
	return data
}
