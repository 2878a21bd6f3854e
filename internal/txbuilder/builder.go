// Package txbuilder turns validated trades into unsigned transactions whose
// swap instruction enforces the minimum output on chain.
package txbuilder

import (
	"encoding/binary"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"solana-swap-engine/internal/domain"
)

// jupiterExactIn lists the Jupiter v6 instructions whose data ends with
// quoted_out_amount (u64), slippage_bps (u16) and platform_fee_bps (u8).
var jupiterExactIn = map[[8]byte]string{
	AnchorDiscriminator("route"):                                   "route",
	AnchorDiscriminator("shared_accounts_route"):                   "shared_accounts_route",
	AnchorDiscriminator("route_with_token_ledger"):                 "route_with_token_ledger",
	AnchorDiscriminator("shared_accounts_route_with_token_ledger"): "shared_accounts_route_with_token_ledger",
}

// jupiterTail is the size of the trailing swap arguments.
const jupiterTail = 8 + 2 + 1

// Options configures Builder.
type Options struct {
	// ComputeUnitLimit is set when the route carries no limit of its own. Zero adds none.
	ComputeUnitLimit uint32
	// ComputeUnitPrice is the priority fee in micro-lamports per unit. Zero adds none.
	ComputeUnitPrice uint64
	Logger           *zap.Logger
}

// Builder encodes routes into transactions. It has no network or signing side effects.
type Builder struct {
	opts   Options
	logger *zap.Logger
}

// New creates a Builder.
func New(opts Options) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{opts: opts, logger: logger}
}

// Build compiles vt into a transaction paid and signed by payer against cc.
func (b *Builder) Build(vt *domain.ValidatedTrade, payer solana.PublicKey, cc domain.ChainContext) (*domain.UnsignedTransaction, error) {
	if vt == nil || vt.Quote == nil {
		return nil, domain.NewError(domain.KindRouteEncodingError, "no validated trade", nil)
	}
	if vt.MinimumOutput > vt.Quote.ExpectedOutput {
		return nil, domain.Errorf(domain.KindRouteEncodingError,
			"minimum output %d exceeds expected %d", vt.MinimumOutput, vt.Quote.ExpectedOutput)
	}
	blockhash, err := solana.HashFromBase58(cc.Blockhash)
	if err != nil {
		return nil, domain.NewError(domain.KindRouteEncodingError, "blockhash", err)
	}

	var (
		instrs []solana.Instruction
		tables map[solana.PublicKey]solana.PublicKeySlice
	)
	switch route := vt.Quote.Route.Payload.(type) {
	case *domain.JupiterRoute:
		instrs, tables, err = b.jupiterInstructions(route, vt, payer)
	case *domain.RaydiumPool:
		instrs, err = b.raydiumInstructions(route, vt, payer)
	default:
		err = domain.Errorf(domain.KindRouteEncodingError, "unsupported route %s (%T)", vt.Quote.Route.Kind, route)
	}
	if err != nil {
		return nil, err
	}

	opts := []solana.TransactionOption{solana.TransactionPayer(payer)}
	if len(tables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(tables))
	}
	tx, err := solana.NewTransaction(instrs, blockhash, opts...)
	if err != nil {
		return nil, domain.NewError(domain.KindRouteEncodingError, "compile transaction", err)
	}

	b.logger.Debug("txbuilder.built",
		zap.String("route", string(vt.Quote.Route.Kind)),
		zap.Int("instructions", len(instrs)),
		zap.Int("lookup_tables", len(tables)),
		zap.Uint64("minimum_output", vt.MinimumOutput),
		zap.Uint64("last_valid_block_height", cc.LastValidBlockHeight),
	)

	return &domain.UnsignedTransaction{
		Tx:         tx,
		Payer:      payer,
		OutputMint: vt.Quote.OutputMint,
		Context:    cc,
	}, nil
}

// computeBudget returns the configured budget instructions not already
// present in the route.
func (b *Builder) computeBudget(hasLimit, hasPrice bool) []solana.Instruction {
	var out []solana.Instruction
	if !hasLimit && b.opts.ComputeUnitLimit > 0 {
		out = append(out, setComputeUnitLimit(b.opts.ComputeUnitLimit))
	}
	if !hasPrice && b.opts.ComputeUnitPrice > 0 {
		out = append(out, setComputeUnitPrice(b.opts.ComputeUnitPrice))
	}
	return out
}

func (b *Builder) jupiterInstructions(route *domain.JupiterRoute, vt *domain.ValidatedTrade, payer solana.PublicKey) ([]solana.Instruction, map[solana.PublicKey]solana.PublicKeySlice, error) {
	swapData, err := PatchJupiterMinimumOut(route.Swap, vt.Quote.InputAmount, vt.MinimumOutput)
	if err != nil {
		return nil, nil, err
	}

	var hasLimit, hasPrice bool
	for _, ix := range route.ComputeBudget {
		if len(ix.Data) > 0 && ix.Data[0] == computeBudgetSetLimit {
			hasLimit = true
		}
		if len(ix.Data) > 0 && ix.Data[0] == computeBudgetSetPrice {
			hasPrice = true
		}
	}

	var out []solana.Instruction
	add := func(ix domain.Instruction, data []byte) error {
		converted, err := convert(ix, data, payer)
		if err != nil {
			return err
		}
		out = append(out, converted)
		return nil
	}

	for _, ix := range route.ComputeBudget {
		if err := add(ix, ix.Data); err != nil {
			return nil, nil, err
		}
	}
	out = append(out, b.computeBudget(hasLimit, hasPrice)...)
	for _, ix := range route.Setup {
		if err := add(ix, ix.Data); err != nil {
			return nil, nil, err
		}
	}
	if err := add(route.Swap, swapData); err != nil {
		return nil, nil, err
	}
	if route.Cleanup != nil {
		if err := add(*route.Cleanup, route.Cleanup.Data); err != nil {
			return nil, nil, err
		}
	}
	for _, ix := range route.Other {
		if err := add(ix, ix.Data); err != nil {
			return nil, nil, err
		}
	}

	tables := make(map[solana.PublicKey]solana.PublicKeySlice, len(route.AddressTables))
	for table, addrs := range route.AddressTables {
		key, err := solana.PublicKeyFromBase58(table)
		if err != nil {
			return nil, nil, domain.NewError(domain.KindRouteEncodingError, "lookup table "+table, err)
		}
		keys := make(solana.PublicKeySlice, 0, len(addrs))
		for _, a := range addrs {
			k, err := solana.PublicKeyFromBase58(a)
			if err != nil {
				return nil, nil, domain.NewError(domain.KindRouteEncodingError, "lookup table entry "+a, err)
			}
			keys = append(keys, k)
		}
		tables[key] = keys
	}
	return out, tables, nil
}

// PatchJupiterMinimumOut rewrites an ExactIn route instruction so the program
// itself rejects any output below minimumOut: quoted_out_amount becomes
// minimumOut and slippage_bps becomes zero.
func PatchJupiterMinimumOut(swap domain.Instruction, inputAmount, minimumOut uint64) ([]byte, error) {
	if swap.ProgramID != JupiterV6ProgramID.String() {
		return nil, domain.Errorf(domain.KindRouteEncodingError, "swap instruction targets %s, not jupiter v6", swap.ProgramID)
	}
	if len(swap.Data) < 8+jupiterTail {
		return nil, domain.Errorf(domain.KindRouteEncodingError, "swap instruction data too short: %d bytes", len(swap.Data))
	}

	var disc [8]byte
	copy(disc[:], swap.Data[:8])
	name, ok := jupiterExactIn[disc]
	if !ok {
		return nil, domain.Errorf(domain.KindRouteEncodingError, "unsupported jupiter instruction %x", disc)
	}

	data := make([]byte, len(swap.Data))
	copy(data, swap.Data)
	tail := len(data) - jupiterTail

	// route and shared_accounts_route carry in_amount right before the tail.
	if name == "route" || name == "shared_accounts_route" {
		if tail-8 < 8 {
			return nil, domain.Errorf(domain.KindRouteEncodingError, "%s data too short for in_amount", name)
		}
		if got := binary.LittleEndian.Uint64(data[tail-8 : tail]); got != inputAmount {
			return nil, domain.Errorf(domain.KindRouteEncodingError, "%s in_amount %d does not match quote %d", name, got, inputAmount)
		}
	}

	binary.LittleEndian.PutUint64(data[tail:tail+8], minimumOut)
	binary.LittleEndian.PutUint16(data[tail+8:tail+10], 0)
	return data, nil
}

// convert maps an aggregator instruction, refusing signers other than payer.
func convert(ix domain.Instruction, data []byte, payer solana.PublicKey) (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(ix.ProgramID)
	if err != nil {
		return nil, domain.NewError(domain.KindRouteEncodingError, "program id "+ix.ProgramID, err)
	}
	metas := make(solana.AccountMetaSlice, 0, len(ix.Accounts))
	for _, a := range ix.Accounts {
		key, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, domain.NewError(domain.KindRouteEncodingError, "account "+a.Pubkey, err)
		}
		if a.IsSigner && !key.Equals(payer) {
			return nil, domain.Errorf(domain.KindRouteEncodingError, "instruction requires foreign signer %s", a.Pubkey)
		}
		metas = append(metas, &solana.AccountMeta{PublicKey: key, IsSigner: a.IsSigner, IsWritable: a.IsWritable})
	}
	return solana.NewInstruction(programID, metas, data), nil
}

func (b *Builder) raydiumInstructions(pool *domain.RaydiumPool, vt *domain.ValidatedTrade, payer solana.PublicKey) ([]solana.Instruction, error) {
	if pool.InputMint != vt.Quote.InputMint || pool.OutputMint != vt.Quote.OutputMint {
		return nil, domain.Errorf(domain.KindRouteEncodingError,
			"pool direction %s -> %s does not match quote", pool.InputMint, pool.OutputMint)
	}

	keys, err := parseKeys(map[string]string{
		"program":            pool.ProgramID,
		"amm":                pool.AmmID,
		"authority":          pool.Authority,
		"open_orders":        pool.OpenOrders,
		"target_orders":      pool.TargetOrders,
		"base_vault":         pool.BaseVault,
		"quote_vault":        pool.QuoteVault,
		"market_program":     pool.MarketProgramID,
		"market":             pool.MarketID,
		"market_bids":        pool.MarketBids,
		"market_asks":        pool.MarketAsks,
		"market_event_queue": pool.MarketEventQueue,
		"market_base_vault":  pool.MarketBaseVault,
		"market_quote_vault": pool.MarketQuoteVault,
		"market_authority":   pool.MarketAuthority,
		"input_mint":         pool.InputMint,
		"output_mint":        pool.OutputMint,
	})
	if err != nil {
		return nil, err
	}
	if !keys["program"].Equals(RaydiumAMMV4ProgramID) {
		return nil, domain.Errorf(domain.KindRouteEncodingError, "pool program %s is not raydium amm v4", pool.ProgramID)
	}

	source, _, err := solana.FindAssociatedTokenAddress(payer, keys["input_mint"])
	if err != nil {
		return nil, domain.NewError(domain.KindRouteEncodingError, "source token account", err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(payer, keys["output_mint"])
	if err != nil {
		return nil, domain.NewError(domain.KindRouteEncodingError, "destination token account", err)
	}

	wrapIn := keys["input_mint"].Equals(WrappedSOLMint)
	unwrapOut := keys["output_mint"].Equals(WrappedSOLMint)

	out := b.computeBudget(false, false)
	if wrapIn {
		out = append(out,
			createATAIdempotent(payer, source, payer, keys["input_mint"]),
			transferLamports(payer, source, vt.Quote.InputAmount),
			syncNative(source),
		)
	}
	out = append(out, createATAIdempotent(payer, dest, payer, keys["output_mint"]))

	swap := solana.NewInstruction(RaydiumAMMV4ProgramID, solana.AccountMetaSlice{
		{PublicKey: TokenProgramID},
		{PublicKey: keys["amm"], IsWritable: true},
		{PublicKey: keys["authority"]},
		{PublicKey: keys["open_orders"], IsWritable: true},
		{PublicKey: keys["target_orders"], IsWritable: true},
		{PublicKey: keys["base_vault"], IsWritable: true},
		{PublicKey: keys["quote_vault"], IsWritable: true},
		{PublicKey: keys["market_program"]},
		{PublicKey: keys["market"], IsWritable: true},
		{PublicKey: keys["market_bids"], IsWritable: true},
		{PublicKey: keys["market_asks"], IsWritable: true},
		{PublicKey: keys["market_event_queue"], IsWritable: true},
		{PublicKey: keys["market_base_vault"], IsWritable: true},
		{PublicKey: keys["market_quote_vault"], IsWritable: true},
		{PublicKey: keys["market_authority"]},
		{PublicKey: source, IsWritable: true},
		{PublicKey: dest, IsWritable: true},
		{PublicKey: payer, IsSigner: true},
	}, swapBaseInData(vt.Quote.InputAmount, vt.MinimumOutput))
	out = append(out, swap)

	if wrapIn {
		out = append(out, closeAccount(source, payer, payer))
	}
	if unwrapOut {
		out = append(out, closeAccount(dest, payer, payer))
	}
	return out, nil
}

func parseKeys(named map[string]string) (map[string]solana.PublicKey, error) {
	out := make(map[string]solana.PublicKey, len(named))
	for name, s := range named {
		key, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, domain.NewError(domain.KindRouteEncodingError, fmt.Sprintf("pool key %s %q", name, s), err)
		}
		out[name] = key
	}
	return out, nil
}
