package quote

import (
	"context"
	"fmt"
	"math"

	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"

	"solana-swap-engine/internal/solana"
)

// lookupTableMetaSize is the fixed header of an address lookup table account.
const lookupTableMetaSize = 56

// ResolveLookupTables reads each address lookup table and returns its addresses.
func ResolveLookupTables(ctx context.Context, chain solana.ChainClient, tables []string) (map[string][]string, error) {
	if len(tables) == 0 {
		return nil, nil
	}

	out := make(map[string][]string, len(tables))
	for _, table := range tables {
		if _, ok := out[table]; ok {
			continue
		}
		info, err := chain.GetAccountInfo(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("get lookup table %s: %w", table, err)
		}
		if info == nil {
			return nil, fmt.Errorf("lookup table %s not found", table)
		}
		addrs, err := ParseLookupTable(info.Data)
		if err != nil {
			return nil, fmt.Errorf("lookup table %s: %w", table, err)
		}
		out[table] = addrs
	}
	return out, nil
}

// ParseLookupTable decodes the addresses of an active lookup table.
func ParseLookupTable(data []byte) ([]string, error) {
	if len(data) < lookupTableMetaSize {
		return nil, fmt.Errorf("account data too short: %d bytes", len(data))
	}
	if n := len(data) - lookupTableMetaSize; n%32 != 0 {
		return nil, fmt.Errorf("address section of %d bytes is not a multiple of 32", n)
	}
	state, err := addresslookuptable.DecodeAddressLookupTableState(data)
	if err != nil {
		return nil, fmt.Errorf("decode lookup table: %w", err)
	}
	// a deactivated table cannot be used by new transactions
	if state.DeactivationSlot != math.MaxUint64 {
		return nil, fmt.Errorf("lookup table deactivated at slot %d", state.DeactivationSlot)
	}

	addrs := make([]string, 0, len(state.Addresses))
	for _, a := range state.Addresses {
		addrs = append(addrs, a.String())
	}
	return addrs, nil
}
