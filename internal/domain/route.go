package domain

// RouteKind identifies how a route descriptor is encoded into instructions.
type RouteKind string

const (
	RouteKindJupiter    RouteKind = "JUPITER"
	RouteKindRaydiumAMM RouteKind = "RAYDIUM_AMM_V4"
)

// Route is the route descriptor attached to a quote. Only the transaction
// builder interprets Payload.
type Route struct {
	Kind    RouteKind
	Label   string      // human readable venues, e.g. "Raydium > Orca"
	Hops    int         // number of legs
	Payload interface{} // *JupiterRoute or *RaydiumPool
}

// AccountMeta is an instruction account as returned by an aggregator.
type AccountMeta struct {
	Pubkey     string
	IsSigner   bool
	IsWritable bool
}

// Instruction is a chain instruction in aggregator form.
type Instruction struct {
	ProgramID string
	Accounts  []AccountMeta
	Data      []byte
}

// JupiterRoute carries the instruction set returned by the Jupiter
// swap-instructions endpoint for one quote.
type JupiterRoute struct {
	ComputeBudget []Instruction
	Setup         []Instruction
	Swap          Instruction
	Cleanup       *Instruction
	Other         []Instruction
	// AddressTables maps lookup table address to its resolved addresses.
	AddressTables map[string][]string
}

// RaydiumPool carries the keys of a Raydium AMM v4 pool and the swap direction.
type RaydiumPool struct {
	ProgramID        string
	AmmID            string
	Authority        string
	OpenOrders       string
	TargetOrders     string
	BaseMint         string
	QuoteMint        string
	BaseVault        string
	QuoteVault       string
	MarketProgramID  string
	MarketID         string
	MarketAuthority  string
	MarketBaseVault  string
	MarketQuoteVault string
	MarketBids       string
	MarketAsks       string
	MarketEventQueue string
	InputMint        string
	OutputMint       string
}
