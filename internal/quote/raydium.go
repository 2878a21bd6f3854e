package quote

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/solana"
)

// Raydium defaults.
const (
	DefaultRaydiumBaseURL = "https://api-v3.raydium.io"
	RaydiumAMMV4ProgramID = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	DefaultRaydiumFeeBps  = 25
)

// RaydiumOptions configures RaydiumSource.
type RaydiumOptions struct {
	BaseURL           string
	FeeBps            uint64
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Chain             solana.ChainClient // reads vault balances
	Logger            *zap.Logger
	Now               func() time.Time
}

// RaydiumSource quotes a single Raydium AMM v4 pool named by the route hint.
// Output is priced on the constant product curve over live vault balances.
type RaydiumSource struct {
	rest   *restClient
	chain  solana.ChainClient
	feeBps uint64
	logger *zap.Logger
	now    func() time.Time
}

// NewRaydiumSource creates a Raydium direct pool source.
func NewRaydiumSource(opts RaydiumOptions) (*RaydiumSource, error) {
	if opts.Chain == nil {
		return nil, errors.New("raydium: chain client is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultRaydiumBaseURL
	}
	if opts.FeeBps == 0 {
		opts.FeeBps = DefaultRaydiumFeeBps
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RaydiumSource{
		rest:   newRESTClient("raydium", strings.TrimRight(opts.BaseURL, "/"), "", opts.HTTPClient, opts.RequestsPerSecond, opts.Logger),
		chain:  opts.Chain,
		feeBps: opts.FeeBps,
		logger: opts.Logger,
		now:    opts.Now,
	}, nil
}

// Quote implements Source.
func (s *RaydiumSource) Quote(ctx context.Context, p Params) (*domain.Quote, error) {
	poolID := strings.TrimSpace(strings.TrimPrefix(p.RouteHint, RaydiumHintPrefix))
	if err := domain.ValidateAssetID(poolID); err != nil {
		return nil, domain.NewError(domain.KindQuoteUnavailable, "raydium pool id", err)
	}

	pool, err := s.poolKeys(ctx, poolID)
	if err != nil {
		return nil, err
	}

	var inVault, outVault string
	switch {
	case pool.BaseMint == p.InputMint && pool.QuoteMint == p.OutputMint:
		inVault, outVault = pool.BaseVault, pool.QuoteVault
	case pool.QuoteMint == p.InputMint && pool.BaseMint == p.OutputMint:
		inVault, outVault = pool.QuoteVault, pool.BaseVault
	default:
		return nil, domain.Errorf(domain.KindQuoteUnavailable,
			"raydium pool %s trades %s/%s, not %s -> %s", poolID, pool.BaseMint, pool.QuoteMint, p.InputMint, p.OutputMint)
	}
	pool.InputMint = p.InputMint
	pool.OutputMint = p.OutputMint

	reserveIn, err := s.vaultBalance(ctx, inVault)
	if err != nil {
		return nil, err
	}
	reserveOut, err := s.vaultBalance(ctx, outVault)
	if err != nil {
		return nil, err
	}
	receivedAt := s.now()

	expected, impact := ConstantProductOut(p.Amount, reserveIn, reserveOut, s.feeBps)
	if expected == 0 {
		return nil, domain.Errorf(domain.KindQuoteUnavailable, "raydium pool %s has no liquidity for %d", poolID, p.Amount)
	}

	s.logger.Debug("raydium.quote_received",
		zap.String("pool", poolID),
		zap.Uint64("reserve_in", reserveIn),
		zap.Uint64("reserve_out", reserveOut),
		zap.Uint64("out_amount", expected),
	)

	return &domain.Quote{
		InputMint:      p.InputMint,
		OutputMint:     p.OutputMint,
		InputAmount:    p.Amount,
		ExpectedOutput: expected,
		PriceImpactPct: impact,
		Route: domain.Route{
			Kind:    domain.RouteKindRaydiumAMM,
			Label:   "Raydium",
			Hops:    1,
			Payload: pool,
		},
		Timestamp: receivedAt,
	}, nil
}

func (s *RaydiumSource) poolKeys(ctx context.Context, poolID string) (*domain.RaydiumPool, error) {
	var resp raydiumPoolKeysResponse
	if err := s.rest.getJSON(ctx, "/pools/key/ids?ids="+url.QueryEscape(poolID), &resp); err != nil {
		return nil, unavailable("raydium pool keys", err)
	}
	if !resp.Success || len(resp.Data) == 0 || resp.Data[0] == nil {
		return nil, domain.Errorf(domain.KindQuoteUnavailable, "raydium pool %s not found", poolID)
	}
	k := resp.Data[0]
	if k.ProgramID != RaydiumAMMV4ProgramID {
		return nil, domain.Errorf(domain.KindQuoteUnavailable, "raydium pool %s is owned by %s, only AMM v4 is supported", poolID, k.ProgramID)
	}
	if k.MarketID == "" || k.OpenOrders == "" {
		return nil, domain.Errorf(domain.KindQuoteUnavailable, "raydium pool %s has incomplete keys", poolID)
	}

	return &domain.RaydiumPool{
		ProgramID:        k.ProgramID,
		AmmID:            k.ID,
		Authority:        k.Authority,
		OpenOrders:       k.OpenOrders,
		TargetOrders:     k.TargetOrders,
		BaseMint:         k.MintA.Address,
		QuoteMint:        k.MintB.Address,
		BaseVault:        k.Vault.A,
		QuoteVault:       k.Vault.B,
		MarketProgramID:  k.MarketProgramID,
		MarketID:         k.MarketID,
		MarketAuthority:  k.MarketAuthority,
		MarketBaseVault:  k.MarketBaseVault,
		MarketQuoteVault: k.MarketQuoteVault,
		MarketBids:       k.MarketBids,
		MarketAsks:       k.MarketAsks,
		MarketEventQueue: k.MarketEventQueue,
	}, nil
}

func (s *RaydiumSource) vaultBalance(ctx context.Context, vault string) (uint64, error) {
	bal, err := s.chain.GetTokenAccountBalance(ctx, vault)
	if err != nil {
		return 0, unavailable("raydium vault balance "+vault, err)
	}
	amount, err := bal.Uint64()
	if err != nil {
		return 0, unavailable("raydium vault balance "+vault, err)
	}
	return amount, nil
}

// ConstantProductOut prices amountIn against x*y=k reserves after a fee on
// the input. It returns the output and the price impact as a fraction.
func ConstantProductOut(amountIn, reserveIn, reserveOut, feeBps uint64) (uint64, float64) {
	if amountIn == 0 || reserveIn == 0 || reserveOut == 0 || feeBps >= 10000 {
		return 0, 0
	}
	inAfterFee := new(big.Int).Mul(new(big.Int).SetUint64(amountIn), new(big.Int).SetUint64(10000-feeBps))
	inAfterFee.Quo(inAfterFee, big.NewInt(10000))

	num := new(big.Int).Mul(inAfterFee, new(big.Int).SetUint64(reserveOut))
	den := new(big.Int).Add(new(big.Int).SetUint64(reserveIn), inAfterFee)
	out := num.Quo(num, den)

	impact, _ := new(big.Float).Quo(new(big.Float).SetInt(inAfterFee), new(big.Float).SetInt(den)).Float64()
	return out.Uint64(), impact
}

type raydiumPoolKeysResponse struct {
	ID      string             `json:"id"`
	Success bool               `json:"success"`
	Data    []*raydiumPoolKeys `json:"data"`
}

type raydiumMint struct {
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

type raydiumPoolKeys struct {
	ProgramID string      `json:"programId"`
	ID        string      `json:"id"`
	MintA     raydiumMint `json:"mintA"`
	MintB     raydiumMint `json:"mintB"`
	Vault     struct {
		A string `json:"A"`
		B string `json:"B"`
	} `json:"vault"`
	Authority        string `json:"authority"`
	OpenOrders       string `json:"openOrders"`
	TargetOrders     string `json:"targetOrders"`
	MarketProgramID  string `json:"marketProgramId"`
	MarketID         string `json:"marketId"`
	MarketAuthority  string `json:"marketAuthority"`
	MarketBaseVault  string `json:"marketBaseVault"`
	MarketQuoteVault string `json:"marketQuoteVault"`
	MarketBids       string `json:"marketBids"`
	MarketAsks       string `json:"marketAsks"`
	MarketEventQueue string `json:"marketEventQueue"`
}
