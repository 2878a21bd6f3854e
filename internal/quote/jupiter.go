package quote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/solana"
)

// Jupiter defaults.
const (
	DefaultJupiterBaseURL = "https://quote-api.jup.ag/v6"
	DefaultMaxAccounts    = 20
)

// JupiterOptions configures JupiterSource.
type JupiterOptions struct {
	BaseURL                 string
	APIKey                  string
	UserPublicKey           string // payer identity; never key material
	OnlyDirectRoutes        bool
	MaxAccounts             int
	WrapAndUnwrapSOL        bool
	DynamicComputeUnitLimit bool
	RequestsPerSecond       float64
	HTTPClient              *http.Client
	Chain                   solana.ChainClient // resolves address lookup tables
	Logger                  *zap.Logger
	Now                     func() time.Time
}

// JupiterSource quotes through the Jupiter v6 aggregator and fetches the
// matching swap instructions in the same logical request.
type JupiterSource struct {
	opts   JupiterOptions
	rest   *restClient
	chain  solana.ChainClient
	logger *zap.Logger
	now    func() time.Time
}

// NewJupiterSource creates a Jupiter quote source.
func NewJupiterSource(opts JupiterOptions) (*JupiterSource, error) {
	if opts.UserPublicKey == "" {
		return nil, errors.New("jupiter: user public key is required")
	}
	if opts.Chain == nil {
		return nil, errors.New("jupiter: chain client is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultJupiterBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.MaxAccounts <= 0 {
		opts.MaxAccounts = DefaultMaxAccounts
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &JupiterSource{
		opts:   opts,
		rest:   newRESTClient("jupiter", opts.BaseURL, opts.APIKey, opts.HTTPClient, opts.RequestsPerSecond, opts.Logger),
		chain:  opts.Chain,
		logger: opts.Logger,
		now:    opts.Now,
	}, nil
}

// Quote implements Source. The route hint, when present, is a comma
// separated list of DEX labels the route is restricted to.
func (s *JupiterSource) Quote(ctx context.Context, p Params) (*domain.Quote, error) {
	q := url.Values{}
	q.Set("inputMint", p.InputMint)
	q.Set("outputMint", p.OutputMint)
	q.Set("amount", strconv.FormatUint(p.Amount, 10))
	q.Set("slippageBps", strconv.FormatUint(uint64(min(p.SlippageBps, domain.MaxSlippageBps)), 10))
	q.Set("swapMode", "ExactIn")
	q.Set("onlyDirectRoutes", strconv.FormatBool(s.opts.OnlyDirectRoutes))
	q.Set("maxAccounts", strconv.Itoa(s.opts.MaxAccounts))
	if hint := strings.TrimSpace(p.RouteHint); hint != "" {
		q.Set("dexes", hint)
	}

	var raw json.RawMessage
	if err := s.rest.getJSON(ctx, "/quote?"+q.Encode(), &raw); err != nil {
		return nil, unavailable("jupiter quote", err)
	}
	receivedAt := s.now()

	var qr jupiterQuoteResponse
	if err := json.Unmarshal(raw, &qr); err != nil {
		return nil, unavailable("jupiter quote", fmt.Errorf("decode: %w", err))
	}
	if qr.Error != "" {
		return nil, domain.Errorf(domain.KindQuoteUnavailable, "jupiter quote: %s", qr.Error)
	}

	expected, err := strconv.ParseUint(qr.OutAmount, 10, 64)
	if err != nil {
		return nil, unavailable("jupiter quote", fmt.Errorf("parse outAmount %q: %w", qr.OutAmount, err))
	}
	if expected == 0 {
		return nil, domain.NewError(domain.KindQuoteUnavailable, "jupiter quote: zero output", nil)
	}
	var impact float64
	if qr.PriceImpactPct != "" {
		impact, _ = strconv.ParseFloat(qr.PriceImpactPct, 64)
	}

	route, err := s.swapInstructions(ctx, raw)
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(qr.RoutePlan))
	for _, step := range qr.RoutePlan {
		labels = append(labels, step.SwapInfo.Label)
	}

	s.logger.Debug("jupiter.quote_received",
		zap.String("input_mint", p.InputMint),
		zap.String("output_mint", p.OutputMint),
		zap.Uint64("in_amount", p.Amount),
		zap.Uint64("out_amount", expected),
		zap.Strings("route", labels),
		zap.Int("lookup_tables", len(route.AddressTables)),
	)

	return &domain.Quote{
		InputMint:      p.InputMint,
		OutputMint:     p.OutputMint,
		InputAmount:    p.Amount,
		ExpectedOutput: expected,
		PriceImpactPct: impact,
		Route: domain.Route{
			Kind:    domain.RouteKindJupiter,
			Label:   strings.Join(labels, " > "),
			Hops:    len(qr.RoutePlan),
			Payload: route,
		},
		Timestamp: receivedAt,
	}, nil
}

// swapInstructions fetches the instruction set for a quote and resolves its lookup tables.
func (s *JupiterSource) swapInstructions(ctx context.Context, quoteResponse json.RawMessage) (*domain.JupiterRoute, error) {
	req := jupiterSwapRequest{
		QuoteResponse:           quoteResponse,
		UserPublicKey:           s.opts.UserPublicKey,
		WrapAndUnwrapSOL:        s.opts.WrapAndUnwrapSOL,
		DynamicComputeUnitLimit: s.opts.DynamicComputeUnitLimit,
	}

	var resp jupiterSwapInstructionsResponse
	if err := s.rest.postJSON(ctx, "/swap-instructions", req, &resp); err != nil {
		return nil, unavailable("jupiter swap-instructions", err)
	}
	if resp.Error != "" {
		return nil, domain.Errorf(domain.KindQuoteUnavailable, "jupiter swap-instructions: %s", resp.Error)
	}
	if resp.SwapInstruction == nil {
		return nil, domain.NewError(domain.KindQuoteUnavailable, "jupiter swap-instructions: missing swap instruction", nil)
	}

	route := &domain.JupiterRoute{}
	var err error
	if route.ComputeBudget, err = convertInstructions(resp.ComputeBudgetInstructions); err != nil {
		return nil, unavailable("jupiter compute budget instructions", err)
	}
	if route.Setup, err = convertInstructions(resp.SetupInstructions); err != nil {
		return nil, unavailable("jupiter setup instructions", err)
	}
	if route.Swap, err = resp.SwapInstruction.toDomain(); err != nil {
		return nil, unavailable("jupiter swap instruction", err)
	}
	if resp.CleanupInstruction != nil {
		cleanup, err := resp.CleanupInstruction.toDomain()
		if err != nil {
			return nil, unavailable("jupiter cleanup instruction", err)
		}
		route.Cleanup = &cleanup
	}
	if route.Other, err = convertInstructions(resp.OtherInstructions); err != nil {
		return nil, unavailable("jupiter other instructions", err)
	}

	route.AddressTables, err = ResolveLookupTables(ctx, s.chain, resp.AddressLookupTableAddresses)
	if err != nil {
		return nil, unavailable("jupiter lookup tables", err)
	}
	return route, nil
}

func unavailable(op string, err error) error {
	return domain.NewError(domain.KindQuoteUnavailable, op, err)
}

type jupiterQuoteResponse struct {
	InputMint            string             `json:"inputMint"`
	InAmount             string             `json:"inAmount"`
	OutputMint           string             `json:"outputMint"`
	OutAmount            string             `json:"outAmount"`
	OtherAmountThreshold string             `json:"otherAmountThreshold"`
	SwapMode             string             `json:"swapMode"`
	SlippageBps          int                `json:"slippageBps"`
	PriceImpactPct       string             `json:"priceImpactPct"`
	RoutePlan            []jupiterRoutePlan `json:"routePlan"`
	ContextSlot          uint64             `json:"contextSlot"`
	Error                string             `json:"error,omitempty"`
}

type jupiterRoutePlan struct {
	SwapInfo struct {
		AmmKey     string `json:"ammKey"`
		Label      string `json:"label"`
		InputMint  string `json:"inputMint"`
		OutputMint string `json:"outputMint"`
		InAmount   string `json:"inAmount"`
		OutAmount  string `json:"outAmount"`
	} `json:"swapInfo"`
	Percent int `json:"percent"`
}

type jupiterSwapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSOL        bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

type jupiterSwapInstructionsResponse struct {
	ComputeBudgetInstructions   []jupiterInstruction `json:"computeBudgetInstructions"`
	SetupInstructions           []jupiterInstruction `json:"setupInstructions"`
	SwapInstruction             *jupiterInstruction  `json:"swapInstruction"`
	CleanupInstruction          *jupiterInstruction  `json:"cleanupInstruction"`
	OtherInstructions           []jupiterInstruction `json:"otherInstructions"`
	AddressLookupTableAddresses []string             `json:"addressLookupTableAddresses"`
	Error                       string               `json:"error,omitempty"`
}

type jupiterInstruction struct {
	ProgramID string `json:"programId"`
	Accounts  []struct {
		Pubkey     string `json:"pubkey"`
		IsSigner   bool   `json:"isSigner"`
		IsWritable bool   `json:"isWritable"`
	} `json:"accounts"`
	Data string `json:"data"` // base64
}

func (in jupiterInstruction) toDomain() (domain.Instruction, error) {
	data, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		return domain.Instruction{}, fmt.Errorf("decode data of %s instruction: %w", in.ProgramID, err)
	}
	out := domain.Instruction{
		ProgramID: in.ProgramID,
		Accounts:  make([]domain.AccountMeta, len(in.Accounts)),
		Data:      data,
	}
	for i, a := range in.Accounts {
		out.Accounts[i] = domain.AccountMeta{Pubkey: a.Pubkey, IsSigner: a.IsSigner, IsWritable: a.IsWritable}
	}
	return out, nil
}

func convertInstructions(in []jupiterInstruction) ([]domain.Instruction, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]domain.Instruction, 0, len(in))
	for _, ix := range in {
		converted, err := ix.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}
