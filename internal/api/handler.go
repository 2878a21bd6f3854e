package api

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/idhash"
	"solana-swap-engine/internal/observability"
	"solana-swap-engine/internal/reconcile"
	"solana-swap-engine/internal/storage"
)

// TradeExecutor runs trades. Implemented by orchestrator.Orchestrator.
type TradeExecutor interface {
	NewTradeID() string
	ExecuteTradeWithID(ctx context.Context, tradeID string, req domain.TradeRequest) (domain.TradeResult, error)
}

// PriceLookup returns the USDC price of one whole token.
type PriceLookup interface {
	Price(ctx context.Context, mint string) (decimal.Decimal, error)
}

// Reconciler re-checks a timed-out trade.
type Reconciler interface {
	Reconcile(ctx context.Context, tradeID string) (*domain.Reconciliation, error)
}

// HealthCheck is a named dependency probe for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options configures a Handler.
type Options struct {
	Executor        TradeExecutor
	Trades          storage.TradeStore
	Reconciliations storage.ReconciliationStore

	// Optional
	Prices       PriceLookup
	Reconciler   Reconciler
	Idempotency  *IdempotencyGuard
	HealthChecks []HealthCheck
	Metrics      *observability.Metrics
	Logger       *zap.Logger

	// TradeTimeout bounds a synchronous trade. Zero means no bound beyond the
	// engine's own deadlines.
	TradeTimeout time.Duration
}

// Handler serves the trade API.
type Handler struct {
	opts   Options
	logger *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{opts: opts, logger: opts.Logger}
}

// CreateTrade executes a trade and responds with its terminal result.
// Every terminal outcome is 200; the outcome is in the body.
func (h *Handler) CreateTrade(c *fiber.Ctx) error {
	var body CreateTradeRequest
	if err := c.BodyParser(&body); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}
	req, err := body.toDomain()
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := c.UserContext()
	tradeID := h.opts.Executor.NewTradeID()

	if key := c.Get("Idempotency-Key"); key != "" && h.opts.Idempotency != nil {
		if len(key) > 255 {
			return errorResponse(c, fiber.StatusBadRequest, "Idempotency-Key longer than 255 characters")
		}
		claim, err := h.opts.Idempotency.Claim(ctx, key, idhash.ComputeRequestFingerprint(req), tradeID)
		if errors.Is(err, ErrFingerprintMismatch) {
			return errorResponse(c, fiber.StatusUnprocessableEntity, err.Error())
		}
		if err != nil {
			h.logger.Error("api.idempotency_failed", zap.Error(err))
			return errorResponse(c, fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}
		if !claim.Fresh {
			return h.replay(c, claim.TradeID)
		}
	}

	if h.opts.TradeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.TradeTimeout)
		defer cancel()
	}

	started := time.Now()
	res, err := h.opts.Executor.ExecuteTradeWithID(ctx, tradeID, req)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	return c.Status(fiber.StatusOK).JSON(newTradeResponse(domain.NewTradeRecord(req, res, started)))
}

func (h *Handler) replay(c *fiber.Ctx, tradeID string) error {
	if h.opts.Metrics != nil {
		h.opts.Metrics.IdempotentReplays.Inc()
	}
	c.Set("Idempotent-Replayed", "true")

	rec, err := h.opts.Trades.GetByID(c.UserContext(), tradeID)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"trade_id": tradeID,
			"status":   "IN_PROGRESS",
		})
	}
	if err != nil {
		return h.storageError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(newTradeResponse(rec))
}

// GetTrade returns a journaled trade.
func (h *Handler) GetTrade(c *fiber.Ctx) error {
	rec, err := h.opts.Trades.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.storageError(c, err)
	}
	return c.JSON(newTradeResponse(rec))
}

// GetReconciliation returns the chain checks recorded for a trade.
func (h *Handler) GetReconciliation(c *fiber.Ctx) error {
	tradeID := c.Params("id")
	if _, err := h.opts.Trades.GetByID(c.UserContext(), tradeID); err != nil {
		return h.storageError(c, err)
	}
	recs, err := h.opts.Reconciliations.GetByTradeID(c.UserContext(), tradeID)
	if err != nil {
		return h.storageError(c, err)
	}

	out := make([]ReconciliationResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, newReconciliationResponse(r))
	}
	return c.JSON(fiber.Map{"trade_id": tradeID, "checks": out})
}

// Reconcile runs a chain check for a timed-out trade now.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	if h.opts.Reconciler == nil {
		return errorResponse(c, fiber.StatusNotImplemented, "reconciliation disabled")
	}
	rec, err := h.opts.Reconciler.Reconcile(c.UserContext(), c.Params("id"))
	if errors.Is(err, reconcile.ErrNotReconcilable) {
		return errorResponse(c, fiber.StatusConflict, err.Error())
	}
	if err != nil {
		return h.storageError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(newReconciliationResponse(rec))
}

// GetPrice returns the USDC price of a token.
func (h *Handler) GetPrice(c *fiber.Ctx) error {
	if h.opts.Prices == nil {
		return errorResponse(c, fiber.StatusNotImplemented, "price lookup disabled")
	}
	mint, err := domain.ResolveAsset(c.Params("mint"))
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}
	price, err := h.opts.Prices.Price(c.UserContext(), mint)
	if err != nil {
		h.logger.Warn("api.price_failed", zap.String("mint", mint), zap.Error(err))
		return errorResponse(c, fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(fiber.Map{"mint": mint, "price": price.String(), "vs": domain.MintUSDC})
}

// Health reports dependency status.
func (h *Handler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.opts.HealthChecks))
	status, code := "ok", fiber.StatusOK
	for _, hc := range h.opts.HealthChecks {
		if err := hc.Check(ctx); err != nil {
			checks[hc.Name] = err.Error()
			status, code = "degraded", fiber.StatusServiceUnavailable
			continue
		}
		checks[hc.Name] = "ok"
	}
	return c.Status(code).JSON(fiber.Map{"status": status, "checks": checks})
}

func (h *Handler) storageError(c *fiber.Ctx, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errorResponse(c, fiber.StatusNotFound, "trade not found")
	}
	h.logger.Error("api.storage_failed", zap.String("path", c.Path()), zap.Error(err))
	return errorResponse(c, fiber.StatusInternalServerError, "storage error")
}

func errorResponse(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// CreateTradeRequest is the body of POST /api/v1/trades. Give either
// input_amount in smallest units or amount in whole tokens.
type CreateTradeRequest struct {
	InputMint   string  `json:"input_mint"` // mint or symbol, defaults to USDC
	OutputMint  string  `json:"output_mint"`
	InputAmount string  `json:"input_amount"`
	Amount      string  `json:"amount"`
	Decimals    *int32  `json:"decimals"` // required with amount for unknown mints
	SlippageBps *uint16 `json:"slippage_bps"`
	RouteHint   string  `json:"route_hint"`
}

func (r CreateTradeRequest) toDomain() (domain.TradeRequest, error) {
	in := r.InputMint
	if in == "" {
		in = domain.DefaultInputMint
	}
	inputMint, err := domain.ResolveAsset(in)
	if err != nil {
		return domain.TradeRequest{}, errors.New("input_mint: " + err.Error())
	}
	outputMint, err := domain.ResolveAsset(r.OutputMint)
	if err != nil {
		return domain.TradeRequest{}, errors.New("output_mint: " + err.Error())
	}

	var amount uint64
	switch {
	case r.InputAmount != "" && r.Amount != "":
		return domain.TradeRequest{}, errors.New("give input_amount or amount, not both")
	case r.InputAmount != "":
		amount, err = strconv.ParseUint(strings.TrimSpace(r.InputAmount), 10, 64)
		if err != nil {
			return domain.TradeRequest{}, errors.New("input_amount must be an unsigned integer")
		}
	case r.Amount != "":
		decimals, ok := domain.KnownDecimals(inputMint)
		if r.Decimals != nil {
			decimals, ok = *r.Decimals, true
		}
		if !ok {
			return domain.TradeRequest{}, errors.New("decimals is required for " + inputMint)
		}
		amount, err = domain.ToBaseUnits(r.Amount, decimals)
		if err != nil {
			return domain.TradeRequest{}, err
		}
	default:
		return domain.TradeRequest{}, errors.New("input_amount or amount is required")
	}

	slippage := domain.DefaultSlippageBps
	if r.SlippageBps != nil {
		slippage = *r.SlippageBps
	}

	return domain.TradeRequest{
		InputMint:   inputMint,
		OutputMint:  outputMint,
		InputAmount: amount,
		SlippageBps: slippage,
		RouteHint:   r.RouteHint,
	}, nil
}

// TradeResponse is the API form of a trade. Amounts are decimal strings.
type TradeResponse struct {
	TradeID        string  `json:"trade_id"`
	Outcome        string  `json:"outcome"`
	Signature      string  `json:"signature,omitempty"`
	InputMint      string  `json:"input_mint"`
	OutputMint     string  `json:"output_mint"`
	InputAmount    uint64  `json:"input_amount,string"`
	SlippageBps    uint16  `json:"slippage_bps"`
	RouteHint      string  `json:"route_hint,omitempty"`
	ExpectedOutput uint64  `json:"expected_output,string"`
	MinimumOutput  uint64  `json:"minimum_output,string"`
	OutputObserved *uint64 `json:"output_observed,string,omitempty"`
	PriceImpactPct float64 `json:"price_impact_pct"`
	FailureKind    string  `json:"failure_kind,omitempty"`
	FailureReason  string  `json:"failure_reason,omitempty"`
	Attempts       int     `json:"attempts"`
	StartedAt      int64   `json:"started_at"`
	CompletedAt    int64   `json:"completed_at"`
}

func newTradeResponse(r *domain.TradeRecord) TradeResponse {
	return TradeResponse{
		TradeID:        r.TradeID,
		Outcome:        r.Outcome.String(),
		Signature:      r.Signature,
		InputMint:      r.InputMint,
		OutputMint:     r.OutputMint,
		InputAmount:    r.InputAmount,
		SlippageBps:    r.SlippageBps,
		RouteHint:      r.RouteHint,
		ExpectedOutput: r.ExpectedOutput,
		MinimumOutput:  r.MinimumOutput,
		OutputObserved: r.OutputObserved,
		PriceImpactPct: r.PriceImpactPct,
		FailureKind:    r.FailureKind,
		FailureReason:  r.FailureReason,
		Attempts:       r.Attempts,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
	}
}

// ReconciliationResponse is the API form of a chain check.
type ReconciliationResponse struct {
	Signature string `json:"signature"`
	CheckedAt int64  `json:"checked_at"`
	Status    string `json:"status"`
	Slot      uint64 `json:"slot,omitempty"`
	ChainErr  string `json:"chain_err,omitempty"`
}

func newReconciliationResponse(r *domain.Reconciliation) ReconciliationResponse {
	return ReconciliationResponse{
		Signature: r.Signature,
		CheckedAt: r.CheckedAt,
		Status:    string(r.Status),
		Slot:      r.Slot,
		ChainErr:  r.ChainErr,
	}
}
