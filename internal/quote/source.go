// Package quote fetches priced routes from external oracles.
//
// Sources perform one logical quote request and never retry; the trade
// orchestrator decides whether a new quote is worth fetching.
package quote

import (
	"context"
	"strings"

	"solana-swap-engine/internal/domain"
)

// RaydiumHintPrefix selects a direct Raydium AMM v4 pool, e.g. "raydium:<amm id>".
const RaydiumHintPrefix = "raydium:"

// Params is the input of a quote request.
type Params struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps uint16
	RouteHint   string
}

// Source returns a priced route for Params. It fails with QUOTE_UNAVAILABLE
// when no viable route exists and never reports QUOTE_EXPIRED.
type Source interface {
	Quote(ctx context.Context, p Params) (*domain.Quote, error)
}

// Router dispatches to a direct pool source when the route hint names one
// and to the aggregator otherwise.
type Router struct {
	aggregator Source
	raydium    Source
}

// NewRouter creates a Router. raydium may be nil, in which case Raydium hints
// are rejected as unavailable.
func NewRouter(aggregator, raydium Source) *Router {
	return &Router{aggregator: aggregator, raydium: raydium}
}

// Quote implements Source.
func (r *Router) Quote(ctx context.Context, p Params) (*domain.Quote, error) {
	if strings.HasPrefix(p.RouteHint, RaydiumHintPrefix) {
		if r.raydium == nil {
			return nil, domain.NewError(domain.KindQuoteUnavailable, "raydium direct routes are not enabled", nil)
		}
		return r.raydium.Quote(ctx, p)
	}
	return r.aggregator.Quote(ctx, p)
}
