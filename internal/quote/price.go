package quote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultPriceBaseURL is the Jupiter price API v2 endpoint.
const DefaultPriceBaseURL = "https://api.jup.ag/price/v2"

// ErrPriceUnavailable is returned when the price API has no price for a mint.
var ErrPriceUnavailable = errors.New("price data not available")

// PriceSource looks up USDC denominated token prices.
type PriceSource struct {
	rest *restClient
}

// NewPriceSource creates a Jupiter price source.
func NewPriceSource(baseURL, apiKey string, httpClient *http.Client, rps float64, logger *zap.Logger) *PriceSource {
	if baseURL == "" {
		baseURL = DefaultPriceBaseURL
	}
	return &PriceSource{
		rest: newRESTClient("jupiter_price", strings.TrimRight(baseURL, "/"), apiKey, httpClient, rps, logger),
	}
}

// Price returns the price of one whole token of mint in USDC.
func (s *PriceSource) Price(ctx context.Context, mint string) (decimal.Decimal, error) {
	var resp struct {
		Data map[string]*struct {
			ID    string `json:"id"`
			Type  string `json:"type"`
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := s.rest.getJSON(ctx, "?ids="+url.QueryEscape(mint), &resp); err != nil {
		return decimal.Zero, fmt.Errorf("fetch price: %w", err)
	}

	entry := resp.Data[mint]
	if entry == nil || entry.Price == "" {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, mint)
	}
	price, err := decimal.NewFromString(entry.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", entry.Price, err)
	}
	return price, nil
}
