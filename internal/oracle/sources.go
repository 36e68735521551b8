package oracle

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/solana-relay/kora/internal/apperr"
)

// JupiterSource queries Jupiter's price API, the default source the
// teacher's own HTTP client idiom (resty with a base URL and a
// per-call .R().SetContext()) is built to serve.
type JupiterSource struct {
	client  *resty.Client
	baseURL string
}

func NewJupiterSource(baseURL string, timeout time.Duration) *JupiterSource {
	if baseURL == "" {
		baseURL = "https://price.jup.ag/v6"
	}
	client := resty.New().SetBaseURL(baseURL).SetTimeout(timeout)
	return &JupiterSource{client: client, baseURL: baseURL}
}

func (s *JupiterSource) Name() string { return "jupiter" }

type jupiterPriceResponse struct {
	Data map[string]struct {
		Price string `json:"price"`
	} `json:"data"`
}

func (s *JupiterSource) Fetch(ctx context.Context, mint string) (PricePoint, error) {
	var result jupiterPriceResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("ids", mint).
		SetQueryParam("vsToken", "So11111111111111111111111111111111111111112").
		SetResult(&result).
		Get("/price")
	if err != nil {
		return PricePoint{}, apperr.RPC("jupiter price request failed: %v", err)
	}
	if resp.IsError() {
		return PricePoint{}, apperr.RPC("jupiter price request returned status %d", resp.StatusCode())
	}
	entry, ok := result.Data[mint]
	if !ok {
		return PricePoint{}, apperr.RPC("jupiter returned no price for mint %s", mint)
	}
	price, err := decimal.NewFromString(entry.Price)
	if err != nil {
		return PricePoint{}, apperr.RPC("jupiter price %q unparsable: %v", entry.Price, err)
	}
	return PricePoint{PriceUSD: price, Confidence: 0.9, Source: s.Name()}, nil
}

// PythSource queries a Pyth Hermes price feed, identified by feed ID
// rather than mint (Pyth's price accounts are keyed by asset, not by
// the SPL mint they track; the caller supplies the mapping).
type PythSource struct {
	client  *resty.Client
	feedIDs map[string]string // mint -> pyth feed id
}

func NewPythSource(baseURL string, feedIDs map[string]string, timeout time.Duration) *PythSource {
	if baseURL == "" {
		baseURL = "https://hermes.pyth.network"
	}
	client := resty.New().SetBaseURL(baseURL).SetTimeout(timeout)
	return &PythSource{client: client, feedIDs: feedIDs}
}

func (s *PythSource) Name() string { return "pyth" }

type pythLatestPriceResponse struct {
	Parsed []struct {
		Price struct {
			Price       string `json:"price"`
			Expo        int    `json:"expo"`
			Confidence  string `json:"conf"`
		} `json:"price"`
	} `json:"parsed"`
}

func (s *PythSource) Fetch(ctx context.Context, mint string) (PricePoint, error) {
	feedID, ok := s.feedIDs[mint]
	if !ok {
		return PricePoint{}, apperr.RPC("pyth: no feed id configured for mint %s", mint)
	}

	var result pythLatestPriceResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("ids[]", feedID).
		SetResult(&result).
		Get("/v2/updates/price/latest")
	if err != nil {
		return PricePoint{}, apperr.RPC("pyth price request failed: %v", err)
	}
	if resp.IsError() {
		return PricePoint{}, apperr.RPC("pyth price request returned status %d", resp.StatusCode())
	}
	if len(result.Parsed) == 0 {
		return PricePoint{}, apperr.RPC("pyth returned no price for feed %s", feedID)
	}
	raw := result.Parsed[0].Price
	mantissa, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return PricePoint{}, apperr.RPC("pyth price %q unparsable: %v", raw.Price, err)
	}
	price := mantissa.Shift(int32(raw.Expo))
	return PricePoint{PriceUSD: price, Confidence: 0.85, Source: s.Name()}, nil
}

// MockSource serves a fixed, operator-configured price per mint, for
// local development and test networks where no real price feed is
// reachable (spec.md §4.C lists "mock" alongside Jupiter/Pyth).
type MockSource struct {
	prices map[string]decimal.Decimal
}

func NewMockSource(prices map[string]decimal.Decimal) *MockSource {
	return &MockSource{prices: prices}
}

func (s *MockSource) Name() string { return "mock" }

func (s *MockSource) Fetch(_ context.Context, mint string) (PricePoint, error) {
	price, ok := s.prices[mint]
	if !ok {
		return PricePoint{}, apperr.RPC("mock source: no price configured for mint %s", mint)
	}
	return PricePoint{PriceUSD: price, Confidence: 1.0, Source: s.Name()}, nil
}
