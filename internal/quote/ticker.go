// Package quote resolves user-supplied symbols into normalized trading pairs
// and live prices against the Binance 24-hour ticker statistics endpoint.
package quote

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"github.com/rxtech-lab/paper-trading/internal/types"
	"github.com/rxtech-lab/paper-trading/pkg/errors"
)

// Service interfaces for mocking the Binance API

// PriceChangeStatsService interface for fetching 24hr ticker statistics.
type PriceChangeStatsService interface {
	Symbol(symbol string) PriceChangeStatsService
	Do(ctx context.Context) ([]*binance.PriceChangeStats, error)
}

// TickerClient interface abstracts the Binance client for testing.
type TickerClient interface {
	NewListPriceChangeStatsService() PriceChangeStatsService
}

// realTickerClient wraps the actual binance.Client.
type realTickerClient struct {
	client *binance.Client
}

func (r *realTickerClient) NewListPriceChangeStatsService() PriceChangeStatsService {
	return &realPriceChangeStatsService{service: r.client.NewListPriceChangeStatsService()}
}

type realPriceChangeStatsService struct {
	service *binance.ListPriceChangeStatsService
}

func (s *realPriceChangeStatsService) Symbol(symbol string) PriceChangeStatsService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realPriceChangeStatsService) Do(ctx context.Context) ([]*binance.PriceChangeStats, error) {
	return s.service.Do(ctx)
}

// NewBinanceTickerClient creates a TickerClient backed by the public Binance
// REST API. The ticker endpoint needs no credentials. The returned client
// holds no per-call mutable state and is safe for concurrent use.
// If baseURL is non-empty it overrides the default endpoint (e.g. testnet).
func NewBinanceTickerClient(baseURL string) TickerClient {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}

	return &realTickerClient{client: client}
}

// FetchTicker fetches the latest 24-hour statistics for an already-normalized
// symbol and converts them into a Quote.
func FetchTicker(ctx context.Context, client TickerClient, symbol string) (types.Quote, error) {
	stats, err := client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return types.Quote{}, classifyFetchError(symbol, err)
	}

	if len(stats) == 0 {
		return types.Quote{}, errors.Newf(errors.ErrCodeSymbolNotFound, "no ticker statistics for symbol %s", symbol)
	}

	return convertPriceChangeStats(stats[0])
}

// classifyFetchError maps a transport failure onto the error taxonomy. A
// Binance API rejection (unknown or malformed pair) is a symbol-not-found,
// which is the only failure kind the resolver retries with a fallback pair.
// A context timeout means the quote source is unreachable within the bound.
// Anything else is an unexpected system fault and is never retried.
func classifyFetchError(symbol string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return errors.Wrapf(errors.ErrCodeSymbolNotFound, err, "exchange rejected symbol %s", symbol)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Wrapf(errors.ErrCodeQuoteUnavailable, err, "ticker fetch timed out for symbol %s", symbol)
	}

	return errors.Wrapf(errors.ErrCodeSystemFailure, err, "ticker fetch failed for symbol %s", symbol)
}

// convertPriceChangeStats converts Binance 24hr statistics to a Quote.
// Binance reports every numeric field as a string; each price field must
// parse as a decimal for the quote to be usable.
func convertPriceChangeStats(stats *binance.PriceChangeStats) (types.Quote, error) {
	lastPrice, err := decimal.NewFromString(stats.LastPrice)
	if err != nil {
		return types.Quote{}, errors.Wrapf(errors.ErrCodeSystemFailure, err, "unparsable last price %q for symbol %s", stats.LastPrice, stats.Symbol)
	}

	return types.Quote{
		Symbol:             stats.Symbol,
		LastPrice:          lastPrice,
		HighPrice:          parseOrZero(stats.HighPrice),
		LowPrice:           parseOrZero(stats.LowPrice),
		PriceChangePercent: stats.PriceChangePercent,
		Volume:             parseOrZero(stats.Volume),
		WeightedAvgPrice:   parseOrZero(stats.WeightedAvgPrice),
	}, nil
}

// parseOrZero parses a decimal field that is informational only. The
// statistics fields fall back to zero rather than failing the whole quote.
func parseOrZero(value string) decimal.Decimal {
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}

	return parsed
}

// Ensure the real client satisfies the interface.
var _ TickerClient = (*realTickerClient)(nil)
