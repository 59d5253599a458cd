package quote

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rxtech-lab/paper-trading/internal/logger"
	"github.com/rxtech-lab/paper-trading/internal/types"
	"github.com/rxtech-lab/paper-trading/pkg/errors"
)

const (
	// QuoteSuffix is the quote-currency suffix required by the exchange.
	// Users type bare tickers ("BTC"); the API wants a full pair ("BTCUSDT").
	QuoteSuffix = "USDT"

	// DefaultFetchTimeout bounds a single ticker fetch so a stalled quote
	// source fails the call instead of blocking the caller indefinitely.
	DefaultFetchTimeout = 10 * time.Second
)

// Normalize trims whitespace and uppercases a user-supplied symbol.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// FormatPair normalizes a symbol and appends the quote-currency suffix when
// absent, producing the canonical pair used for all downstream state keys.
func FormatPair(raw string) string {
	symbol := Normalize(raw)
	if !strings.HasSuffix(symbol, QuoteSuffix) {
		return symbol + QuoteSuffix
	}

	return symbol
}

// Resolver resolves user-supplied symbols into quotes. It holds a single
// shared, stateless ticker client and owns no per-call mutable state, so it
// is safe for concurrent use. Every call is a fresh fetch; quotes are never
// cached because trade pricing must reflect current market state.
type Resolver struct {
	client  TickerClient
	timeout time.Duration
	log     *logger.Logger
}

// NewResolver creates a Resolver. A non-positive timeout falls back to
// DefaultFetchTimeout.
func NewResolver(client TickerClient, timeout time.Duration, log *logger.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	return &Resolver{
		client:  client,
		timeout: timeout,
		log:     log,
	}
}

// GetQuote fetches the latest 24h statistics for a symbol. The symbol is
// normalized first; if the fetch is rejected as an unknown pair and the
// symbol does not already carry the quote-currency suffix, one fallback
// attempt is made with the suffix appended. When both attempts fail, the
// original failure is surfaced so the reported error reflects the user's
// actual input. Other fault kinds propagate without retry.
func (r *Resolver) GetQuote(ctx context.Context, rawSymbol string) (types.Quote, error) {
	symbol := Normalize(rawSymbol)

	quote, err := r.fetch(ctx, symbol)
	if err == nil {
		return quote, nil
	}

	if !errors.HasCode(err, errors.ErrCodeSymbolNotFound) {
		return types.Quote{}, err
	}

	if strings.HasSuffix(symbol, QuoteSuffix) {
		return types.Quote{}, errors.Wrapf(errors.ErrCodeQuoteUnavailable, err, "no market data for symbol %s", symbol)
	}

	fallback := symbol + QuoteSuffix

	quote, retryErr := r.fetch(ctx, fallback)
	if retryErr != nil {
		r.log.Debug("fallback symbol lookup failed",
			zap.String("symbol", symbol),
			zap.String("fallback", fallback),
			zap.Error(retryErr),
		)

		// Surface the failure for the symbol the user actually typed.
		return types.Quote{}, errors.Wrapf(errors.ErrCodeQuoteUnavailable, err, "no market data for symbol %s", symbol)
	}

	return quote, nil
}

// ResolvePrice resolves a raw symbol into the normalized pair that produced a
// successful fetch and its last-trade price.
func (r *Resolver) ResolvePrice(ctx context.Context, rawSymbol string) (string, decimal.Decimal, error) {
	quote, err := r.GetQuote(ctx, rawSymbol)
	if err != nil {
		return "", decimal.Zero, err
	}

	return quote.Symbol, quote.LastPrice, nil
}

// fetch performs one bounded ticker fetch.
func (r *Resolver) fetch(ctx context.Context, symbol string) (types.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return FetchTicker(ctx, r.client, symbol)
}
