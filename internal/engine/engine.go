// Package engine implements the trading engine: it resolves buy and sell
// requests into consistent balance and position updates against the account
// store, priced by the quote resolver.
package engine

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rxtech-lab/paper-trading/internal/logger"
	"github.com/rxtech-lab/paper-trading/internal/quote"
	"github.com/rxtech-lab/paper-trading/internal/store"
	"github.com/rxtech-lab/paper-trading/internal/types"
	"github.com/rxtech-lab/paper-trading/pkg/errors"
)

// PriceResolver is the price resolution capability the engine depends on.
type PriceResolver interface {
	// GetQuote returns the latest 24h statistics for a symbol.
	GetQuote(ctx context.Context, rawSymbol string) (types.Quote, error)
	// ResolvePrice returns the normalized symbol that produced a successful
	// fetch and its last-trade price.
	ResolvePrice(ctx context.Context, rawSymbol string) (string, decimal.Decimal, error)
}

// Engine orchestrates buy/sell/wallet operations. It keeps no session state
// of its own: all durable state lives in the account store, and the engine
// obtains working copies per call.
//
// Operations for the same identity are serialized through a per-identity
// lock so two concurrent buys cannot both spend the same balance. Operations
// for different identities proceed fully in parallel. The lock is never held
// across the price fetch.
type Engine struct {
	store    store.AccountStore
	resolver PriceResolver
	log      *logger.Logger
	locks    identityLocks
}

// NewEngine creates a trading engine.
func NewEngine(accountStore store.AccountStore, resolver PriceResolver, log *logger.Logger) *Engine {
	return &Engine{
		store:    accountStore,
		resolver: resolver,
		log:      log,
		locks:    identityLocks{locks: make(map[int64]*sync.Mutex)},
	}
}

// identityLocks hands out one mutex per identity key. Entries are retained
// for the lifetime of the engine; the per-account footprint is a single
// mutex.
type identityLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (l *identityLocks) forIdentity(identityKey int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[identityKey]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[identityKey] = lock
	}

	return lock
}

// Buy purchases quantity of the asset named by rawSymbol at the current
// market price. The returned string is always human readable: expected
// business outcomes (bad quantity, unresolvable quote, insufficient funds)
// are recovered into messages, and only unexpected system faults return a
// non-nil error.
func (e *Engine) Buy(ctx context.Context, identityKey int64, displayName, rawSymbol string, quantity decimal.Decimal) (string, error) {
	report, err := e.executeBuy(ctx, identityKey, displayName, rawSymbol, quantity)
	if err != nil {
		return e.recover(err, rawSymbol, "buy", identityKey)
	}

	return FormatTradeReport(report), nil
}

// Sell sells quantity of a held asset at the current market price. Result
// semantics match Buy.
func (e *Engine) Sell(ctx context.Context, identityKey int64, displayName, rawSymbol string, quantity decimal.Decimal) (string, error) {
	report, err := e.executeSell(ctx, identityKey, displayName, rawSymbol, quantity)
	if err != nil {
		return e.recover(err, rawSymbol, "sell", identityKey)
	}

	return FormatTradeReport(report), nil
}

// Wallet renders the identity's current balance and non-zero holdings. An
// unknown identity is an informational result, not a failure.
func (e *Engine) Wallet(ctx context.Context, identityKey int64) (string, error) {
	account, err := e.store.GetAccount(ctx, identityKey)
	if err != nil {
		return "", err
	}

	if account.IsNone() {
		return MsgNoAccount, nil
	}

	positions, err := e.store.ListPositions(ctx, identityKey)
	if err != nil {
		return "", err
	}

	return FormatWalletReport(account.Unwrap(), positions), nil
}

// MarketReport renders the 24h market statistics for a symbol. An
// unresolvable symbol is recovered into the standard market-data message.
func (e *Engine) MarketReport(ctx context.Context, rawSymbol string) (string, error) {
	q, err := e.resolver.GetQuote(ctx, rawSymbol)
	if err != nil {
		return e.recover(err, rawSymbol, "market report", 0)
	}

	return FormatMarketReport(q), nil
}

// executeBuy runs the buy state machine. No state is mutated before the
// funds check passes; the commit point is the single transactional write.
func (e *Engine) executeBuy(ctx context.Context, identityKey int64, displayName, rawSymbol string, quantity decimal.Decimal) (types.TradeReport, error) {
	quantity, err := checkQuantity(quantity)
	if err != nil {
		return types.TradeReport{}, err
	}

	// Canonicalize before anything else so all downstream state keys use
	// the full trading pair.
	pair := quote.FormatPair(rawSymbol)

	if _, err := e.store.GetOrCreate(ctx, identityKey, displayName); err != nil {
		return types.TradeReport{}, err
	}

	// Price fetch happens outside the identity lock.
	symbol, price, err := e.resolver.ResolvePrice(ctx, pair)
	if err != nil {
		return types.TradeReport{}, err
	}

	lock := e.locks.forIdentity(identityKey)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: the balance may have changed since the
	// unlocked fetch above.
	account, err := e.mustGetAccount(ctx, identityKey)
	if err != nil {
		return types.TradeReport{}, err
	}

	cost := price.Mul(quantity)
	if account.CashBalance.LessThan(cost) {
		return types.TradeReport{}, errors.Newf(errors.ErrCodeInsufficientFunds,
			"cost %s exceeds balance %s", cost.StringFixed(2), account.CashBalance.StringFixed(2))
	}

	account.CashBalance = account.CashBalance.Sub(cost)

	position, err := e.positionOrEmpty(ctx, identityKey, symbol)
	if err != nil {
		return types.TradeReport{}, err
	}

	position.Quantity = position.Quantity.Add(quantity)

	if err := e.store.ApplyTrade(ctx, account, position); err != nil {
		return types.TradeReport{}, err
	}

	e.log.Info("trade executed",
		zap.String("action", string(types.TradeActionBought)),
		zap.Int64("identityKey", identityKey),
		zap.String("symbol", symbol),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()),
	)

	return types.TradeReport{
		Action:     types.TradeActionBought,
		Symbol:     symbol,
		Quantity:   quantity,
		Price:      price,
		Total:      cost,
		NewBalance: account.CashBalance,
	}, nil
}

// executeSell runs the sell state machine. The holdings pre-check runs
// before the price fetch so an obviously doomed sell never touches the
// quote source.
func (e *Engine) executeSell(ctx context.Context, identityKey int64, displayName, rawSymbol string, quantity decimal.Decimal) (types.TradeReport, error) {
	quantity, err := checkQuantity(quantity)
	if err != nil {
		return types.TradeReport{}, err
	}

	pair := quote.FormatPair(rawSymbol)

	if _, err := e.store.GetOrCreate(ctx, identityKey, displayName); err != nil {
		return types.TradeReport{}, err
	}

	held, err := e.store.GetPosition(ctx, identityKey, pair)
	if err != nil {
		return types.TradeReport{}, err
	}

	if held.IsNone() || held.Unwrap().Quantity.LessThan(quantity) {
		return types.TradeReport{}, errors.Newf(errors.ErrCodeInsufficientHoldings,
			"not enough %s held to sell %s", pair, quantity)
	}

	symbol, price, err := e.resolver.ResolvePrice(ctx, pair)
	if err != nil {
		return types.TradeReport{}, err
	}

	lock := e.locks.forIdentity(identityKey)
	lock.Lock()
	defer lock.Unlock()

	account, err := e.mustGetAccount(ctx, identityKey)
	if err != nil {
		return types.TradeReport{}, err
	}

	// Re-check holdings under the lock; a concurrent sell may have reduced
	// them since the unlocked pre-check.
	position, err := e.store.GetPosition(ctx, identityKey, symbol)
	if err != nil {
		return types.TradeReport{}, err
	}

	if position.IsNone() || position.Unwrap().Quantity.LessThan(quantity) {
		return types.TradeReport{}, errors.Newf(errors.ErrCodeInsufficientHoldings,
			"not enough %s held to sell %s", symbol, quantity)
	}

	proceeds := price.Mul(quantity)
	account.CashBalance = account.CashBalance.Add(proceeds)

	remaining := position.Unwrap()
	remaining.Quantity = remaining.Quantity.Sub(quantity)

	// A zero remaining quantity drops the row inside the same transaction,
	// so the wallet never shows a zero holding.
	if err := e.store.ApplyTrade(ctx, account, remaining); err != nil {
		return types.TradeReport{}, err
	}

	e.log.Info("trade executed",
		zap.String("action", string(types.TradeActionSold)),
		zap.Int64("identityKey", identityKey),
		zap.String("symbol", symbol),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()),
	)

	return types.TradeReport{
		Action:     types.TradeActionSold,
		Symbol:     symbol,
		Quantity:   quantity,
		Price:      price,
		Total:      proceeds,
		NewBalance: account.CashBalance,
	}, nil
}

// checkQuantity quantizes a requested trade quantity to the held scale and
// rejects anything that is not positive afterwards. An amount too small to
// register at eight fractional digits is an invalid quantity.
func checkQuantity(quantity decimal.Decimal) (decimal.Decimal, error) {
	quantity = quantity.Round(quantityScale)
	if !quantity.IsPositive() {
		return decimal.Zero, errors.Newf(errors.ErrCodeInvalidQuantity, "quantity must be positive, got %s", quantity)
	}

	return quantity, nil
}

// mustGetAccount reads an account that is known to exist.
func (e *Engine) mustGetAccount(ctx context.Context, identityKey int64) (types.Account, error) {
	account, err := e.store.GetAccount(ctx, identityKey)
	if err != nil {
		return types.Account{}, err
	}

	if account.IsNone() {
		return types.Account{}, errors.Newf(errors.ErrCodeAccountNotFound, "account %d disappeared mid-trade", identityKey)
	}

	return account.Unwrap(), nil
}

// positionOrEmpty loads the position for (identityKey, symbol) or returns a
// zero-quantity working copy.
func (e *Engine) positionOrEmpty(ctx context.Context, identityKey int64, symbol string) (types.Position, error) {
	held, err := e.store.GetPosition(ctx, identityKey, symbol)
	if err != nil {
		return types.Position{}, err
	}

	if held.IsSome() {
		return held.Unwrap(), nil
	}

	return types.Position{
		IdentityKey: identityKey,
		Symbol:      symbol,
		Quantity:    decimal.Zero,
	}, nil
}

// recover maps a business-outcome error onto its stable user-facing message.
// System faults are logged with detail and propagated for the front end to
// render generically.
func (e *Engine) recover(err error, rawSymbol, operation string, identityKey int64) (string, error) {
	if errors.IsBusiness(err) {
		return BusinessMessage(err, rawSymbol), nil
	}

	e.log.Error("operation failed",
		zap.String("operation", operation),
		zap.Int64("identityKey", identityKey),
		zap.String("symbol", rawSymbol),
		zap.Error(err),
	)

	return "", err
}
