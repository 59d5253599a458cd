package engine

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/paper-trading/internal/logger"
	"github.com/rxtech-lab/paper-trading/internal/quote"
	"github.com/rxtech-lab/paper-trading/internal/store"
	"github.com/rxtech-lab/paper-trading/internal/types"
	"github.com/rxtech-lab/paper-trading/pkg/errors"
)

// stubResolver implements PriceResolver with a fixed price. Every call is
// counted so tests can assert whether a price fetch happened.
type stubResolver struct {
	price decimal.Decimal
	err   error
	calls atomic.Int64
}

func newStubResolver(price string) *stubResolver {
	return &stubResolver{price: decimal.RequireFromString(price)}
}

func (s *stubResolver) ResolvePrice(ctx context.Context, rawSymbol string) (string, decimal.Decimal, error) {
	s.calls.Add(1)

	if s.err != nil {
		return "", decimal.Zero, s.err
	}

	return quote.FormatPair(rawSymbol), s.price, nil
}

func (s *stubResolver) GetQuote(ctx context.Context, rawSymbol string) (types.Quote, error) {
	s.calls.Add(1)

	if s.err != nil {
		return types.Quote{}, s.err
	}

	return types.Quote{
		Symbol:             quote.FormatPair(rawSymbol),
		LastPrice:          s.price,
		HighPrice:          s.price,
		LowPrice:           s.price,
		PriceChangePercent: "0.00",
		Volume:             decimal.NewFromInt(100),
		WeightedAvgPrice:   s.price,
	}, nil
}

// faultyTradeStore delegates to a real store but fails every trade commit,
// simulating a storage fault at the write point.
type faultyTradeStore struct {
	store.AccountStore
}

func (f *faultyTradeStore) ApplyTrade(ctx context.Context, account types.Account, position types.Position) error {
	return errors.New(errors.ErrCodeQueryFailed, "disk full")
}

type EngineTestSuite struct {
	suite.Suite
	store    *store.DuckDBStore
	resolver *stubResolver
	engine   *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (suite *EngineTestSuite) SetupTest() {
	accountStore, err := store.NewDuckDBStore(":memory:", logger.NewNopLogger())
	suite.Require().NoError(err)

	suite.store = accountStore
	suite.resolver = newStubResolver("50000.00")
	suite.engine = NewEngine(accountStore, suite.resolver, logger.NewNopLogger())
}

func (suite *EngineTestSuite) TearDownTest() {
	if suite.store != nil {
		suite.store.Close()
	}
}

func (suite *EngineTestSuite) balance(identityKey int64) decimal.Decimal {
	account, err := suite.store.GetAccount(context.Background(), identityKey)
	suite.Require().NoError(err)
	suite.Require().True(account.IsSome())

	return account.Unwrap().CashBalance
}

func (suite *EngineTestSuite) TestBuyCreatesPositionAndDebitsBalance() {
	result, err := suite.engine.Buy(context.Background(), 42, "Ann", "BTC", decimal.RequireFromString("0.01"))
	suite.Require().NoError(err)
	suite.Contains(result, "BOUGHT BTCUSDT")
	suite.Contains(result, "Qty: 0.01")
	suite.Contains(result, "New Balance: $500.00")

	suite.True(suite.balance(42).Equal(decimal.RequireFromString("500.00")))

	position, err := suite.store.GetPosition(context.Background(), 42, "BTCUSDT")
	suite.Require().NoError(err)
	suite.Require().True(position.IsSome())
	suite.True(position.Unwrap().Quantity.Equal(decimal.RequireFromString("0.01")))
}

func (suite *EngineTestSuite) TestBuyThenFullSellRestoresBalanceAndDeletesPosition() {
	ctx := context.Background()
	qty := decimal.RequireFromString("0.01")

	_, err := suite.engine.Buy(ctx, 42, "Ann", "BTC", qty)
	suite.Require().NoError(err)

	result, err := suite.engine.Sell(ctx, 42, "Ann", "BTC", qty)
	suite.Require().NoError(err)
	suite.Contains(result, "SOLD BTCUSDT")

	suite.True(suite.balance(42).Equal(decimal.RequireFromString("1000.00")))

	position, err := suite.store.GetPosition(ctx, 42, "BTCUSDT")
	suite.Require().NoError(err)
	suite.True(position.IsNone(), "fully sold position must be deleted, not retained at zero")
}

func (suite *EngineTestSuite) TestPartialSellKeepsReducedPosition() {
	ctx := context.Background()

	_, err := suite.engine.Buy(ctx, 42, "Ann", "BTC", decimal.RequireFromString("0.03"))
	suite.Require().NoError(err)

	_, err = suite.engine.Sell(ctx, 42, "Ann", "BTC", decimal.RequireFromString("0.01"))
	suite.Require().NoError(err)

	position, err := suite.store.GetPosition(ctx, 42, "BTCUSDT")
	suite.Require().NoError(err)
	suite.Require().True(position.IsSome())
	suite.True(position.Unwrap().Quantity.Equal(decimal.RequireFromString("0.02")))
}

func (suite *EngineTestSuite) TestInsufficientFundsLeavesStateUntouched() {
	ctx := context.Background()

	result, err := suite.engine.Buy(ctx, 7, "Bob", "BTC", decimal.NewFromInt(1000))
	suite.Require().NoError(err)
	suite.Contains(result, "Insufficient funds")

	suite.True(suite.balance(7).Equal(decimal.RequireFromString("1000.00")))

	position, err := suite.store.GetPosition(ctx, 7, "BTCUSDT")
	suite.Require().NoError(err)
	suite.True(position.IsNone())
}

func (suite *EngineTestSuite) TestSellWithoutHoldingsSkipsPriceFetch() {
	ctx := context.Background()

	result, err := suite.engine.Sell(ctx, 7, "Bob", "BTC", decimal.RequireFromString("0.1"))
	suite.Require().NoError(err)
	suite.Contains(result, "don't hold enough")

	// The doomed sell never reaches the quote source.
	suite.Equal(int64(0), suite.resolver.calls.Load())
	suite.True(suite.balance(7).Equal(decimal.RequireFromString("1000.00")))
}

func (suite *EngineTestSuite) TestSellMoreThanHeld() {
	ctx := context.Background()

	_, err := suite.engine.Buy(ctx, 42, "Ann", "BTC", decimal.RequireFromString("0.01"))
	suite.Require().NoError(err)

	result, err := suite.engine.Sell(ctx, 42, "Ann", "BTC", decimal.RequireFromString("0.02"))
	suite.Require().NoError(err)
	suite.Contains(result, "don't hold enough")

	// Holdings and balance unchanged.
	position, err := suite.store.GetPosition(ctx, 42, "BTCUSDT")
	suite.Require().NoError(err)
	suite.Require().True(position.IsSome())
	suite.True(position.Unwrap().Quantity.Equal(decimal.RequireFromString("0.01")))
	suite.True(suite.balance(42).Equal(decimal.RequireFromString("500.00")))
}

func (suite *EngineTestSuite) TestInvalidQuantity() {
	for _, qty := range []string{"0", "-0.5"} {
		result, err := suite.engine.Buy(context.Background(), 42, "Ann", "BTC", decimal.RequireFromString(qty))
		suite.Require().NoError(err)
		suite.Equal(MsgInvalidQty, result)
	}

	// Rejected before any account or price work.
	suite.Equal(int64(0), suite.resolver.calls.Load())
}

func (suite *EngineTestSuite) TestQuoteUnavailableRecoveredAsMessage() {
	suite.resolver.err = errors.New(errors.ErrCodeQuoteUnavailable, "no market data for symbol XYZ123")

	result, err := suite.engine.Buy(context.Background(), 42, "Ann", "XYZ123", decimal.NewFromInt(1))
	suite.Require().NoError(err)
	suite.Contains(result, "could not find market data")
	suite.Contains(result, "XYZ123")

	// The account was lazily created but nothing was mutated.
	suite.True(suite.balance(42).Equal(decimal.RequireFromString("1000.00")))
}

func (suite *EngineTestSuite) TestSystemFaultPropagates() {
	suite.resolver.err = errors.New(errors.ErrCodeSystemFailure, "exchange unreachable")

	result, err := suite.engine.Buy(context.Background(), 42, "Ann", "BTC", decimal.NewFromInt(1))
	suite.Require().Error(err)
	suite.Empty(result)
	suite.True(errors.HasCode(err, errors.ErrCodeSystemFailure))
}

func (suite *EngineTestSuite) TestConservationIsExact() {
	ctx := context.Background()
	qty := decimal.RequireFromString("0.123")

	before := decimal.RequireFromString("1000.00")
	cost := suite.resolver.price.Mul(qty)

	_, err := suite.engine.Buy(ctx, 42, "Ann", "BTC", qty)
	suite.Require().NoError(err)
	suite.True(suite.balance(42).Equal(before.Sub(cost)), "buy must debit exactly price*quantity")

	_, err = suite.engine.Sell(ctx, 42, "Ann", "BTC", qty)
	suite.Require().NoError(err)
	suite.True(suite.balance(42).Equal(before), "sell must credit exactly price*quantity")
}

func (suite *EngineTestSuite) TestConcurrentBuysCannotOverspend() {
	suite.resolver.price = decimal.RequireFromString("600.00")

	const callers = 4

	var wg sync.WaitGroup

	results := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			results[i], errs[i] = suite.engine.Buy(context.Background(), 42, "Ann", "BTC", decimal.NewFromInt(1))
		}(i)
	}

	wg.Wait()

	var bought int

	for i := 0; i < callers; i++ {
		suite.Require().NoError(errs[i])

		if strings.HasPrefix(results[i], "BOUGHT") {
			bought++
		} else {
			suite.Contains(results[i], "Insufficient funds")
		}
	}

	// 1000.00 affords exactly one unit at 600.00.
	suite.Equal(1, bought, "only one concurrent buy could be afforded")
	suite.True(suite.balance(42).Equal(decimal.RequireFromString("400.00")))

	position, err := suite.store.GetPosition(context.Background(), 42, "BTCUSDT")
	suite.Require().NoError(err)
	suite.Require().True(position.IsSome())
	suite.True(position.Unwrap().Quantity.Equal(decimal.NewFromInt(1)))
}

func (suite *EngineTestSuite) TestDifferentIdentitiesTradeIndependently() {
	var wg sync.WaitGroup

	for id := int64(1); id <= 8; id++ {
		wg.Add(1)

		go func(id int64) {
			defer wg.Done()

			_, err := suite.engine.Buy(context.Background(), id, "Trader", "BTC", decimal.RequireFromString("0.01"))
			suite.NoError(err)
		}(id)
	}

	wg.Wait()

	for id := int64(1); id <= 8; id++ {
		suite.True(suite.balance(id).Equal(decimal.RequireFromString("500.00")))
	}
}

func (suite *EngineTestSuite) TestRandomTradeSequenceKeepsInvariants() {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))
	suite.resolver.price = decimal.RequireFromString("100.00")

	for i := 0; i < 200; i++ {
		qty := decimal.New(int64(rng.Intn(500)+1), -2) // 0.01 .. 5.00

		var err error
		if rng.Intn(2) == 0 {
			_, err = suite.engine.Buy(ctx, 42, "Ann", "BTC", qty)
		} else {
			_, err = suite.engine.Sell(ctx, 42, "Ann", "BTC", qty)
		}

		suite.Require().NoError(err)

		balance := suite.balance(42)
		suite.False(balance.IsNegative(), "balance went negative after step %d: %s", i, balance)

		position, err := suite.store.GetPosition(ctx, 42, "BTCUSDT")
		suite.Require().NoError(err)

		if position.IsSome() {
			suite.True(position.Unwrap().Quantity.IsPositive(), "zero or negative position retained after step %d", i)
		}
	}
}

func (suite *EngineTestSuite) TestFailedTradeCommitLeavesNoPartialState() {
	ctx := context.Background()
	broken := NewEngine(&faultyTradeStore{AccountStore: suite.store}, suite.resolver, logger.NewNopLogger())

	result, err := broken.Buy(ctx, 42, "Ann", "BTC", decimal.RequireFromString("0.01"))
	suite.Require().Error(err)
	suite.Empty(result)

	// The debit and the position credit commit together or not at all.
	suite.True(suite.balance(42).Equal(decimal.RequireFromString("1000.00")))

	position, err := suite.store.GetPosition(ctx, 42, "BTCUSDT")
	suite.Require().NoError(err)
	suite.True(position.IsNone())

	// Same contract on the sell side.
	_, err = suite.engine.Buy(ctx, 42, "Ann", "BTC", decimal.RequireFromString("0.01"))
	suite.Require().NoError(err)

	result, err = broken.Sell(ctx, 42, "Ann", "BTC", decimal.RequireFromString("0.01"))
	suite.Require().Error(err)
	suite.Empty(result)
	suite.True(suite.balance(42).Equal(decimal.RequireFromString("500.00")))

	position, err = suite.store.GetPosition(ctx, 42, "BTCUSDT")
	suite.Require().NoError(err)
	suite.Require().True(position.IsSome())
	suite.True(position.Unwrap().Quantity.Equal(decimal.RequireFromString("0.01")))
}

func (suite *EngineTestSuite) TestQuantityQuantizedToEightDigits() {
	ctx := context.Background()
	suite.resolver.price = decimal.RequireFromString("100.00")

	_, err := suite.engine.Buy(ctx, 42, "Ann", "BTC", decimal.RequireFromString("0.123456789"))
	suite.Require().NoError(err)

	position, err := suite.store.GetPosition(ctx, 42, "BTCUSDT")
	suite.Require().NoError(err)
	suite.Require().True(position.IsSome())
	suite.True(position.Unwrap().Quantity.Equal(decimal.RequireFromString("0.12345679")))

	// The debit reflects the quantized quantity, keeping conservation exact.
	suite.True(suite.balance(42).Equal(decimal.RequireFromString("987.654321")))
}

func (suite *EngineTestSuite) TestQuantityBelowEighthDigitIsInvalid() {
	result, err := suite.engine.Buy(context.Background(), 42, "Ann", "BTC", decimal.RequireFromString("0.000000001"))
	suite.Require().NoError(err)
	suite.Equal(MsgInvalidQty, result)
	suite.Equal(int64(0), suite.resolver.calls.Load())
}

func (suite *EngineTestSuite) TestWalletUnknownIdentity() {
	result, err := suite.engine.Wallet(context.Background(), 999)
	suite.Require().NoError(err)
	suite.Equal(MsgNoAccount, result)
}

func (suite *EngineTestSuite) TestWalletWithHoldings() {
	ctx := context.Background()

	_, err := suite.engine.Buy(ctx, 42, "Ann", "BTC", decimal.RequireFromString("0.01"))
	suite.Require().NoError(err)

	result, err := suite.engine.Wallet(ctx, 42)
	suite.Require().NoError(err)
	suite.Contains(result, "USD Balance: $500.00")
	suite.Contains(result, "- BTCUSDT: 0.01")
}

func (suite *EngineTestSuite) TestWalletWithoutHoldings() {
	ctx := context.Background()

	_, err := suite.store.GetOrCreate(ctx, 42, "Ann")
	suite.Require().NoError(err)

	result, err := suite.engine.Wallet(ctx, 42)
	suite.Require().NoError(err)
	suite.Contains(result, "USD Balance: $1000.00")
	suite.Contains(result, MsgNoHoldings)
}

func (suite *EngineTestSuite) TestMarketReport() {
	result, err := suite.engine.MarketReport(context.Background(), "btc")
	suite.Require().NoError(err)
	suite.Contains(result, "Market Report for BTCUSDT")
	suite.Contains(result, "Price: $50000.00000")
	suite.Contains(result, "Change (24h): 0.00%")
}

func (suite *EngineTestSuite) TestMarketReportUnknownSymbol() {
	suite.resolver.err = errors.New(errors.ErrCodeQuoteUnavailable, "no market data")

	result, err := suite.engine.MarketReport(context.Background(), "xyz123")
	suite.Require().NoError(err)
	suite.Contains(result, "could not find market data for 'XYZ123'")
}
