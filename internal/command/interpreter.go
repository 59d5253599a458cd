// Package command translates chat-style text commands into trading engine
// calls. It is transport agnostic: a messaging-platform front end feeds it
// one message at a time together with the platform-provided identity.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rxtech-lab/paper-trading/internal/engine"
)

// Trader is the subset of the trading engine the interpreter drives.
type Trader interface {
	Buy(ctx context.Context, identityKey int64, displayName, rawSymbol string, quantity decimal.Decimal) (string, error)
	Sell(ctx context.Context, identityKey int64, displayName, rawSymbol string, quantity decimal.Decimal) (string, error)
	Wallet(ctx context.Context, identityKey int64) (string, error)
	MarketReport(ctx context.Context, rawSymbol string) (string, error)
}

const (
	usageBuy  = "Usage: buy <SYMBOL> <QUANTITY>\nExample: buy BTC 0.01"
	usageSell = "Usage: sell <SYMBOL> <QUANTITY>\nExample: sell BTC 0.01"
)

// Interpreter parses one text command per call and renders the engine's
// response. It holds no per-call state and is safe for concurrent use.
type Interpreter struct {
	trader Trader
}

// NewInterpreter creates an Interpreter.
func NewInterpreter(trader Trader) *Interpreter {
	return &Interpreter{trader: trader}
}

// Handle interprets one message and always returns a human-readable reply.
// Malformed input yields usage hints; engine system faults yield the generic
// failure message. The reply is never empty.
func (i *Interpreter) Handle(ctx context.Context, identityKey int64, displayName, message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return i.welcome(displayName)
	}

	parts := strings.Fields(message)
	command := strings.ToLower(parts[0])

	switch command {
	case "/start":
		return i.welcome(displayName)

	case "buy":
		if len(parts) < 3 {
			return usageBuy
		}

		return i.trade(ctx, i.trader.Buy, identityKey, displayName, parts[1], parts[2])

	case "sell":
		if len(parts) < 3 {
			return usageSell
		}

		return i.trade(ctx, i.trader.Sell, identityKey, displayName, parts[1], parts[2])

	case "wallet", "balance":
		reply, err := i.trader.Wallet(ctx, identityKey)
		if err != nil {
			return engine.MsgGenericFailure
		}

		return reply

	default:
		// Anything else is treated as a symbol and answered with a
		// market report.
		reply, err := i.trader.MarketReport(ctx, message)
		if err != nil {
			return engine.MsgGenericFailure
		}

		return reply
	}
}

type tradeFunc func(ctx context.Context, identityKey int64, displayName, rawSymbol string, quantity decimal.Decimal) (string, error)

func (i *Interpreter) trade(ctx context.Context, execute tradeFunc, identityKey int64, displayName, symbol, rawQuantity string) string {
	quantity, err := decimal.NewFromString(rawQuantity)
	if err != nil {
		return engine.MsgInvalidQty
	}

	reply, err := execute(ctx, identityKey, displayName, symbol, quantity)
	if err != nil {
		return engine.MsgGenericFailure
	}

	return reply
}

func (i *Interpreter) welcome(displayName string) string {
	if displayName == "" {
		displayName = "Trader"
	}

	return fmt.Sprintf("Welcome %s!\n"+
		"- Check a price: type a symbol (e.g. BTC or BTCUSDT)\n"+
		"- Buy: buy <symbol> <qty> (e.g. buy BTC 0.05)\n"+
		"- Sell: sell <symbol> <qty> (e.g. sell BTC 0.05)\n"+
		"- Check your wallet: wallet", displayName)
}
