package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rxtech-lab/paper-trading/internal/quote"
	"github.com/rxtech-lab/paper-trading/internal/types"
	"github.com/rxtech-lab/paper-trading/pkg/errors"
)

// User-facing messages. These strings are the de facto response contract for
// the front-end collaborators; change them deliberately.
const (
	MsgNoAccount      = "No account found, no assets held yet."
	MsgNoHoldings     = "No crypto assets held."
	MsgGenericFailure = "Transaction failed. Please try again later."
	MsgInvalidQty     = "Invalid quantity. Use a positive number like 0.05."
)

const (
	balanceScale  = 2
	priceScale    = 5
	quantityScale = 8
)

// FormatTradeReport renders a completed trade as the stable report format:
// action verb, symbol, quantity, execution price, total, new balance.
func FormatTradeReport(report types.TradeReport) string {
	var sb strings.Builder

	sb.WriteString(string(report.Action))
	sb.WriteString(" ")
	sb.WriteString(report.Symbol)
	sb.WriteString("\nQty: ")
	sb.WriteString(stripTrailingZeros(report.Quantity))
	sb.WriteString("\nAt Price: $")
	sb.WriteString(report.Price.StringFixed(priceScale))
	sb.WriteString("\nTotal Value: $")
	sb.WriteString(report.Total.StringFixed(balanceScale))
	sb.WriteString("\nNew Balance: $")
	sb.WriteString(report.NewBalance.StringFixed(balanceScale))

	return sb.String()
}

// FormatWalletReport renders the balance and all non-zero holdings. An
// account holding nothing gets an explicit notice instead of an empty list.
func FormatWalletReport(account types.Account, positions []types.Position) string {
	var sb strings.Builder

	sb.WriteString("YOUR WALLET\n\n")
	sb.WriteString("USD Balance: $")
	sb.WriteString(account.CashBalance.StringFixed(balanceScale))
	sb.WriteString("\n")

	if len(positions) == 0 {
		sb.WriteString("\n")
		sb.WriteString(MsgNoHoldings)

		return sb.String()
	}

	sb.WriteString("\nCrypto Holdings:\n")

	for _, position := range positions {
		sb.WriteString("- ")
		sb.WriteString(position.Symbol)
		sb.WriteString(": ")
		sb.WriteString(stripTrailingZeros(position.Quantity))
		sb.WriteString("\n")
	}

	return sb.String()
}

// FormatMarketReport renders the 24h statistics snapshot for a symbol.
func FormatMarketReport(q types.Quote) string {
	var sb strings.Builder

	sb.WriteString("Market Report for ")
	sb.WriteString(q.Symbol)
	sb.WriteString("\n\n")
	sb.WriteString("Price: $")
	sb.WriteString(q.LastPrice.StringFixed(priceScale))
	sb.WriteString("\n24h High: $")
	sb.WriteString(q.HighPrice.StringFixed(priceScale))
	sb.WriteString("\n24h Low: $")
	sb.WriteString(q.LowPrice.StringFixed(priceScale))
	sb.WriteString("\nChange (24h): ")
	sb.WriteString(q.PriceChangePercent)
	sb.WriteString("%\nVolume: ")
	sb.WriteString(stripTrailingZeros(q.Volume))
	sb.WriteString("\nWeighted Avg Price: $")
	sb.WriteString(q.WeightedAvgPrice.StringFixed(priceScale))

	return sb.String()
}

// BusinessMessage maps a recovered business-outcome error onto its stable
// user-facing message. rawSymbol is the symbol as the user typed it.
func BusinessMessage(err error, rawSymbol string) string {
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidQuantity:
		return MsgInvalidQty
	case errors.ErrCodeQuoteUnavailable, errors.ErrCodeSymbolNotFound, errors.ErrCodeInvalidSymbol:
		return fmt.Sprintf("Error: could not find market data for '%s'. Check the spelling.", quote.Normalize(rawSymbol))
	case errors.ErrCodeInsufficientFunds:
		return "Insufficient funds: " + structuredMessage(err)
	case errors.ErrCodeInsufficientHoldings:
		return "You don't hold enough of that asset: " + structuredMessage(err)
	default:
		return MsgGenericFailure
	}
}

// structuredMessage extracts the message of a structured error without its
// code prefix or cause chain.
func structuredMessage(err error) string {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.Message
	}

	return err.Error()
}

// stripTrailingZeros renders a decimal without trailing fractional zeros, so
// a stored 0.50000000 displays as 0.5. The stored value is unchanged.
func stripTrailingZeros(d decimal.Decimal) string {
	s := d.String()
	if !strings.Contains(s, ".") {
		return s
	}

	s = strings.TrimRight(s, "0")

	return strings.TrimSuffix(s, ".")
}
