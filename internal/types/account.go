package types

import "github.com/shopspring/decimal"

// DefaultStartingBalance is the simulated cash balance granted to every
// account on first contact.
var DefaultStartingBalance = decimal.RequireFromString("1000.00")

// Account holds one identity's simulated cash balance.
// Accounts are created lazily on first interaction and never deleted.
type Account struct {
	// IdentityKey is the opaque stable identifier for the account holder.
	IdentityKey int64
	// DisplayName is a mutable human label, informational only.
	DisplayName string
	// CashBalance is the simulated cash balance. It never goes negative
	// after a completed operation.
	CashBalance decimal.Decimal
}

// Position is an account's held quantity of one asset.
// A position with zero quantity is deleted rather than retained, so holding
// an asset is equivalent to a row existing.
type Position struct {
	IdentityKey int64
	// Symbol is the normalized trading pair, e.g. "BTCUSDT".
	Symbol string
	// Quantity is the held amount, kept at 8 fractional digits.
	Quantity decimal.Decimal
}
