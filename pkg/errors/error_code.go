package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidQuantity      ErrorCode = 102
	ErrCodeInvalidSymbol        ErrorCode = 103

	// Trading errors (200-299)
	ErrCodeInsufficientFunds    ErrorCode = 200
	ErrCodeInsufficientHoldings ErrorCode = 201

	// Market data errors (300-399)
	ErrCodeQuoteUnavailable ErrorCode = 300
	ErrCodeSymbolNotFound   ErrorCode = 301

	// Storage errors (400-499)
	ErrCodeAccountNotFound ErrorCode = 400
	ErrCodeQueryFailed     ErrorCode = 401

	// System errors (500-599)
	ErrCodeSystemFailure ErrorCode = 500
)

// IsBusinessCode reports whether a code describes an expected business outcome
// (bad quantity, not enough funds or holdings, unresolvable quote) rather than
// a system fault. Business outcomes are recovered at the engine boundary and
// rendered as plain messages; everything else propagates.
func IsBusinessCode(code ErrorCode) bool {
	switch code {
	case ErrCodeInvalidQuantity, ErrCodeInvalidSymbol,
		ErrCodeInsufficientFunds, ErrCodeInsufficientHoldings,
		ErrCodeQuoteUnavailable, ErrCodeSymbolNotFound:
		return true
	default:
		return false
	}
}
