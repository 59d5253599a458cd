// Package store owns the durable account and position state. It is the only
// shared mutable resource in the system and the locking discipline for
// concurrent access lives behind its contract.
package store

import (
	"context"

	"github.com/moznion/go-optional"

	"github.com/rxtech-lab/paper-trading/internal/types"
)

// AccountStore is the persistence capability required by the trading engine:
// two logical tables, accounts keyed by identity and positions keyed by
// (identity, symbol). Upserts and deletes are unconditional writes; callers
// are responsible for the balance and quantity invariants.
type AccountStore interface {
	// GetOrCreate returns the existing account for identityKey, creating it
	// with the default starting balance when absent. It is safe under
	// concurrent calls for the same never-yet-seen key: exactly one row
	// results.
	GetOrCreate(ctx context.Context, identityKey int64, displayName string) (types.Account, error)
	// GetAccount returns the account for identityKey, or None when the
	// identity has never interacted.
	GetAccount(ctx context.Context, identityKey int64) (optional.Option[types.Account], error)
	// UpsertAccount writes an account unconditionally.
	UpsertAccount(ctx context.Context, account types.Account) error
	// GetPosition returns the position for (identityKey, symbol), or None.
	GetPosition(ctx context.Context, identityKey int64, symbol string) (optional.Option[types.Position], error)
	// UpsertPosition writes a position unconditionally.
	UpsertPosition(ctx context.Context, position types.Position) error
	// DeletePosition removes the position row for (identityKey, symbol).
	DeletePosition(ctx context.Context, identityKey int64, symbol string) error
	// ListPositions returns all position rows for identityKey ordered by symbol.
	ListPositions(ctx context.Context, identityKey int64) ([]types.Position, error)
	// ApplyTrade persists the paired account and position rows of one
	// completed trade in a single transaction: either both commit or
	// neither does. A zero-quantity position is deleted instead of written.
	ApplyTrade(ctx context.Context, account types.Account, position types.Position) error
}
