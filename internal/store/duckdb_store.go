package store

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rxtech-lab/paper-trading/internal/logger"
	"github.com/rxtech-lab/paper-trading/internal/types"
	"github.com/rxtech-lab/paper-trading/pkg/errors"
)

// DuckDBStore implements AccountStore on a DuckDB database.
//
// Balances and quantities are stored as canonical decimal strings so
// fixed-point values round-trip exactly; DOUBLE columns would reintroduce
// the binary-float drift the decimal arithmetic exists to avoid.
type DuckDBStore struct {
	db  *sql.DB
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

// NewDuckDBStore opens a DuckDB database at path and creates the schema.
// Use ":memory:" for an ephemeral store.
func NewDuckDBStore(path string, log *logger.Logger) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to open database", err)
	}

	s := &DuckDBStore{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := s.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

// initialize creates the accounts and positions tables. The primary keys
// double as the uniqueness constraints that make concurrent get-or-create
// yield exactly one row.
func (s *DuckDBStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			identity_key BIGINT PRIMARY KEY,
			display_name TEXT NOT NULL,
			cash_balance TEXT NOT NULL
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create accounts table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			identity_key BIGINT NOT NULL,
			symbol TEXT NOT NULL,
			quantity TEXT NOT NULL,
			PRIMARY KEY (identity_key, symbol)
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create positions table", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

// GetOrCreate returns the account for identityKey, inserting the default row
// first when absent. The insert ignores a conflicting concurrent insert and
// the follow-up read returns whichever row won, so duplicate creation is
// impossible.
func (s *DuckDBStore) GetOrCreate(ctx context.Context, identityKey int64, displayName string) (types.Account, error) {
	existing, err := s.GetAccount(ctx, identityKey)
	if err != nil {
		return types.Account{}, err
	}

	if existing.IsSome() {
		return existing.Unwrap(), nil
	}

	insertQuery := s.sq.
		Insert("accounts").
		Columns("identity_key", "display_name", "cash_balance").
		Values(identityKey, displayName, types.DefaultStartingBalance.String()).
		Suffix("ON CONFLICT (identity_key) DO NOTHING").
		RunWith(s.db)

	result, err := insertQuery.ExecContext(ctx)
	if err != nil {
		return types.Account{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to insert account", err)
	}

	if affected, affErr := result.RowsAffected(); affErr == nil && affected > 0 {
		s.log.Info("created account",
			zap.Int64("identityKey", identityKey),
			zap.String("displayName", displayName),
		)
	}

	created, err := s.GetAccount(ctx, identityKey)
	if err != nil {
		return types.Account{}, err
	}

	if created.IsNone() {
		return types.Account{}, errors.Newf(errors.ErrCodeAccountNotFound, "account %d missing after insert", identityKey)
	}

	return created.Unwrap(), nil
}

// GetAccount returns the account row for identityKey, or None.
func (s *DuckDBStore) GetAccount(ctx context.Context, identityKey int64) (optional.Option[types.Account], error) {
	query := s.sq.
		Select("identity_key", "display_name", "cash_balance").
		From("accounts").
		Where(squirrel.Eq{"identity_key": identityKey}).
		RunWith(s.db)

	var (
		account types.Account
		balance string
	)

	err := query.QueryRowContext(ctx).Scan(&account.IdentityKey, &account.DisplayName, &balance)
	if err == sql.ErrNoRows {
		return optional.None[types.Account](), nil
	}

	if err != nil {
		return optional.None[types.Account](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to query account", err)
	}

	account.CashBalance, err = decimal.NewFromString(balance)
	if err != nil {
		return optional.None[types.Account](), errors.Wrapf(errors.ErrCodeQueryFailed, err, "corrupt balance %q for account %d", balance, identityKey)
	}

	return optional.Some(account), nil
}

// UpsertAccount writes an account row unconditionally.
func (s *DuckDBStore) UpsertAccount(ctx context.Context, account types.Account) error {
	return s.writeAccount(ctx, s.db, account)
}

func (s *DuckDBStore) writeAccount(ctx context.Context, runner squirrel.BaseRunner, account types.Account) error {
	query := s.sq.
		Insert("accounts").
		Columns("identity_key", "display_name", "cash_balance").
		Values(account.IdentityKey, account.DisplayName, account.CashBalance.String()).
		Suffix("ON CONFLICT (identity_key) DO UPDATE SET display_name = excluded.display_name, cash_balance = excluded.cash_balance").
		RunWith(runner)

	if _, err := query.ExecContext(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to upsert account", err)
	}

	return nil
}

// GetPosition returns the position row for (identityKey, symbol), or None.
func (s *DuckDBStore) GetPosition(ctx context.Context, identityKey int64, symbol string) (optional.Option[types.Position], error) {
	query := s.sq.
		Select("identity_key", "symbol", "quantity").
		From("positions").
		Where(squirrel.Eq{"identity_key": identityKey, "symbol": symbol}).
		RunWith(s.db)

	var (
		position types.Position
		quantity string
	)

	err := query.QueryRowContext(ctx).Scan(&position.IdentityKey, &position.Symbol, &quantity)
	if err == sql.ErrNoRows {
		return optional.None[types.Position](), nil
	}

	if err != nil {
		return optional.None[types.Position](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to query position", err)
	}

	position.Quantity, err = decimal.NewFromString(quantity)
	if err != nil {
		return optional.None[types.Position](), errors.Wrapf(errors.ErrCodeQueryFailed, err, "corrupt quantity %q for position (%d, %s)", quantity, identityKey, symbol)
	}

	return optional.Some(position), nil
}

// UpsertPosition writes a position row unconditionally.
func (s *DuckDBStore) UpsertPosition(ctx context.Context, position types.Position) error {
	return s.writePosition(ctx, s.db, position)
}

func (s *DuckDBStore) writePosition(ctx context.Context, runner squirrel.BaseRunner, position types.Position) error {
	query := s.sq.
		Insert("positions").
		Columns("identity_key", "symbol", "quantity").
		Values(position.IdentityKey, position.Symbol, position.Quantity.String()).
		Suffix("ON CONFLICT (identity_key, symbol) DO UPDATE SET quantity = excluded.quantity").
		RunWith(runner)

	if _, err := query.ExecContext(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to upsert position", err)
	}

	return nil
}

// DeletePosition removes the position row for (identityKey, symbol).
func (s *DuckDBStore) DeletePosition(ctx context.Context, identityKey int64, symbol string) error {
	return s.removePosition(ctx, s.db, identityKey, symbol)
}

func (s *DuckDBStore) removePosition(ctx context.Context, runner squirrel.BaseRunner, identityKey int64, symbol string) error {
	query := s.sq.
		Delete("positions").
		Where(squirrel.Eq{"identity_key": identityKey, "symbol": symbol}).
		RunWith(runner)

	if _, err := query.ExecContext(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to delete position", err)
	}

	return nil
}

// ApplyTrade commits the account and position rows of one trade atomically.
// A storage failure on either write rolls back both, so a half-applied trade
// is never visible.
func (s *DuckDBStore) ApplyTrade(ctx context.Context, account types.Account, position types.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to begin trade transaction", err)
	}
	defer tx.Rollback()

	if err := s.writeAccount(ctx, tx, account); err != nil {
		return err
	}

	if position.Quantity.IsZero() {
		if err := s.removePosition(ctx, tx, position.IdentityKey, position.Symbol); err != nil {
			return err
		}
	} else {
		if err := s.writePosition(ctx, tx, position); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to commit trade", err)
	}

	return nil
}

// ListPositions returns all position rows for identityKey ordered by symbol.
func (s *DuckDBStore) ListPositions(ctx context.Context, identityKey int64) ([]types.Position, error) {
	query := s.sq.
		Select("identity_key", "symbol", "quantity").
		From("positions").
		Where(squirrel.Eq{"identity_key": identityKey}).
		OrderBy("symbol ASC").
		RunWith(s.db)

	rows, err := query.QueryContext(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query positions", err)
	}
	defer rows.Close()

	var positions []types.Position

	for rows.Next() {
		var (
			position types.Position
			quantity string
		)

		if err := rows.Scan(&position.IdentityKey, &position.Symbol, &quantity); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan position", err)
		}

		position.Quantity, err = decimal.NewFromString(quantity)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "corrupt quantity %q for account %d", quantity, identityKey)
		}

		positions = append(positions, position)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating positions", err)
	}

	return positions, nil
}

// Ensure DuckDBStore implements AccountStore.
var _ AccountStore = (*DuckDBStore)(nil)
