// Package sqlite implements store.Store on SQLite using the pure-Go
// modernc.org/sqlite driver. All access goes through a single connection,
// which serializes writers.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/credit"
	"github.com/xraph/credit/account"
	"github.com/xraph/credit/adjustment"
	"github.com/xraph/credit/id"
	"github.com/xraph/credit/settings"
	creditstore "github.com/xraph/credit/store"
	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

// compile-time interface check
var _ creditstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the database file at path, creating it if needed. Use
// ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dsn = "file:" + path
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("credit/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("credit/sqlite: ping: %w", err)
	}
	return New(db), nil
}

// New creates a new SQLite store on an open database. The caller should
// limit db to one open connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Account Store ====================

const accountColumns = `client_id, display_name, currency, balance, initial_balance, version, created_at, updated_at`

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO credit_accounts (`+accountColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (client_id) DO NOTHING`,
		a.ClientID, a.DisplayName, a.Balance.Currency,
		a.Balance.Amount, a.InitialBalance.Amount, a.Version,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("credit/sqlite: create account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return credit.ErrAccountExists
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, clientID string) (*account.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE client_id = ?`, clientID))
	if err != nil {
		if isNoRows(err) {
			return nil, credit.ErrAccountNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM credit_accounts`
	var args []any
	if opts.Search != "" {
		pattern := "%" + escapeLike(opts.Search) + "%"
		args = append(args, pattern, pattern)
		query += ` WHERE client_id LIKE ? ESCAPE '\' OR display_name LIKE ? ESCAPE '\'`
	}
	query += ` ORDER BY client_id` + pageClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAccount)
}

func (s *Store) UpdateDisplayName(ctx context.Context, clientID, displayName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credit_accounts SET display_name = ?, updated_at = ? WHERE client_id = ?`,
		displayName, formatTime(time.Now()), clientID,
	)
	if err != nil {
		return mapCommitError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return credit.ErrAccountNotFound
	}
	return nil
}

func scanAccount(row scanner) (*account.Account, error) {
	var (
		a                    account.Account
		currency             string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&a.ClientID, &a.DisplayName, &currency,
		&a.Balance.Amount, &a.InitialBalance.Amount, &a.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Balance.Currency = currency
	a.InitialBalance.Currency = currency
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// ==================== Transaction Store ====================

const transactionColumns = `id, client_id, type, currency, amount, previous_balance, new_balance,
    emission_id, description, performed_by, sequence, created_at`

// CommitTransaction advances the account from expectedVersion and inserts
// tx in one database transaction.
func (s *Store) CommitTransaction(ctx context.Context, expectedVersion int64, tx *transaction.Transaction) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbtx.Rollback() //nolint:errcheck // no-op after commit

	res, err := dbtx.ExecContext(ctx, `
UPDATE credit_accounts
   SET balance = ?, version = ?, updated_at = ?
 WHERE client_id = ? AND version = ?`,
		tx.NewBalance.Amount, tx.Sequence, formatTime(tx.CreatedAt), tx.ClientID, expectedVersion,
	)
	if err != nil {
		return mapCommitError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		var one int
		err := dbtx.QueryRowContext(ctx,
			`SELECT 1 FROM credit_accounts WHERE client_id = ?`, tx.ClientID,
		).Scan(&one)
		if isNoRows(err) {
			return credit.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return credit.ErrStorageConflict
	}

	_, err = dbtx.ExecContext(ctx, `
INSERT INTO credit_transactions (`+transactionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID.String(), tx.ClientID, string(tx.Type), tx.Amount.Currency,
		tx.Amount.Amount, tx.PreviousBalance.Amount, tx.NewBalance.Amount,
		tx.EmissionID, tx.Description, tx.PerformedBy, tx.Sequence, formatTime(tx.CreatedAt),
	)
	if err != nil {
		return mapCommitError(err)
	}
	if err := dbtx.Commit(); err != nil {
		return mapCommitError(err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txID id.TransactionID) (*transaction.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM credit_transactions WHERE id = ?`, txID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, credit.ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (s *Store) FindByEmission(ctx context.Context, clientID, emissionID string) ([]*transaction.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+transactionColumns+` FROM credit_transactions
 WHERE client_id = ? AND emission_id = ? AND type IN (?, ?)
 ORDER BY sequence`,
		clientID, emissionID, string(transaction.TypeConsume), string(transaction.TypeRefund),
	)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransaction)
}

func (s *Store) ListTransactions(ctx context.Context, clientID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM credit_transactions WHERE client_id = ?`
	args := []any{clientID}
	if opts.Type != "" {
		args = append(args, string(opts.Type))
		query += ` AND type = ?`
	}
	if opts.Ascending {
		query += ` ORDER BY sequence ASC`
	} else {
		query += ` ORDER BY sequence DESC`
	}
	query += pageClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransaction)
}

func scanTransaction(row scanner) (*transaction.Transaction, error) {
	var (
		tx                   transaction.Transaction
		rawID, typ, currency string
		amount, prev, newBal int64
		createdAt            string
	)
	err := row.Scan(
		&rawID, &tx.ClientID, &typ, &currency, &amount, &prev, &newBal,
		&tx.EmissionID, &tx.Description, &tx.PerformedBy, &tx.Sequence, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if tx.ID, err = id.ParseTransactionID(rawID); err != nil {
		return nil, err
	}
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	tx.Type = transaction.Type(typ)
	tx.Amount = types.New(amount, currency)
	tx.PreviousBalance = types.New(prev, currency)
	tx.NewBalance = types.New(newBal, currency)
	return &tx, nil
}

// ==================== Settings Store ====================

func (s *Store) GetSettings(ctx context.Context) (*settings.System, error) {
	var (
		sys                         settings.System
		currency, markup, updatedAt string
		initial, threshold          int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT currency, default_initial_credits, default_markup_percentage,
       low_balance_threshold, updated_by, updated_at
  FROM credit_settings WHERE id = 1`,
	).Scan(&currency, &initial, &markup, &threshold, &sys.UpdatedBy, &updatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, credit.ErrSettingsNotFound
		}
		return nil, err
	}
	if sys.DefaultMarkupPercentage, err = decimal.NewFromString(markup); err != nil {
		return nil, err
	}
	if sys.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	sys.DefaultInitialCredits = types.New(initial, currency)
	sys.LowBalanceThreshold = types.New(threshold, currency)
	return &sys, nil
}

func (s *Store) SaveSettings(ctx context.Context, sys *settings.System) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credit_settings (id, currency, default_initial_credits, default_markup_percentage,
                             low_balance_threshold, updated_by, updated_at)
VALUES (1, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    currency                  = excluded.currency,
    default_initial_credits   = excluded.default_initial_credits,
    default_markup_percentage = excluded.default_markup_percentage,
    low_balance_threshold     = excluded.low_balance_threshold,
    updated_by                = excluded.updated_by,
    updated_at                = excluded.updated_at`,
		sys.DefaultInitialCredits.Currency, sys.DefaultInitialCredits.Amount,
		sys.DefaultMarkupPercentage.String(), sys.LowBalanceThreshold.Amount,
		sys.UpdatedBy, formatTime(sys.UpdatedAt),
	)
	return err
}

func (s *Store) GetClientPricing(ctx context.Context, clientID string) (*settings.ClientPricing, error) {
	var (
		p                   settings.ClientPricing
		markup              sql.NullString
		carriers, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT client_id, markup_percentage, enabled_carriers, updated_at
  FROM credit_client_pricing WHERE client_id = ?`, clientID,
	).Scan(&p.ClientID, &markup, &carriers, &updatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, credit.ErrClientPricingNotFound
		}
		return nil, err
	}
	if markup.Valid {
		m, err := decimal.NewFromString(markup.String)
		if err != nil {
			return nil, err
		}
		p.MarkupPercentage = &m
	}
	if err := json.Unmarshal([]byte(carriers), &p.EnabledCarriers); err != nil {
		return nil, fmt.Errorf("credit/sqlite: decode carriers: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SaveClientPricing(ctx context.Context, p *settings.ClientPricing) error {
	var markup sql.NullString
	if p.MarkupPercentage != nil {
		markup = sql.NullString{String: p.MarkupPercentage.String(), Valid: true}
	}
	carriers := p.EnabledCarriers
	if carriers == nil {
		carriers = []string{}
	}
	encoded, err := json.Marshal(carriers)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO credit_client_pricing (client_id, markup_percentage, enabled_carriers, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (client_id) DO UPDATE SET
    markup_percentage = excluded.markup_percentage,
    enabled_carriers  = excluded.enabled_carriers,
    updated_at        = excluded.updated_at`,
		p.ClientID, markup, string(encoded), formatTime(p.UpdatedAt),
	)
	return err
}

// ==================== Adjustment Store ====================

const adjustmentColumns = `id, client_id, emission_id, currency, original_cost, adjusted_cost, sale_price,
    reason, performed_by, created_at`

func (s *Store) CreateAdjustment(ctx context.Context, a *adjustment.Adjustment) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credit_adjustments (`+adjustmentColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.ClientID, a.EmissionID, a.SalePrice.Currency,
		a.OriginalCost.Amount, a.AdjustedCost.Amount, a.SalePrice.Amount,
		a.Reason, a.PerformedBy, formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("credit/sqlite: create adjustment: %w", err)
	}
	return nil
}

func (s *Store) ListAdjustments(ctx context.Context, opts adjustment.ListOpts) ([]*adjustment.Adjustment, error) {
	query := `SELECT ` + adjustmentColumns + ` FROM credit_adjustments`
	var (
		args  []any
		where []string
	)
	if opts.ClientID != "" {
		args = append(args, opts.ClientID)
		where = append(where, "client_id = ?")
	}
	if opts.EmissionID != "" {
		args = append(args, opts.EmissionID)
		where = append(where, "emission_id = ?")
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC` + pageClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAdjustment)
}

func scanAdjustment(row scanner) (*adjustment.Adjustment, error) {
	var (
		a                          adjustment.Adjustment
		rawID, currency, createdAt string
		original, adjusted, sale   int64
	)
	err := row.Scan(
		&rawID, &a.ClientID, &a.EmissionID, &currency,
		&original, &adjusted, &sale, &a.Reason, &a.PerformedBy, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if a.ID, err = id.ParseAdjustmentID(rawID); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	a.OriginalCost = types.New(original, currency)
	a.AdjustedCost = types.New(adjusted, currency)
	a.SalePrice = types.New(sale, currency)
	return &a, nil
}

// ==================== Helpers ====================

type scanner interface {
	Scan(dest ...any) error
}

func collect[T any](rows *sql.Rows, scan func(scanner) (*T, error)) ([]*T, error) {
	defer rows.Close()

	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// timeLayout sorts lexically, so ORDER BY created_at is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("credit/sqlite: parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func pageClause(limit, offset int) string {
	switch {
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, max(offset, 0))
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	default:
		return ""
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// mapCommitError translates driver failures inside a commit. Extended
// result codes are reduced to their primary code so that variants such as
// SQLITE_BUSY_SNAPSHOT are treated like SQLITE_BUSY.
func mapCommitError(err error) error {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(sqlErr.Error(), "emission_id") {
				return credit.ErrDuplicateEmission
			}
			switch sqlErr.Code() {
			case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
				return credit.ErrStorageConflict
			}
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return credit.ErrStorageConflict
		}
	}
	return fmt.Errorf("credit/sqlite: commit transaction: %w", err)
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
