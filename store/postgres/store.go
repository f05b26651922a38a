// Package postgres implements store.Store on PostgreSQL using a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/credit"
	"github.com/xraph/credit/account"
	"github.com/xraph/credit/adjustment"
	"github.com/xraph/credit/id"
	"github.com/xraph/credit/settings"
	creditstore "github.com/xraph/credit/store"
	"github.com/xraph/credit/transaction"
)

// compile-time interface check
var _ creditstore.Store = (*Store)(nil)

// PostgreSQL error codes mapped to ledger errors.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"

	emissionConstraint = "credit_transactions_emission_key"
)

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open parses dsn, connects a pool and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("credit/postgres: parse dsn: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("credit/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("credit/postgres: ping: %w", err)
	}
	return New(pool), nil
}

// New creates a new PostgreSQL store on an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO credit_accounts (`+accountColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (client_id) DO NOTHING`,
		a.ClientID, a.DisplayName, a.Balance.Currency,
		a.Balance.Amount, a.InitialBalance.Amount, a.Version,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("credit/postgres: create account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return credit.ErrAccountExists
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, clientID string) (*account.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE client_id = $1`,
		clientID,
	))
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
		args = append(args, "%"+escapeLike(opts.Search)+"%")
		query += ` WHERE client_id ILIKE $1 OR display_name ILIKE $1`
	}
	query += ` ORDER BY client_id` + pageClause(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAccount)
}

func (s *Store) UpdateDisplayName(ctx context.Context, clientID, displayName string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE credit_accounts SET display_name = $1, updated_at = $2 WHERE client_id = $3`,
		displayName, time.Now().UTC(), clientID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return credit.ErrAccountNotFound
	}
	return nil
}

// ==================== Transaction Store ====================

// CommitTransaction advances the account from expectedVersion and inserts
// tx in one database transaction.
func (s *Store) CommitTransaction(ctx context.Context, expectedVersion int64, tx *transaction.Transaction) error {
	err := pgx.BeginFunc(ctx, s.pool, func(dbtx pgx.Tx) error {
		tag, err := dbtx.Exec(ctx, `
UPDATE credit_accounts
   SET balance = $1, version = $2, updated_at = $3
 WHERE client_id = $4 AND version = $5`,
			tx.NewBalance.Amount, tx.Sequence, tx.CreatedAt, tx.ClientID, expectedVersion,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := dbtx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM credit_accounts WHERE client_id = $1)`,
				tx.ClientID,
			).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return credit.ErrAccountNotFound
			}
			return credit.ErrStorageConflict
		}

		_, err = dbtx.Exec(ctx, `
INSERT INTO credit_transactions (`+transactionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			tx.ID.String(), tx.ClientID, string(tx.Type), tx.Amount.Currency,
			tx.Amount.Amount, tx.PreviousBalance.Amount, tx.NewBalance.Amount,
			tx.EmissionID, tx.Description, tx.PerformedBy, tx.Sequence, tx.CreatedAt,
		)
		return err
	})
	return mapCommitError(err)
}

func (s *Store) GetTransaction(ctx context.Context, txID id.TransactionID) (*transaction.Transaction, error) {
	tx, err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM credit_transactions WHERE id = $1`,
		txID.String(),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, credit.ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (s *Store) FindByEmission(ctx context.Context, clientID, emissionID string) ([]*transaction.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+transactionColumns+` FROM credit_transactions
 WHERE client_id = $1 AND emission_id = $2 AND type IN ($3, $4)
 ORDER BY sequence`,
		clientID, emissionID, string(transaction.TypeConsume), string(transaction.TypeRefund),
	)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransaction)
}

func (s *Store) ListTransactions(ctx context.Context, clientID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM credit_transactions WHERE client_id = $1`
	args := []any{clientID}
	if opts.Type != "" {
		args = append(args, string(opts.Type))
		query += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	if opts.Ascending {
		query += ` ORDER BY sequence ASC`
	} else {
		query += ` ORDER BY sequence DESC`
	}
	query += pageClause(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransaction)
}

// ==================== Settings Store ====================

func (s *Store) GetSettings(ctx context.Context) (*settings.System, error) {
	sys, err := scanSettings(s.pool.QueryRow(ctx, `
SELECT currency, default_initial_credits, default_markup_percentage::text,
       low_balance_threshold, updated_by, updated_at
  FROM credit_settings WHERE id = 1`))
	if err != nil {
		if isNoRows(err) {
			return nil, credit.ErrSettingsNotFound
		}
		return nil, err
	}
	return sys, nil
}

func (s *Store) SaveSettings(ctx context.Context, sys *settings.System) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO credit_settings (id, currency, default_initial_credits, default_markup_percentage,
                             low_balance_threshold, updated_by, updated_at)
VALUES (1, $1, $2, $3::text::numeric, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    currency                  = EXCLUDED.currency,
    default_initial_credits   = EXCLUDED.default_initial_credits,
    default_markup_percentage = EXCLUDED.default_markup_percentage,
    low_balance_threshold     = EXCLUDED.low_balance_threshold,
    updated_by                = EXCLUDED.updated_by,
    updated_at                = EXCLUDED.updated_at`,
		sys.DefaultInitialCredits.Currency, sys.DefaultInitialCredits.Amount,
		sys.DefaultMarkupPercentage.String(), sys.LowBalanceThreshold.Amount,
		sys.UpdatedBy, sys.UpdatedAt,
	)
	return err
}

func (s *Store) GetClientPricing(ctx context.Context, clientID string) (*settings.ClientPricing, error) {
	p, err := scanClientPricing(s.pool.QueryRow(ctx, `
SELECT client_id, markup_percentage::text, enabled_carriers, updated_at
  FROM credit_client_pricing WHERE client_id = $1`,
		clientID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, credit.ErrClientPricingNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) SaveClientPricing(ctx context.Context, p *settings.ClientPricing) error {
	var markup *string
	if p.MarkupPercentage != nil {
		v := p.MarkupPercentage.String()
		markup = &v
	}
	carriers := p.EnabledCarriers
	if carriers == nil {
		carriers = []string{}
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO credit_client_pricing (client_id, markup_percentage, enabled_carriers, updated_at)
VALUES ($1, $2::text::numeric, $3, $4)
ON CONFLICT (client_id) DO UPDATE SET
    markup_percentage = EXCLUDED.markup_percentage,
    enabled_carriers  = EXCLUDED.enabled_carriers,
    updated_at        = EXCLUDED.updated_at`,
		p.ClientID, markup, carriers, p.UpdatedAt,
	)
	return err
}

// ==================== Adjustment Store ====================

func (s *Store) CreateAdjustment(ctx context.Context, a *adjustment.Adjustment) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO credit_adjustments (`+adjustmentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID.String(), a.ClientID, a.EmissionID, a.SalePrice.Currency,
		a.OriginalCost.Amount, a.AdjustedCost.Amount, a.SalePrice.Amount,
		a.Reason, a.PerformedBy, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("credit/postgres: create adjustment: %w", err)
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
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if opts.EmissionID != "" {
		args = append(args, opts.EmissionID)
		where = append(where, fmt.Sprintf("emission_id = $%d", len(args)))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC` + pageClause(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAdjustment)
}

// ==================== Helpers ====================

func pageClause(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func mapCommitError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			if pgErr.ConstraintName == emissionConstraint {
				return credit.ErrDuplicateEmission
			}
			return credit.ErrStorageConflict
		case codeSerializationFailure, codeDeadlockDetected:
			return credit.ErrStorageConflict
		}
		return fmt.Errorf("credit/postgres: commit transaction: %w", err)
	}
	return err
}

// isNoRows checks for the pgx no-rows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
