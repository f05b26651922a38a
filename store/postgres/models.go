package postgres

import (
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xraph/credit/account"
	"github.com/xraph/credit/adjustment"
	"github.com/xraph/credit/id"
	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

// ==================== Account rows ====================

const accountColumns = `client_id, display_name, currency, balance, initial_balance, version, created_at, updated_at`

func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		a        account.Account
		currency string
	)
	err := row.Scan(
		&a.ClientID, &a.DisplayName, &currency,
		&a.Balance.Amount, &a.InitialBalance.Amount, &a.Version,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Balance.Currency = currency
	a.InitialBalance.Currency = currency
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

// ==================== Transaction rows ====================

const transactionColumns = `id, client_id, type, currency, amount, previous_balance, new_balance,
    emission_id, description, performed_by, sequence, created_at`

func scanTransaction(row pgx.Row) (*transaction.Transaction, error) {
	var (
		tx                   transaction.Transaction
		rawID, typ, currency string
		amount, prev, newBal int64
	)
	err := row.Scan(
		&rawID, &tx.ClientID, &typ, &currency, &amount, &prev, &newBal,
		&tx.EmissionID, &tx.Description, &tx.PerformedBy, &tx.Sequence, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	txID, err := id.ParseTransactionID(rawID)
	if err != nil {
		return nil, err
	}
	tx.ID = txID
	tx.Type = transaction.Type(typ)
	tx.Amount = types.New(amount, currency)
	tx.PreviousBalance = types.New(prev, currency)
	tx.NewBalance = types.New(newBal, currency)
	tx.CreatedAt = tx.CreatedAt.UTC()
	return &tx, nil
}

// ==================== Settings rows ====================

func scanSettings(row pgx.Row) (*settings.System, error) {
	var (
		s                  settings.System
		currency, markup   string
		initial, threshold int64
	)
	err := row.Scan(&currency, &initial, &markup, &threshold, &s.UpdatedBy, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m, err := decimal.NewFromString(markup)
	if err != nil {
		return nil, err
	}
	s.DefaultInitialCredits = types.New(initial, currency)
	s.DefaultMarkupPercentage = m
	s.LowBalanceThreshold = types.New(threshold, currency)
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func scanClientPricing(row pgx.Row) (*settings.ClientPricing, error) {
	var (
		p      settings.ClientPricing
		markup *string
	)
	if err := row.Scan(&p.ClientID, &markup, &p.EnabledCarriers, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if markup != nil {
		m, err := decimal.NewFromString(*markup)
		if err != nil {
			return nil, err
		}
		p.MarkupPercentage = &m
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// ==================== Adjustment rows ====================

const adjustmentColumns = `id, client_id, emission_id, currency, original_cost, adjusted_cost, sale_price,
    reason, performed_by, created_at`

func scanAdjustment(row pgx.Row) (*adjustment.Adjustment, error) {
	var (
		a                        adjustment.Adjustment
		rawID, currency          string
		original, adjusted, sale int64
		createdAt                time.Time
	)
	err := row.Scan(
		&rawID, &a.ClientID, &a.EmissionID, &currency,
		&original, &adjusted, &sale, &a.Reason, &a.PerformedBy, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	adjID, err := id.ParseAdjustmentID(rawID)
	if err != nil {
		return nil, err
	}
	a.ID = adjID
	a.OriginalCost = types.New(original, currency)
	a.AdjustedCost = types.New(adjusted, currency)
	a.SalePrice = types.New(sale, currency)
	a.CreatedAt = createdAt.UTC()
	return &a, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]*T, error) {
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
