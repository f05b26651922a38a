// Package plugin provides the hook system of the credit ledger.
// Plugins implement any subset of the hook interfaces below and are
// notified after the corresponding change has been committed.
package plugin

import (
	"context"

	"github.com/xraph/credit/account"
	"github.com/xraph/credit/adjustment"
	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Account hooks
// ──────────────────────────────────────────────────

// OnAccountProvisioned is called when a client account is created.
type OnAccountProvisioned interface {
	Plugin
	OnAccountProvisioned(ctx context.Context, a *account.Account) error
}

// OnLowBalance is called when a debit or consumption leaves the balance
// below the configured threshold.
type OnLowBalance interface {
	Plugin
	OnLowBalance(ctx context.Context, clientID string, balance, threshold types.Money) error
}

// ──────────────────────────────────────────────────
// Transaction hooks
// ──────────────────────────────────────────────────

// OnCredited is called after an administrative credit.
type OnCredited interface {
	Plugin
	OnCredited(ctx context.Context, tx *transaction.Transaction) error
}

// OnDebited is called after an administrative debit.
type OnDebited interface {
	Plugin
	OnDebited(ctx context.Context, tx *transaction.Transaction) error
}

// OnConsumed is called after a label is billed. Replayed idempotent calls
// do not fire it again.
type OnConsumed interface {
	Plugin
	OnConsumed(ctx context.Context, tx *transaction.Transaction) error
}

// OnRefunded is called after an emission is refunded.
type OnRefunded interface {
	Plugin
	OnRefunded(ctx context.Context, tx *transaction.Transaction) error
}

// OnInsufficientFunds is called when a debit or consumption is rejected.
type OnInsufficientFunds interface {
	Plugin
	OnInsufficientFunds(ctx context.Context, clientID string, balance, requested types.Money) error
}

// ──────────────────────────────────────────────────
// Settings hooks
// ──────────────────────────────────────────────────

// OnSettingsUpdated is called after the system settings change.
type OnSettingsUpdated interface {
	Plugin
	OnSettingsUpdated(ctx context.Context, s *settings.System) error
}

// OnClientPricingUpdated is called after a client's pricing override changes.
type OnClientPricingUpdated interface {
	Plugin
	OnClientPricingUpdated(ctx context.Context, p *settings.ClientPricing) error
}

// OnAdjustmentRecorded is called after a cost adjustment is recorded.
type OnAdjustmentRecorded interface {
	Plugin
	OnAdjustmentRecorded(ctx context.Context, a *adjustment.Adjustment) error
}
