// Package store defines the unified persistence interface of the credit
// ledger. Backends live in the memory, postgres, sqlite and mongo
// sub-packages.
package store

import (
	"context"

	"github.com/xraph/credit/account"
	"github.com/xraph/credit/adjustment"
	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/transaction"
)

// Store is the unified storage interface for all ledger records.
// Method names are unique across the embedded interfaces.
type Store interface {
	account.Store
	transaction.Store
	settings.Store
	adjustment.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
