// Package credit implements a prepaid credit ledger for a shipping-label
// service.
//
// Every client holds a single balance in the ledger currency. Balances are
// changed only by transactions, which are immutable and carry a snapshot of
// the balance before and after:
//
//   - CREDIT and DEBIT are administrative adjustments.
//   - CONSUME bills one label emission and is idempotent on the emission id.
//   - REFUND returns a consumption when the carrier rejects the label.
//
// Balances never go negative, and replaying a client's transactions from
// the provisioned balance reproduces the stored balance (see Reconcile).
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/credit"
//	    "github.com/xraph/credit/store/postgres"
//	)
//
//	st, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	l := credit.New(st,
//	    credit.WithCurrency("brl"),
//	    credit.WithDefaults(settings.System{
//	        DefaultInitialCredits:   credit.BRL(10000),
//	        DefaultMarkupPercentage: decimal.NewFromInt(15),
//	        LowBalanceThreshold:     credit.BRL(2000),
//	    }),
//	)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Billing a label
//
//	quote, err := l.Price(ctx, clientID, credit.BRL(4000))
//	tx, err := l.ConsumeForEmission(ctx, clientID, emissionID, quote.SaleAmount, "label")
//	if errors.Is(err, credit.ErrInsufficientFunds) {
//	    // show the shortfall to the user
//	}
//
// Retrying ConsumeForEmission with the same emission id never charges
// twice. If the carrier then fails, RefundForEmission with the same id and
// amount restores the balance; the emission is closed afterwards.
//
// # Concurrency
//
// Mutations for one client are serialized by a per-client lock and by a
// version-checked commit in the store, which writes the balance and the
// transaction together. Concurrent writers from other processes surface as
// ErrStorageConflict, which the ledger retries with exponential backoff.
package credit
