package transaction

import (
	"context"

	"github.com/xraph/credit/id"
)

type Store interface {
	// CommitTransaction atomically sets the client's balance to
	// tx.NewBalance and its version to tx.Sequence, and appends tx, provided
	// the account is still at expectedVersion. Nothing is written on failure.
	//
	// A version mismatch yields ErrStorageConflict; a second CONSUME or
	// REFUND for the same (client, emission) yields ErrDuplicateEmission.
	CommitTransaction(ctx context.Context, expectedVersion int64, tx *Transaction) error
	GetTransaction(ctx context.Context, txID id.TransactionID) (*Transaction, error)
	// FindByEmission returns the CONSUME and REFUND records of an emission
	// in sequence order.
	FindByEmission(ctx context.Context, clientID, emissionID string) ([]*Transaction, error)
	ListTransactions(ctx context.Context, clientID string, opts ListOpts) ([]*Transaction, error)
}

type ListOpts struct {
	Type Type
	// Ascending orders by sequence from oldest; the default is newest first.
	Ascending bool
	Limit     int
	Offset    int
}
