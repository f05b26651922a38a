package credit

import (
	"context"

	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

// ReconcileReport is the outcome of replaying a client's transaction log.
type ReconcileReport struct {
	ClientID       string      `json:"client_id"`
	InitialBalance types.Money `json:"initial_balance"`
	Expected       types.Money `json:"expected"`
	Stored         types.Money `json:"stored"`
	Transactions   int         `json:"transactions"`
	Consistent     bool        `json:"consistent"`
	// BrokenAt is the sequence of the first transaction whose snapshot
	// does not chain from its predecessor, or zero.
	BrokenAt int64 `json:"broken_at,omitempty"`
}

// Reconcile replays the client's transactions in sequence order from the
// provisioned balance and compares the result with the stored balance.
func (l *Ledger) Reconcile(ctx context.Context, clientID string) (*ReconcileReport, error) {
	unlock := l.locks.Lock(clientID)
	defer unlock()

	a, err := l.store.GetAccount(ctx, clientID)
	if err != nil {
		return nil, err
	}
	txs, err := l.store.ListTransactions(ctx, clientID, transaction.ListOpts{Ascending: true})
	if err != nil {
		return nil, err
	}

	r := &ReconcileReport{
		ClientID:       clientID,
		InitialBalance: a.InitialBalance,
		Stored:         a.Balance,
	}

	running := a.InitialBalance
	for _, tx := range txs {
		// Commits after the account read belong to a later snapshot.
		if tx.Sequence > a.Version {
			break
		}
		r.Transactions++

		next := tx.Apply(running)
		if r.BrokenAt == 0 && (tx.Sequence != int64(r.Transactions) ||
			!tx.PreviousBalance.Equal(running) ||
			!tx.NewBalance.Equal(next) ||
			next.IsNegative()) {
			r.BrokenAt = tx.Sequence
		}
		running = next
	}

	r.Expected = running
	r.Consistent = r.BrokenAt == 0 &&
		int64(r.Transactions) == a.Version &&
		r.Expected.Equal(r.Stored)

	if !r.Consistent {
		l.logger.Error("ledger reconciliation failed",
			"client_id", clientID,
			"expected", r.Expected.String(),
			"stored", r.Stored.String(),
			"transactions", r.Transactions,
			"version", a.Version,
			"broken_at", r.BrokenAt,
		)
	}

	return r, nil
}
