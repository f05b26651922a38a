// Package transaction defines the immutable records of the transaction log.
package transaction

import (
	"time"

	"github.com/xraph/credit/id"
	"github.com/xraph/credit/types"
)

type Type string

const (
	TypeCredit  Type = "CREDIT"
	TypeDebit   Type = "DEBIT"
	TypeConsume Type = "CONSUME"
	TypeRefund  Type = "REFUND"
)

// IsValid reports whether t is a known transaction type.
func (t Type) IsValid() bool {
	switch t {
	case TypeCredit, TypeDebit, TypeConsume, TypeRefund:
		return true
	}
	return false
}

// Sign is +1 for balance-increasing types and -1 for decreasing ones.
func (t Type) Sign() int64 {
	switch t {
	case TypeCredit, TypeRefund:
		return 1
	case TypeDebit, TypeConsume:
		return -1
	}
	return 0
}

// IsEmission reports whether the type is keyed by an emission id.
func (t Type) IsEmission() bool {
	return t == TypeConsume || t == TypeRefund
}

// Transaction is a single balance-changing event. Once committed it is
// never updated or deleted.
type Transaction struct {
	ID              id.TransactionID `json:"id"`
	ClientID        string           `json:"client_id"`
	Type            Type             `json:"type"`
	Amount          types.Money      `json:"amount"`
	PreviousBalance types.Money      `json:"previous_balance"`
	NewBalance      types.Money      `json:"new_balance"`
	EmissionID      string           `json:"emission_id,omitempty"`
	Description     string           `json:"description,omitempty"`
	PerformedBy     string           `json:"performed_by"`
	Sequence        int64            `json:"sequence"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Apply returns the balance that results from applying t to balance.
func (t *Transaction) Apply(balance types.Money) types.Money {
	if t.Type.Sign() > 0 {
		return balance.Add(t.Amount)
	}
	return balance.Subtract(t.Amount)
}
