// Package account defines the per-client prepaid balance record.
package account

import (
	"github.com/xraph/credit/types"
)

// Account is a client's prepaid balance. ClientID is the opaque identifier
// issued by the identity provider.
//
// Balance is never negative. Version increases by one with every committed
// transaction and equals the Sequence of the latest one.
type Account struct {
	types.Entity
	ClientID       string      `json:"client_id"`
	DisplayName    string      `json:"display_name,omitempty"`
	Balance        types.Money `json:"balance"`
	InitialBalance types.Money `json:"initial_balance"`
	Version        int64       `json:"version"`
}
