package credit

import "github.com/xraph/credit/id"

// ID is the identifier type of transactions and adjustments.
type ID = id.ID

// TransactionID identifies a ledger transaction.
type TransactionID = id.TransactionID

// ParseTransactionID parses a "txn_" identifier.
var ParseTransactionID = id.ParseTransactionID
