package credit

import (
	"github.com/xraph/credit/account"
	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

// Re-export common types so callers rarely need the sub-packages.

// Money is re-exported from the types package.
type Money = types.Money

// Account is re-exported from the account package.
type Account = account.Account

// Transaction is re-exported from the transaction package.
type Transaction = transaction.Transaction

// Transaction types.
const (
	TypeCredit  = transaction.TypeCredit
	TypeDebit   = transaction.TypeDebit
	TypeConsume = transaction.TypeConsume
	TypeRefund  = transaction.TypeRefund
)

// Re-export Money constructors.
var (
	USD        = types.USD
	BRL        = types.BRL
	Zero       = types.Zero
	ParseMoney = types.Parse
)
