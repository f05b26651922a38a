package credit

import (
	"context"

	"github.com/xraph/credit/types"
)

// BalanceStatus is a client's balance compared with the low-balance
// threshold.
type BalanceStatus struct {
	ClientID  string      `json:"client_id"`
	Balance   types.Money `json:"balance"`
	Threshold types.Money `json:"threshold"`
	Low       bool        `json:"low"`
}

// BalanceStatus evaluates the client's balance against the configured
// low-balance threshold. It is a pure read and never blocks a charge.
func (l *Ledger) BalanceStatus(ctx context.Context, clientID string) (*BalanceStatus, error) {
	balance, err := l.GetBalance(ctx, clientID)
	if err != nil {
		return nil, err
	}
	sys, err := l.Settings(ctx)
	if err != nil {
		return nil, err
	}
	return &BalanceStatus{
		ClientID:  clientID,
		Balance:   balance,
		Threshold: sys.LowBalanceThreshold,
		Low:       balance.LessThan(sys.LowBalanceThreshold),
	}, nil
}

// IsLow reports whether the client's balance is below the threshold.
func (l *Ledger) IsLow(ctx context.Context, clientID string) (bool, error) {
	st, err := l.BalanceStatus(ctx, clientID)
	if err != nil {
		return false, err
	}
	return st.Low, nil
}
