package account

import "context"

type Store interface {
	// CreateAccount inserts a new account. It fails with ErrAccountExists
	// when the client is already provisioned.
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, clientID string) (*Account, error)
	ListAccounts(ctx context.Context, opts ListOpts) ([]*Account, error)
	UpdateDisplayName(ctx context.Context, clientID, displayName string) error
}

type ListOpts struct {
	// Search matches a substring of the client id or display name.
	Search string
	Limit  int
	Offset int
}
