package settings

import "context"

type Store interface {
	// GetSettings returns ErrSettingsNotFound until settings are first saved.
	GetSettings(ctx context.Context) (*System, error)
	SaveSettings(ctx context.Context, s *System) error
	GetClientPricing(ctx context.Context, clientID string) (*ClientPricing, error)
	SaveClientPricing(ctx context.Context, p *ClientPricing) error
}
