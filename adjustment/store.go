package adjustment

import "context"

type Store interface {
	CreateAdjustment(ctx context.Context, a *Adjustment) error
	ListAdjustments(ctx context.Context, opts ListOpts) ([]*Adjustment, error)
}

// ListOpts filters adjustments. Empty fields match everything.
type ListOpts struct {
	ClientID   string
	EmissionID string
	Limit      int
	Offset     int
}
