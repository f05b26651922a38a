// Package adjustment records administrative cost adjustments for emitted
// labels. Adjustments annotate history only; they never change a balance.
package adjustment

import (
	"time"

	"github.com/xraph/credit/id"
	"github.com/xraph/credit/types"
)

type Adjustment struct {
	ID           id.AdjustmentID `json:"id"`
	ClientID     string          `json:"client_id"`
	EmissionID   string          `json:"emission_id"`
	OriginalCost types.Money     `json:"original_cost"`
	AdjustedCost types.Money     `json:"adjusted_cost"`
	SalePrice    types.Money     `json:"sale_price"`
	Reason       string          `json:"reason"`
	PerformedBy  string          `json:"performed_by"`
	CreatedAt    time.Time       `json:"created_at"`
}
