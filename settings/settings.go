// Package settings holds the process-wide ledger defaults and the
// per-client pricing overrides.
package settings

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/credit/types"
)

// System is the read-mostly configuration consumed by provisioning,
// pricing and the low-balance evaluator. It is passed around by value.
type System struct {
	DefaultInitialCredits   types.Money     `json:"default_initial_credits"`
	DefaultMarkupPercentage decimal.Decimal `json:"default_markup_percentage"`
	LowBalanceThreshold     types.Money     `json:"low_balance_threshold"`
	UpdatedBy               string          `json:"updated_by,omitempty"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// ClientPricing is a client's pricing override. A nil MarkupPercentage
// means the system default applies; an empty EnabledCarriers means every
// carrier is enabled.
type ClientPricing struct {
	ClientID         string           `json:"client_id"`
	MarkupPercentage *decimal.Decimal `json:"markup_percentage,omitempty"`
	EnabledCarriers  []string         `json:"enabled_carriers,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// CarrierEnabled reports whether carrier may be used by the client.
func (p *ClientPricing) CarrierEnabled(carrier string) bool {
	if p == nil || len(p.EnabledCarriers) == 0 {
		return true
	}
	return slices.ContainsFunc(p.EnabledCarriers, func(c string) bool {
		return strings.EqualFold(c, carrier)
	})
}
