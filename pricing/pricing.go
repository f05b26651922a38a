// Package pricing turns a carrier-quoted freight cost into the amount
// charged to a client. Everything here is a pure function of its inputs;
// settings are resolved by the caller.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/types"
)

var (
	ErrInvalidCost   = errors.New("pricing: carrier cost must not be negative")
	ErrInvalidMarkup = errors.New("pricing: markup percentage must not be negative")
)

var hundred = decimal.NewFromInt(100)

// Quote is a priced carrier cost.
type Quote struct {
	CarrierCost      types.Money     `json:"carrier_cost"`
	MarkupPercentage decimal.Decimal `json:"markup_percentage"`
	SaleAmount       types.Money     `json:"sale_amount"`
}

// ResolveMarkup returns the client's override when present, else the
// system default.
func ResolveMarkup(sys settings.System, cp *settings.ClientPricing) decimal.Decimal {
	if cp != nil && cp.MarkupPercentage != nil {
		return *cp.MarkupPercentage
	}
	return sys.DefaultMarkupPercentage
}

// Apply computes cost × (1 + markup/100) rounded half-up to the currency's
// minor unit.
func Apply(cost types.Money, markup decimal.Decimal) (types.Money, error) {
	if cost.IsNegative() {
		return types.Money{}, ErrInvalidCost
	}
	if markup.IsNegative() {
		return types.Money{}, ErrInvalidMarkup
	}

	factor := decimal.NewFromInt(1).Add(markup.Div(hundred))
	return types.FromDecimal(cost.Decimal().Mul(factor), cost.Currency), nil
}

// Price resolves the markup and applies it.
func Price(cost types.Money, sys settings.System, cp *settings.ClientPricing) (*Quote, error) {
	markup := ResolveMarkup(sys, cp)
	sale, err := Apply(cost, markup)
	if err != nil {
		return nil, err
	}
	return &Quote{
		CarrierCost:      cost,
		MarkupPercentage: markup,
		SaleAmount:       sale,
	}, nil
}
