package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/types"
)

func pct(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestApply(t *testing.T) {
	tests := []struct {
		name   string
		cost   int64
		markup string
		want   int64
	}{
		{"100.00 at 15%", 10000, "15", 11500},
		{"40.00 at 15%", 4000, "15", 4600},
		{"33.33 at 10% rounds down", 3333, "10", 3666},
		{"0.05 at 10% rounds half up", 5, "10", 6},
		{"12.34 at 12.5%", 1234, "12.5", 1388},
		{"zero markup", 2599, "0", 2599},
		{"zero cost", 0, "20", 0},
		{"fractional markup half up", 1000, "0.05", 1001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(types.USD(tt.cost), decimal.RequireFromString(tt.markup))
			if err != nil {
				t.Fatalf("Apply() error: %v", err)
			}
			if got.Amount != tt.want {
				t.Errorf("Apply(%d, %s) = %d, want %d", tt.cost, tt.markup, got.Amount, tt.want)
			}
			if got.Currency != "usd" {
				t.Errorf("currency = %q, want usd", got.Currency)
			}
		})
	}
}

func TestApplyRejectsNegatives(t *testing.T) {
	if _, err := Apply(types.USD(-1), decimal.NewFromInt(10)); !errors.Is(err, ErrInvalidCost) {
		t.Errorf("negative cost: err = %v, want ErrInvalidCost", err)
	}
	if _, err := Apply(types.USD(100), decimal.NewFromInt(-1)); !errors.Is(err, ErrInvalidMarkup) {
		t.Errorf("negative markup: err = %v, want ErrInvalidMarkup", err)
	}
}

func TestResolveMarkup(t *testing.T) {
	sys := settings.System{DefaultMarkupPercentage: decimal.NewFromInt(15)}

	tests := []struct {
		name string
		cp   *settings.ClientPricing
		want string
	}{
		{"no client pricing", nil, "15"},
		{"client pricing without markup", &settings.ClientPricing{ClientID: "c1"}, "15"},
		{"client override", &settings.ClientPricing{ClientID: "c1", MarkupPercentage: pct("10")}, "10"},
		{"zero override", &settings.ClientPricing{ClientID: "c1", MarkupPercentage: pct("0")}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveMarkup(sys, tt.cp)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ResolveMarkup() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPrice(t *testing.T) {
	sys := settings.System{DefaultMarkupPercentage: decimal.NewFromInt(15)}

	q, err := Price(types.USD(4000), sys, nil)
	if err != nil {
		t.Fatalf("Price() error: %v", err)
	}
	if q.SaleAmount.Amount != 4600 {
		t.Errorf("SaleAmount = %d, want 4600", q.SaleAmount.Amount)
	}
	if q.CarrierCost.Amount != 4000 {
		t.Errorf("CarrierCost = %d, want 4000", q.CarrierCost.Amount)
	}
	if !q.MarkupPercentage.Equal(decimal.NewFromInt(15)) {
		t.Errorf("MarkupPercentage = %s, want 15", q.MarkupPercentage)
	}

	q, err = Price(types.USD(3333), sys, &settings.ClientPricing{MarkupPercentage: pct("10")})
	if err != nil {
		t.Fatalf("Price() error: %v", err)
	}
	if q.SaleAmount.Amount != 3666 {
		t.Errorf("SaleAmount = %d, want 3666", q.SaleAmount.Amount)
	}
}
