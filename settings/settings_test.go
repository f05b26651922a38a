package settings

import "testing"

func TestCarrierEnabled(t *testing.T) {
	tests := []struct {
		name    string
		pricing *ClientPricing
		carrier string
		want    bool
	}{
		{"nil pricing", nil, "fedex", true},
		{"empty set", &ClientPricing{}, "fedex", true},
		{"listed", &ClientPricing{EnabledCarriers: []string{"ups", "fedex"}}, "fedex", true},
		{"case-insensitive", &ClientPricing{EnabledCarriers: []string{"UPS"}}, "ups", true},
		{"not listed", &ClientPricing{EnabledCarriers: []string{"ups"}}, "dhl", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pricing.CarrierEnabled(tt.carrier); got != tt.want {
				t.Errorf("CarrierEnabled(%q) = %v, want %v", tt.carrier, got, tt.want)
			}
		})
	}
}
