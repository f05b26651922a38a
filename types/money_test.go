package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"BRL", BRL(10000), 10000, "brl", "R$100.00"},
		{"New upper-case currency", New(250, "EUR"), 250, "eur", "€2.50"},
		{"New zero-decimal", New(100, "jpy"), 100, "jpy", "¥100"},
		{"Unknown currency", New(1234, "xyz"), 1234, "xyz", "XYZ 12.34"},
		{"Zero USD", Zero("USD"), 0, "usd", "$0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return USD(100).Add(USD(200)) }, USD(300)},
		{"Subtract", func() Money { return USD(500).Subtract(USD(200)) }, USD(300)},
		{"Negate", func() Money { return USD(100).Negate() }, USD(-100)},
		{"Sum", func() Money { return Sum("usd", USD(100), USD(250), USD(-50)) }, USD(300)},
		{"Sum empty", func() Money { return Sum("usd") }, USD(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.op()
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for currency mismatch")
		}
	}()

	_ = USD(100).Add(BRL(100))
}

func TestMoneyComparison(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Money
		less    bool
		greater bool
		equal   bool
	}{
		{"Equal", USD(100), USD(100), false, false, true},
		{"Less", USD(50), USD(100), true, false, false},
		{"Greater", USD(200), USD(100), false, true, false},
		{"Zero equal", USD(0), Zero("usd"), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.LessThan(tt.b); got != tt.less {
				t.Errorf("LessThan: got %v, want %v", got, tt.less)
			}
			if got := tt.a.GreaterThan(tt.b); got != tt.greater {
				t.Errorf("GreaterThan: got %v, want %v", got, tt.greater)
			}
			if got := tt.a.Equal(tt.b); got != tt.equal {
				t.Errorf("Equal: got %v, want %v", got, tt.equal)
			}
		})
	}
}

func TestMoneyFormatMajor(t *testing.T) {
	tests := []struct {
		money    Money
		expected string
	}{
		{USD(4900), "49.00"},
		{USD(1), "0.01"},
		{USD(0), "0.00"},
		{USD(-4900), "-49.00"},
		{USD(-1), "-0.01"},
		{New(12345, "jpy"), "12345"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.money.FormatMajor(); got != tt.expected {
				t.Errorf("FormatMajor: got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in       string
		currency string
		want     Money
		wantErr  bool
	}{
		{"46.00", "usd", USD(4600), false},
		{"46", "usd", USD(4600), false},
		{" 0.5 ", "usd", USD(50), false},
		{"100.10", "brl", BRL(10010), false},
		{"50.0050", "usd", Money{}, true},
		{"50.005", "usd", Money{}, true},
		{"1.5", "jpy", Money{}, true},
		{"abc", "usd", Money{}, true},
		{"", "usd", Money{}, true},
		{"-3.25", "usd", USD(-325), false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in, tt.currency)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromDecimalRoundsHalfUp(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"36.663", 3666},
		{"0.055", 6},
		{"0.054", 5},
		{"115", 11500},
		{"2.345", 235},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := FromDecimal(decimal.RequireFromString(tt.in), "usd")
			if got.Amount != tt.want {
				t.Errorf("FromDecimal(%s) = %d, want %d", tt.in, got.Amount, tt.want)
			}
		})
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	m := USD(12345)
	if got := m.Decimal().String(); got != "123.45" {
		t.Errorf("Decimal() = %s, want 123.45", got)
	}
	if back := FromDecimal(m.Decimal(), "usd"); !back.Equal(m) {
		t.Errorf("FromDecimal(Decimal()) = %v, want %v", back, m)
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(BRL(4600))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if out["amount"] != float64(4600) {
		t.Errorf("amount = %v, want 4600", out["amount"])
	}
	if out["currency"] != "brl" {
		t.Errorf("currency = %v, want brl", out["currency"])
	}
	if out["display"] != "R$46.00" {
		t.Errorf("display = %v, want R$46.00", out["display"])
	}
}
