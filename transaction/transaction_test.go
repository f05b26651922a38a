package transaction

import (
	"testing"

	"github.com/xraph/credit/types"
)

func TestTypeProperties(t *testing.T) {
	tests := []struct {
		typ      Type
		valid    bool
		sign     int64
		emission bool
	}{
		{TypeCredit, true, 1, false},
		{TypeDebit, true, -1, false},
		{TypeConsume, true, -1, true},
		{TypeRefund, true, 1, true},
		{Type("BOGUS"), false, 0, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
			if got := tt.typ.Sign(); got != tt.sign {
				t.Errorf("Sign() = %d, want %d", got, tt.sign)
			}
			if got := tt.typ.IsEmission(); got != tt.emission {
				t.Errorf("IsEmission() = %v, want %v", got, tt.emission)
			}
		})
	}
}

func TestApply(t *testing.T) {
	start := types.USD(10000)

	tests := []struct {
		typ  Type
		want int64
	}{
		{TypeCredit, 14600},
		{TypeRefund, 14600},
		{TypeDebit, 5400},
		{TypeConsume, 5400},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			tx := &Transaction{Type: tt.typ, Amount: types.USD(4600)}
			if got := tx.Apply(start); got.Amount != tt.want {
				t.Errorf("Apply() = %d, want %d", got.Amount, tt.want)
			}
		})
	}
}
