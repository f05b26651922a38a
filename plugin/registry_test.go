package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

type recorder struct {
	name string

	mu    sync.Mutex
	calls []string
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) OnConsumed(_ context.Context, tx *transaction.Transaction) error {
	r.add("consumed:" + tx.EmissionID)
	return nil
}

func (r *recorder) OnRefunded(_ context.Context, tx *transaction.Transaction) error {
	r.add("refunded:" + tx.EmissionID)
	return errors.New("boom")
}

func (r *recorder) OnLowBalance(_ context.Context, clientID string, _, _ types.Money) error {
	r.add("low:" + clientID)
	return nil
}

type slowPlugin struct{}

func (slowPlugin) Name() string { return "slow" }

func (slowPlugin) OnCredited(ctx context.Context, _ *transaction.Transaction) error {
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
	}
	return nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&recorder{name: "a"}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := r.Register(&recorder{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
	if r.Get("a") == nil {
		t.Error("Get(a) = nil")
	}
	if r.Get("missing") != nil {
		t.Error("Get(missing) != nil")
	}
}

func TestEmitTransactionDispatchesByType(t *testing.T) {
	rec := &recorder{name: "rec"}
	r := NewRegistry()
	if err := r.Register(rec); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	ctx := context.Background()
	r.EmitTransaction(ctx, &transaction.Transaction{Type: transaction.TypeConsume, EmissionID: "E1"})
	r.EmitTransaction(ctx, &transaction.Transaction{Type: transaction.TypeRefund, EmissionID: "E1"})
	r.EmitTransaction(ctx, &transaction.Transaction{Type: transaction.TypeCredit})
	r.EmitLowBalance(ctx, "c1", types.USD(1), types.USD(10))

	want := []string{"consumed:E1", "refunded:E1", "low:c1"}
	if len(rec.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", rec.calls, want)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, rec.calls[i], want[i])
		}
	}
}

func TestHookTimeout(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	if err := r.Register(slowPlugin{}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	start := time.Now()
	r.EmitTransaction(context.Background(), &transaction.Transaction{Type: transaction.TypeCredit})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("emit blocked for %v, want timeout near 20ms", elapsed)
	}
}

func TestImplementedInterfaces(t *testing.T) {
	got := implementedInterfaces(&recorder{name: "rec"})
	want := map[string]bool{"OnConsumed": true, "OnRefunded": true, "OnLowBalance": true}
	if len(got) != len(want) {
		t.Fatalf("implementedInterfaces() = %v", got)
	}
	for _, name := range got {
		if !want[name] {
			t.Errorf("unexpected interface %q", name)
		}
	}
}
