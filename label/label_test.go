package label_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/xraph/credit"
	"github.com/xraph/credit/label"
	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/store/memory"
	"github.com/xraph/credit/types"
)

var errRejected = errors.New("address not serviceable")

// fakeCarrier quotes 40.00 unless the shipment carries a "cost" in cents,
// and fails the first `failures` label calls.
type fakeCarrier struct {
	failures atomic.Int32
	quotes   atomic.Int32
	calls    atomic.Int32

	mu       sync.Mutex
	requests []label.CarrierRequest
}

func (c *fakeCarrier) Quote(_ context.Context, req label.CarrierRequest) (types.Money, error) {
	c.quotes.Add(1)
	if cost, ok := req.Shipment["cost"].(int64); ok {
		return types.USD(cost), nil
	}
	return types.USD(4000), nil
}

func (c *fakeCarrier) CreateLabel(_ context.Context, req label.CarrierRequest) (*label.Label, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.failures.Load() > 0 {
		c.failures.Add(-1)
		return nil, errRejected
	}
	return &label.Label{TrackingNumber: "TRK-" + req.EmissionID}, nil
}

func setup(t *testing.T) (*credit.Ledger, *label.Workflow, *fakeCarrier) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := credit.New(memory.New(),
		credit.WithLogger(logger),
		credit.WithDefaults(settings.System{
			DefaultInitialCredits:   types.USD(10000),
			DefaultMarkupPercentage: decimal.NewFromInt(15),
			LowBalanceThreshold:     types.USD(6000),
		}),
	)
	c := &fakeCarrier{}
	w := label.NewWorkflow(l, label.WithLogger(logger), label.WithCarrier("FedEx", c))
	return l, w, c
}

func TestEmitChargesCarrierQuote(t *testing.T) {
	ctx := context.Background()
	l, w, c := setup(t)

	res, err := w.Emit(ctx, label.Request{ClientID: "acme", EmissionID: "E1", Carrier: "fedex"})
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if res.Quote.CarrierCost.Amount != 4000 || res.Quote.SaleAmount.Amount != 4600 {
		t.Errorf("quote = %+v, want 40.00 -> 46.00", res.Quote)
	}
	if res.Transaction.Amount.Amount != 4600 {
		t.Errorf("charged %d, want 4600", res.Transaction.Amount.Amount)
	}
	if res.Label.TrackingNumber != "TRK-E1" {
		t.Errorf("tracking = %q", res.Label.TrackingNumber)
	}
	if !res.LowBalance {
		t.Error("LowBalance = false, want true (54.00 < 60.00)")
	}

	// Same emission id: the carrier is asked for the label again with the
	// same request, but nothing is quoted or charged.
	again, err := w.Emit(ctx, label.Request{
		ClientID:   "acme",
		EmissionID: "E1",
		Carrier:    "fedex",
		Shipment:   map[string]any{"cost": int64(1)},
	})
	if err != nil {
		t.Fatalf("second Emit() error: %v", err)
	}
	if again.Transaction.ID.String() != res.Transaction.ID.String() {
		t.Error("second Emit() created a new charge")
	}
	if again.Quote != nil {
		t.Errorf("second Emit() quote = %+v, want nil", again.Quote)
	}
	if got := c.quotes.Load(); got != 1 {
		t.Errorf("carrier quotes = %d, want 1", got)
	}
	if got := c.calls.Load(); got != 2 {
		t.Errorf("carrier label calls = %d, want 2", got)
	}
	for _, req := range c.requests {
		if req.EmissionID != "E1" || req.ClientID != "acme" {
			t.Errorf("carrier request = %+v, want acme/E1", req)
		}
	}

	bal, err := l.GetBalance(ctx, "acme")
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	if bal.Amount != 5400 {
		t.Errorf("balance = %d, want 5400", bal.Amount)
	}
}

func TestQuoteChargesNothing(t *testing.T) {
	ctx := context.Background()
	l, w, c := setup(t)
	provisionClient(t, l, "acme")

	q, err := w.Quote(ctx, label.Request{ClientID: "acme", Carrier: "FEDEX", Shipment: map[string]any{"cost": int64(3333)}})
	if err != nil {
		t.Fatalf("Quote() error: %v", err)
	}
	if q.SaleAmount.Amount != 3833 {
		t.Errorf("SaleAmount = %d, want 3833", q.SaleAmount.Amount)
	}
	if c.calls.Load() != 0 {
		t.Errorf("carrier label calls = %d, want 0", c.calls.Load())
	}
	if bal, _ := l.GetBalance(ctx, "acme"); bal.Amount != 10000 {
		t.Errorf("balance = %d, want 10000", bal.Amount)
	}
}

func TestEmitRefundsOnCarrierFailure(t *testing.T) {
	ctx := context.Background()
	l, w, c := setup(t)
	c.failures.Store(1)

	_, err := w.Emit(ctx, label.Request{ClientID: "acme", EmissionID: "E1", Carrier: "fedex"})
	if !errors.Is(err, errRejected) {
		t.Fatalf("Emit() err = %v, want carrier error", err)
	}
	var ce *label.CarrierError
	if !errors.As(err, &ce) || !ce.Charged || !ce.Refunded {
		t.Errorf("err = %#v, want charged and refunded CarrierError", err)
	}

	bal, _ := l.GetBalance(ctx, "acme")
	if bal.Amount != 10000 {
		t.Errorf("balance after refund = %d, want 10000", bal.Amount)
	}

	// The refunded emission is closed; a new attempt needs a new id.
	_, err = w.Emit(ctx, label.Request{ClientID: "acme", EmissionID: "E1", Carrier: "fedex"})
	if !errors.Is(err, credit.ErrEmissionClosed) {
		t.Fatalf("retry with same id err = %v, want ErrEmissionClosed", err)
	}

	res, err := w.Emit(ctx, label.Request{ClientID: "acme", Carrier: "fedex"})
	if err != nil {
		t.Fatalf("Emit() with fresh id error: %v", err)
	}
	if res.EmissionID == "" || res.EmissionID == "E1" {
		t.Errorf("emission id = %q, want generated", res.EmissionID)
	}
}

func TestEmitQuoteFailureChargesNothing(t *testing.T) {
	ctx := context.Background()
	l, _, _ := setup(t)
	errNoQuote := errors.New("no service to destination")
	w := label.NewWorkflow(l, label.WithCarrier("ups", label.CarrierFuncs{
		QuoteFunc: func(context.Context, label.CarrierRequest) (types.Money, error) {
			return types.Money{}, errNoQuote
		},
		LabelFunc: func(context.Context, label.CarrierRequest) (*label.Label, error) {
			t.Error("label requested without a quote")
			return nil, nil
		},
	}))

	_, err := w.Emit(ctx, label.Request{ClientID: "acme", EmissionID: "E1", Carrier: "ups"})
	var ce *label.CarrierError
	if !errors.As(err, &ce) || ce.Charged || !errors.Is(err, errNoQuote) {
		t.Fatalf("Emit() err = %#v, want uncharged CarrierError", err)
	}
	state, err := l.EmissionState(ctx, "acme", "E1")
	if err != nil {
		t.Fatalf("EmissionState() error: %v", err)
	}
	if state != credit.EmissionNone {
		t.Errorf("state = %s, want NONE", state)
	}
}

func TestEmitRejections(t *testing.T) {
	ctx := context.Background()
	l, w, c := setup(t)

	if err := l.SetClientPricing(ctx, &settings.ClientPricing{ClientID: "picky", EnabledCarriers: []string{"ups"}}); err != nil {
		t.Fatalf("SetClientPricing() error: %v", err)
	}

	expensive := map[string]any{"cost": int64(100000)}
	tests := []struct {
		name    string
		req     label.Request
		wantErr error
	}{
		{"missing client", label.Request{Carrier: "fedex"}, credit.ErrInvalidInput},
		{"unknown carrier", label.Request{ClientID: "acme", Carrier: "dhl"}, credit.ErrInvalidInput},
		{"carrier disabled", label.Request{ClientID: "picky", Carrier: "fedex"}, credit.ErrCarrierDisabled},
		{"insufficient funds", label.Request{ClientID: "acme", Carrier: "fedex", Shipment: expensive}, credit.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := w.Emit(ctx, tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("Emit() err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if c.calls.Load() != 0 {
		t.Errorf("carrier called %d times for rejected requests", c.calls.Load())
	}
}

func provisionClient(t *testing.T, l *credit.Ledger, clientID string) {
	t.Helper()
	if _, err := l.EnsureProvisioned(context.Background(), clientID, ""); err != nil {
		t.Fatalf("EnsureProvisioned() error: %v", err)
	}
}

func TestNewEmissionIDIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := label.NewEmissionID()
		if seen[id] {
			t.Fatalf("duplicate emission id %s", id)
		}
		seen[id] = true
	}
}
