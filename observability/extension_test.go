package observability_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/credit"
	"github.com/xraph/credit/observability"
	"github.com/xraph/credit/store/memory"
	"github.com/xraph/credit/types"
)

func TestMetricsExtensionCountsLedgerEvents(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	l := credit.New(memory.New(),
		credit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		credit.WithPlugin(m),
	)
	if _, err := l.EnsureProvisioned(ctx, "acme", ""); err != nil {
		t.Fatalf("EnsureProvisioned() error: %v", err)
	}
	if _, err := l.Credit(ctx, "acme", types.USD(10000), "top up", "admin"); err != nil {
		t.Fatalf("Credit() error: %v", err)
	}
	for _, e := range []string{"E1", "E2"} {
		if _, err := l.ConsumeForEmission(ctx, "acme", e, types.USD(2500), "label"); err != nil {
			t.Fatalf("ConsumeForEmission(%s) error: %v", e, err)
		}
	}
	if _, err := l.RefundForEmission(ctx, "acme", "E1", types.USD(2500), "rejected"); err != nil {
		t.Fatalf("RefundForEmission() error: %v", err)
	}
	if _, err := l.Debit(ctx, "acme", types.USD(1_000_000), "too much", "admin"); err == nil {
		t.Fatal("Debit() succeeded, want insufficient funds")
	}

	tests := []struct {
		name    string
		counter observability.Counter
		want    float64
	}{
		{"provisioned", m.AccountsProvisioned, 1},
		{"credits", m.Credits, 1},
		{"consumptions", m.Consumptions, 2},
		{"refunds", m.Refunds, 1},
		{"debits", m.Debits, 0},
		{"insufficient funds", m.InsufficientFunds, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.counter.(prometheus.Counter)); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	n, err := testutil.GatherAndCount(reg, "credit_transaction_consume_amount")
	if err != nil {
		t.Fatalf("GatherAndCount() error: %v", err)
	}
	if n != 1 {
		t.Errorf("consume amount series = %d, want 1", n)
	}
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	a := observability.NewPrometheusFactory(reg).Counter("credit.test.events")
	b := observability.NewPrometheusFactory(reg).Counter("credit.test.events")
	a.Inc()
	b.Add(2)

	if got := testutil.ToFloat64(a.(prometheus.Counter)); got != 3 {
		t.Errorf("counter = %v, want 3", got)
	}
}
