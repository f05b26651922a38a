// Package observability provides a metrics plugin for the credit ledger
// that counts balance events through a pluggable MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/credit/account"
	"github.com/xraph/credit/adjustment"
	"github.com/xraph/credit/plugin"
	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnAccountProvisioned = (*MetricsExtension)(nil)
	_ plugin.OnCredited           = (*MetricsExtension)(nil)
	_ plugin.OnDebited            = (*MetricsExtension)(nil)
	_ plugin.OnConsumed           = (*MetricsExtension)(nil)
	_ plugin.OnRefunded           = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientFunds  = (*MetricsExtension)(nil)
	_ plugin.OnLowBalance         = (*MetricsExtension)(nil)
	_ plugin.OnSettingsUpdated    = (*MetricsExtension)(nil)
	_ plugin.OnAdjustmentRecorded = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records ledger event metrics. Amount histograms observe
// values in major currency units.
type MetricsExtension struct {
	AccountsProvisioned Counter

	// Balance movements
	Credits        Counter
	Debits         Counter
	Consumptions   Counter
	Refunds        Counter
	CreditedAmount Histogram
	ConsumedAmount Histogram
	RefundedAmount Histogram

	// Rejections and alerts
	InsufficientFunds Counter
	LowBalance        Counter

	// Administration
	SettingsUpdated     Counter
	AdjustmentsRecorded Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		AccountsProvisioned: factory.Counter("credit.account.provisioned"),

		Credits:        factory.Counter("credit.transaction.credit"),
		Debits:         factory.Counter("credit.transaction.debit"),
		Consumptions:   factory.Counter("credit.transaction.consume"),
		Refunds:        factory.Counter("credit.transaction.refund"),
		CreditedAmount: factory.Histogram("credit.transaction.credit.amount"),
		ConsumedAmount: factory.Histogram("credit.transaction.consume.amount"),
		RefundedAmount: factory.Histogram("credit.transaction.refund.amount"),

		InsufficientFunds: factory.Counter("credit.charge.insufficient_funds"),
		LowBalance:        factory.Counter("credit.balance.low"),

		SettingsUpdated:     factory.Counter("credit.settings.updated"),
		AdjustmentsRecorded: factory.Counter("credit.adjustment.recorded"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnAccountProvisioned implements plugin.OnAccountProvisioned.
func (m *MetricsExtension) OnAccountProvisioned(_ context.Context, _ *account.Account) error {
	m.AccountsProvisioned.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnCredited implements plugin.OnCredited.
func (m *MetricsExtension) OnCredited(_ context.Context, tx *transaction.Transaction) error {
	m.Credits.Inc()
	m.CreditedAmount.Observe(major(tx.Amount))
	return nil
}

// OnDebited implements plugin.OnDebited.
func (m *MetricsExtension) OnDebited(_ context.Context, _ *transaction.Transaction) error {
	m.Debits.Inc()
	return nil
}

// OnConsumed implements plugin.OnConsumed.
func (m *MetricsExtension) OnConsumed(_ context.Context, tx *transaction.Transaction) error {
	m.Consumptions.Inc()
	m.ConsumedAmount.Observe(major(tx.Amount))
	return nil
}

// OnRefunded implements plugin.OnRefunded.
func (m *MetricsExtension) OnRefunded(_ context.Context, tx *transaction.Transaction) error {
	m.Refunds.Inc()
	m.RefundedAmount.Observe(major(tx.Amount))
	return nil
}

// OnInsufficientFunds implements plugin.OnInsufficientFunds.
func (m *MetricsExtension) OnInsufficientFunds(_ context.Context, _ string, _, _ types.Money) error {
	m.InsufficientFunds.Inc()
	return nil
}

// OnLowBalance implements plugin.OnLowBalance.
func (m *MetricsExtension) OnLowBalance(_ context.Context, _ string, _, _ types.Money) error {
	m.LowBalance.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Administration hooks
// ──────────────────────────────────────────────────

// OnSettingsUpdated implements plugin.OnSettingsUpdated.
func (m *MetricsExtension) OnSettingsUpdated(_ context.Context, _ *settings.System) error {
	m.SettingsUpdated.Inc()
	return nil
}

// OnAdjustmentRecorded implements plugin.OnAdjustmentRecorded.
func (m *MetricsExtension) OnAdjustmentRecorded(_ context.Context, _ *adjustment.Adjustment) error {
	m.AdjustmentsRecorded.Inc()
	return nil
}

func major(m types.Money) float64 {
	f, _ := m.Decimal().Float64()
	return f
}
