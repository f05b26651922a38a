// Package audithook bridges credit ledger events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/credit/account"
	"github.com/xraph/credit/adjustment"
	"github.com/xraph/credit/plugin"
	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnAccountProvisioned   = (*Extension)(nil)
	_ plugin.OnCredited             = (*Extension)(nil)
	_ plugin.OnDebited              = (*Extension)(nil)
	_ plugin.OnConsumed             = (*Extension)(nil)
	_ plugin.OnRefunded             = (*Extension)(nil)
	_ plugin.OnInsufficientFunds    = (*Extension)(nil)
	_ plugin.OnLowBalance           = (*Extension)(nil)
	_ plugin.OnSettingsUpdated      = (*Extension)(nil)
	_ plugin.OnClientPricingUpdated = (*Extension)(nil)
	_ plugin.OnAdjustmentRecorded   = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a single audit trail entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges ledger events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// OnAccountProvisioned implements plugin.OnAccountProvisioned.
func (e *Extension) OnAccountProvisioned(ctx context.Context, a *account.Account) error {
	return e.record(ctx, event{
		action:     ActionAccountProvisioned,
		resource:   ResourceAccount,
		resourceID: a.ClientID,
		category:   CategoryAccount,
	},
		"client_id", a.ClientID,
		"initial_balance", a.InitialBalance.String(),
	)
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnCredited implements plugin.OnCredited.
func (e *Extension) OnCredited(ctx context.Context, tx *transaction.Transaction) error {
	return e.recordTransaction(ctx, ActionCredited, tx)
}

// OnDebited implements plugin.OnDebited.
func (e *Extension) OnDebited(ctx context.Context, tx *transaction.Transaction) error {
	return e.recordTransaction(ctx, ActionDebited, tx)
}

// OnConsumed implements plugin.OnConsumed.
func (e *Extension) OnConsumed(ctx context.Context, tx *transaction.Transaction) error {
	return e.recordTransaction(ctx, ActionConsumed, tx)
}

// OnRefunded implements plugin.OnRefunded.
func (e *Extension) OnRefunded(ctx context.Context, tx *transaction.Transaction) error {
	return e.recordTransaction(ctx, ActionRefunded, tx)
}

// OnInsufficientFunds implements plugin.OnInsufficientFunds.
func (e *Extension) OnInsufficientFunds(ctx context.Context, clientID string, balance, requested types.Money) error {
	return e.record(ctx, event{
		action:     ActionChargeRejected,
		resource:   ResourceAccount,
		resourceID: clientID,
		category:   CategoryBilling,
		severity:   SeverityWarning,
		outcome:    OutcomeFailure,
		reason:     "insufficient funds",
	},
		"client_id", clientID,
		"balance", balance.String(),
		"requested", requested.String(),
		"shortfall", requested.Subtract(balance).String(),
	)
}

// OnLowBalance implements plugin.OnLowBalance.
func (e *Extension) OnLowBalance(ctx context.Context, clientID string, balance, threshold types.Money) error {
	return e.record(ctx, event{
		action:     ActionLowBalanceReached,
		resource:   ResourceAccount,
		resourceID: clientID,
		category:   CategoryBilling,
		severity:   SeverityWarning,
	},
		"client_id", clientID,
		"balance", balance.String(),
		"threshold", threshold.String(),
	)
}

// ──────────────────────────────────────────────────
// Administration hooks
// ──────────────────────────────────────────────────

// OnSettingsUpdated implements plugin.OnSettingsUpdated.
func (e *Extension) OnSettingsUpdated(ctx context.Context, s *settings.System) error {
	return e.record(ctx, event{
		action:   ActionSettingsUpdated,
		resource: ResourceSettings,
		category: CategoryAdmin,
		actor:    s.UpdatedBy,
	},
		"default_initial_credits", s.DefaultInitialCredits.String(),
		"default_markup_percentage", s.DefaultMarkupPercentage.String(),
		"low_balance_threshold", s.LowBalanceThreshold.String(),
	)
}

// OnClientPricingUpdated implements plugin.OnClientPricingUpdated.
func (e *Extension) OnClientPricingUpdated(ctx context.Context, p *settings.ClientPricing) error {
	markup := "default"
	if p.MarkupPercentage != nil {
		markup = p.MarkupPercentage.String()
	}
	return e.record(ctx, event{
		action:     ActionClientPricingUpdated,
		resource:   ResourceClientPricing,
		resourceID: p.ClientID,
		category:   CategoryAdmin,
	},
		"markup_percentage", markup,
		"enabled_carriers", p.EnabledCarriers,
	)
}

// OnAdjustmentRecorded implements plugin.OnAdjustmentRecorded.
func (e *Extension) OnAdjustmentRecorded(ctx context.Context, a *adjustment.Adjustment) error {
	return e.record(ctx, event{
		action:     ActionAdjustmentRecorded,
		resource:   ResourceAdjustment,
		resourceID: a.ID.String(),
		category:   CategoryAdmin,
		actor:      a.PerformedBy,
		reason:     a.Reason,
	},
		"client_id", a.ClientID,
		"emission_id", a.EmissionID,
		"original_cost", a.OriginalCost.String(),
		"adjusted_cost", a.AdjustedCost.String(),
		"sale_price", a.SalePrice.String(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

type event struct {
	action, resource, resourceID, category string
	actor, severity, outcome, reason       string
}

func (e *Extension) recordTransaction(ctx context.Context, action string, tx *transaction.Transaction) error {
	return e.record(ctx, event{
		action:     action,
		resource:   ResourceTransaction,
		resourceID: tx.ID.String(),
		category:   CategoryBilling,
		actor:      tx.PerformedBy,
		reason:     tx.Description,
	},
		"client_id", tx.ClientID,
		"type", string(tx.Type),
		"amount", tx.Amount.String(),
		"previous_balance", tx.PreviousBalance.String(),
		"new_balance", tx.NewBalance.String(),
		"emission_id", tx.EmissionID,
		"sequence", tx.Sequence,
	)
}

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged and never returned.
func (e *Extension) record(ctx context.Context, ev event, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[ev.action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	if ev.severity == "" {
		ev.severity = SeverityInfo
	}
	if ev.outcome == "" {
		ev.outcome = OutcomeSuccess
	}

	evt := &AuditEvent{
		Action:     ev.action,
		Resource:   ev.resource,
		Category:   ev.category,
		ResourceID: ev.resourceID,
		Actor:      ev.actor,
		Metadata:   meta,
		Outcome:    ev.outcome,
		Severity:   ev.severity,
		Reason:     ev.reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", ev.action,
			"resource_id", ev.resourceID,
			"error", recErr,
		)
	}
	return nil
}
