// Package label charges clients for shipping labels. A label is billed
// before the carrier is asked to produce it, and refunded when the carrier
// fails, so a client is never charged for a label it did not receive.
package label

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/xraph/credit"
	"github.com/xraph/credit/pricing"
	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

// Carrier quotes and produces shipping labels. Implementations are
// supplied by the host application.
//
// The quote is the only source of the amount a client is charged, so it
// must come from the carrier and never from the client's request.
// CreateLabel must be idempotent on EmissionID: a retried emission calls
// it again with the same request and must get the original label back.
type Carrier interface {
	Quote(ctx context.Context, req CarrierRequest) (types.Money, error)
	CreateLabel(ctx context.Context, req CarrierRequest) (*Label, error)
}

// CarrierFuncs adapts a pair of functions to Carrier.
type CarrierFuncs struct {
	QuoteFunc func(ctx context.Context, req CarrierRequest) (types.Money, error)
	LabelFunc func(ctx context.Context, req CarrierRequest) (*Label, error)
}

func (f CarrierFuncs) Quote(ctx context.Context, req CarrierRequest) (types.Money, error) {
	return f.QuoteFunc(ctx, req)
}

func (f CarrierFuncs) CreateLabel(ctx context.Context, req CarrierRequest) (*Label, error) {
	return f.LabelFunc(ctx, req)
}

// CarrierRequest is what a carrier receives, both to quote a shipment
// and to produce its label.
type CarrierRequest struct {
	ClientID   string         `json:"client_id"`
	EmissionID string         `json:"emission_id,omitempty"`
	Shipment   map[string]any `json:"shipment,omitempty"`
}

// Label is the carrier's output.
type Label struct {
	TrackingNumber string `json:"tracking_number"`
	URL            string `json:"url,omitempty"`
}

// Request asks for one label. EmissionID identifies the attempt; reuse it
// when retrying so the client is charged at most once.
type Request struct {
	ClientID    string         `json:"client_id"`
	DisplayName string         `json:"display_name,omitempty"`
	EmissionID  string         `json:"emission_id,omitempty"`
	Carrier     string         `json:"carrier"`
	Shipment    map[string]any `json:"shipment,omitempty"`
}

// Result describes an emitted label. Quote is nil when the emission had
// already been charged by an earlier call.
type Result struct {
	EmissionID  string                   `json:"emission_id"`
	Quote       *pricing.Quote           `json:"quote,omitempty"`
	Transaction *transaction.Transaction `json:"transaction"`
	Label       *Label                   `json:"label"`
	LowBalance  bool                     `json:"low_balance"`
}

// NewEmissionID returns a fresh emission identifier.
func NewEmissionID() string {
	return uuid.NewString()
}

// Workflow runs the price, charge, emit and refund-on-failure sequence.
type Workflow struct {
	ledger   *credit.Ledger
	carriers map[string]Carrier
	logger   *slog.Logger
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) { w.logger = l }
}

// WithCarrier registers a carrier under name (case-insensitive).
func WithCarrier(name string, c Carrier) Option {
	return func(w *Workflow) { w.carriers[strings.ToLower(name)] = c }
}

// NewWorkflow creates a workflow over l.
func NewWorkflow(l *credit.Ledger, opts ...Option) *Workflow {
	w := &Workflow{
		ledger:   l,
		carriers: make(map[string]Carrier),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Carriers returns the registered carrier names.
func (w *Workflow) Carriers() []string {
	names := make([]string, 0, len(w.carriers))
	for name := range w.carriers {
		names = append(names, name)
	}
	return names
}

// Quote prices a shipment for the client from the carrier's own quote.
// Nothing is charged.
func (w *Workflow) Quote(ctx context.Context, req Request) (*pricing.Quote, error) {
	carrierName, carrier, err := w.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return w.quote(ctx, req, carrierName, carrier)
}

// Emit bills and produces one label. The charge is the carrier's quote
// with the client's markup applied. When the carrier fails the charge is
// refunded and the carrier error is returned.
//
// Calling Emit again with a consumed emission id asks the carrier for the
// label again without quoting or charging; a refunded emission id is
// rejected with credit.ErrEmissionClosed.
func (w *Workflow) Emit(ctx context.Context, req Request) (*Result, error) {
	if req.EmissionID == "" {
		req.EmissionID = NewEmissionID()
	}
	carrierName, carrier, err := w.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := w.ledger.EnsureProvisioned(ctx, req.ClientID, req.DisplayName); err != nil {
		return nil, err
	}

	em, err := w.ledger.GetEmission(ctx, req.ClientID, req.EmissionID)
	if err != nil {
		return nil, err
	}

	var (
		quote *pricing.Quote
		tx    *transaction.Transaction
	)
	switch em.State {
	case credit.EmissionRefunded:
		return nil, fmt.Errorf("%w: %s", credit.ErrEmissionClosed, req.EmissionID)
	case credit.EmissionConsumed:
		tx = em.Consume
		w.logger.Info("resuming charged emission",
			"client_id", req.ClientID,
			"emission_id", req.EmissionID,
			"amount", tx.Amount.String(),
		)
	default:
		quote, err = w.quote(ctx, req, carrierName, carrier)
		if err != nil {
			return nil, err
		}
		tx, err = w.ledger.ConsumeForEmission(ctx, req.ClientID, req.EmissionID, quote.SaleAmount,
			fmt.Sprintf("label %s via %s", req.EmissionID, carrierName))
		if err != nil {
			return nil, err
		}
	}

	lbl, err := carrier.CreateLabel(ctx, req.carrierRequest())
	if err != nil {
		return nil, w.refund(ctx, req, tx, carrierName, err)
	}

	res := &Result{
		EmissionID:  req.EmissionID,
		Quote:       quote,
		Transaction: tx,
		Label:       lbl,
	}

	if low, err := w.ledger.IsLow(ctx, req.ClientID); err != nil {
		w.logger.Warn("low balance check failed", "client_id", req.ClientID, "error", err)
	} else {
		res.LowBalance = low
	}

	w.logger.Info("label emitted",
		"client_id", req.ClientID,
		"emission_id", req.EmissionID,
		"carrier", carrierName,
		"amount", tx.Amount.String(),
		"tracking_number", lbl.TrackingNumber,
	)
	return res, nil
}

// resolve validates req and returns the enabled carrier it names.
func (w *Workflow) resolve(ctx context.Context, req Request) (string, Carrier, error) {
	if strings.TrimSpace(req.ClientID) == "" {
		return "", nil, credit.ValidationError{Field: "client_id", Message: "is required"}
	}
	name := strings.ToLower(strings.TrimSpace(req.Carrier))
	carrier, ok := w.carriers[name]
	if !ok {
		return "", nil, credit.ValidationError{Field: "carrier", Message: fmt.Sprintf("unknown carrier %q", req.Carrier)}
	}

	enabled, err := w.ledger.CarrierEnabled(ctx, req.ClientID, name)
	if err != nil {
		return "", nil, err
	}
	if !enabled {
		return "", nil, fmt.Errorf("%w: %s", credit.ErrCarrierDisabled, name)
	}
	return name, carrier, nil
}

func (w *Workflow) quote(ctx context.Context, req Request, carrierName string, carrier Carrier) (*pricing.Quote, error) {
	cost, err := carrier.Quote(ctx, req.carrierRequest())
	if err != nil {
		return nil, &CarrierError{Carrier: carrierName, EmissionID: req.EmissionID, Err: err}
	}
	return w.ledger.Price(ctx, req.ClientID, cost)
}

func (req Request) carrierRequest() CarrierRequest {
	return CarrierRequest{
		ClientID:   req.ClientID,
		EmissionID: req.EmissionID,
		Shipment:   req.Shipment,
	}
}

// refund returns the consumed amount after a carrier failure.
func (w *Workflow) refund(ctx context.Context, req Request, tx *transaction.Transaction, carrierName string, carrierErr error) error {
	w.logger.Warn("carrier rejected label, refunding",
		"client_id", req.ClientID,
		"emission_id", req.EmissionID,
		"carrier", carrierName,
		"error", carrierErr,
	)

	cause := &CarrierError{Carrier: carrierName, EmissionID: req.EmissionID, Charged: true, Err: carrierErr}

	// The caller's context may be what failed the carrier call.
	refundCtx := context.WithoutCancel(ctx)
	if _, err := w.ledger.RefundForEmission(refundCtx, req.ClientID, req.EmissionID, tx.Amount,
		"carrier failure: "+carrierErr.Error()); err != nil {
		w.logger.Error("refund after carrier failure failed",
			"client_id", req.ClientID,
			"emission_id", req.EmissionID,
			"error", err,
		)
		return errors.Join(cause, fmt.Errorf("label: refund emission %s: %w", req.EmissionID, err))
	}
	cause.Refunded = true
	return cause
}

// CarrierError reports a carrier failure. Charged is false when the
// carrier failed before the client was charged; otherwise Refunded tells
// whether the charge was returned.
type CarrierError struct {
	Carrier    string
	EmissionID string
	Charged    bool
	Refunded   bool
	Err        error
}

func (e *CarrierError) Error() string {
	return fmt.Sprintf("label: carrier %s failed for emission %s: %v", e.Carrier, e.EmissionID, e.Err)
}

func (e *CarrierError) Unwrap() error { return e.Err }
