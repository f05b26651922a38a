package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/xraph/credit/account"
	"github.com/xraph/credit/adjustment"
	"github.com/xraph/credit/id"
	"github.com/xraph/credit/internal/keylock"
	"github.com/xraph/credit/plugin"
	"github.com/xraph/credit/pricing"
	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/store"
	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

// SystemActor is recorded as PerformedBy on emission transactions.
const SystemActor = "system"

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = "usd"

// Ledger is the credit ledger engine. All balance mutations for a client
// are serialized: in-process by a per-client lock, across processes by the
// store's version-checked commit.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	locks   *keylock.Locker

	// Configuration
	currency        string
	defaults        settings.System
	maxTries        uint
	initialInterval time.Duration
	maxInterval     time.Duration
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:           s,
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		locks:           keylock.New(),
		currency:        DefaultCurrency,
		maxTries:        5,
		initialInterval: 10 * time.Millisecond,
		maxInterval:     200 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(l)
	}

	l.defaults = normalizeSettings(l.defaults, l.currency)

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.plugins.WithTimeout(d)
	}
}

// WithCurrency sets the ledger's single currency (ISO 4217, e.g. "brl").
func WithCurrency(currency string) Option {
	return func(l *Ledger) {
		if currency != "" {
			l.currency = strings.ToLower(currency)
		}
	}
}

// WithDefaults injects the system settings used until an administrator
// saves settings to the store.
func WithDefaults(s settings.System) Option {
	return func(l *Ledger) {
		l.defaults = s
	}
}

// WithConflictRetries bounds how many times a mutation is attempted when
// the store reports a concurrent write, and the first backoff interval.
func WithConflictRetries(maxTries uint, initialInterval time.Duration) Option {
	return func(l *Ledger) {
		if maxTries > 0 {
			l.maxTries = maxTries
		}
		if initialInterval > 0 {
			l.initialInterval = initialInterval
		}
	}
}

// Currency returns the ledger currency.
func (l *Ledger) Currency() string { return l.currency }

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Start migrates the store and initializes plugins.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return err
	}

	l.plugins.EmitInit(ctx, l)

	l.logger.Info("credit ledger started",
		"currency", l.currency,
		"max_tries", l.maxTries,
		"plugins", l.plugins.Count(),
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (l *Ledger) Stop() error {
	l.plugins.EmitShutdown(context.Background())
	return l.store.Close()
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

// EnsureProvisioned returns the client's account, creating it with the
// default initial credits on first use.
func (l *Ledger) EnsureProvisioned(ctx context.Context, clientID, displayName string) (*account.Account, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, ValidationError{Field: "client_id", Message: "is required"}
	}

	unlock := l.locks.Lock(clientID)
	defer unlock()

	a, err := l.store.GetAccount(ctx, clientID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	sys, err := l.Settings(ctx)
	if err != nil {
		return nil, err
	}

	a = &account.Account{
		Entity:         types.NewEntity(),
		ClientID:       clientID,
		DisplayName:    displayName,
		Balance:        sys.DefaultInitialCredits,
		InitialBalance: sys.DefaultInitialCredits,
	}
	if err := l.store.CreateAccount(ctx, a); err != nil {
		if errors.Is(err, ErrAccountExists) {
			// Provisioned concurrently by another process.
			return l.store.GetAccount(ctx, clientID)
		}
		return nil, err
	}

	l.logger.Info("account provisioned",
		"client_id", clientID,
		"initial_balance", a.InitialBalance.String(),
	)
	l.plugins.EmitAccountProvisioned(ctx, a)

	return a, nil
}

// GetAccount returns the client's account.
func (l *Ledger) GetAccount(ctx context.Context, clientID string) (*account.Account, error) {
	return l.store.GetAccount(ctx, clientID)
}

// ListAccounts lists accounts for administration.
func (l *Ledger) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	return l.store.ListAccounts(ctx, opts)
}

// RenameAccount updates the denormalized display name.
func (l *Ledger) RenameAccount(ctx context.Context, clientID, displayName string) error {
	return l.store.UpdateDisplayName(ctx, clientID, displayName)
}

// GetBalance returns the current balance. It fails with ErrAccountNotFound
// for clients that were never provisioned.
func (l *Ledger) GetBalance(ctx context.Context, clientID string) (types.Money, error) {
	a, err := l.store.GetAccount(ctx, clientID)
	if err != nil {
		return types.Money{}, err
	}
	return a.Balance, nil
}

// ──────────────────────────────────────────────────
// Administrative credits and debits
// ──────────────────────────────────────────────────

// Credit adds amount to the client's balance.
func (l *Ledger) Credit(ctx context.Context, clientID string, amount types.Money, description, performedBy string) (*transaction.Transaction, error) {
	amount, err := l.checkAmount(amount)
	if err != nil {
		return nil, err
	}

	tx, _, err := l.mutate(ctx, clientID, func(_ context.Context, _ *account.Account) (*transaction.Transaction, *transaction.Transaction, error) {
		return &transaction.Transaction{
			Type:        transaction.TypeCredit,
			Amount:      amount,
			Description: description,
			PerformedBy: performedBy,
		}, nil, nil
	})
	return tx, err
}

// Debit removes amount from the client's balance. It fails with an
// *InsufficientFundsError when amount exceeds the balance.
func (l *Ledger) Debit(ctx context.Context, clientID string, amount types.Money, description, performedBy string) (*transaction.Transaction, error) {
	amount, err := l.checkAmount(amount)
	if err != nil {
		return nil, err
	}

	tx, _, err := l.mutate(ctx, clientID, func(_ context.Context, a *account.Account) (*transaction.Transaction, *transaction.Transaction, error) {
		if err := checkFunds(a, amount); err != nil {
			return nil, nil, err
		}
		return &transaction.Transaction{
			Type:        transaction.TypeDebit,
			Amount:      amount,
			Description: description,
			PerformedBy: performedBy,
		}, nil, nil
	})
	return tx, err
}

// ──────────────────────────────────────────────────
// Emission billing
// ──────────────────────────────────────────────────

// EmissionState is the billing state of one (client, emission) pair.
type EmissionState string

const (
	EmissionNone     EmissionState = "NONE"
	EmissionConsumed EmissionState = "CONSUMED"
	EmissionRefunded EmissionState = "REFUNDED"
)

// ConsumeForEmission bills a label. Repeating the call for the same
// emission returns the original transaction without charging again. An
// emission that was refunded can never be consumed again.
func (l *Ledger) ConsumeForEmission(ctx context.Context, clientID, emissionID string, amount types.Money, description string) (*transaction.Transaction, error) {
	amount, err := l.checkAmount(amount)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(emissionID) == "" {
		return nil, ErrMissingEmissionID
	}

	tx, _, err := l.mutate(ctx, clientID, func(ctx context.Context, a *account.Account) (*transaction.Transaction, *transaction.Transaction, error) {
		state, consumed, _, err := l.emission(ctx, clientID, emissionID)
		if err != nil {
			return nil, nil, err
		}

		switch state {
		case EmissionRefunded:
			return nil, nil, fmt.Errorf("%w: %s", ErrEmissionClosed, emissionID)
		case EmissionConsumed:
			if !consumed.Amount.Equal(amount) {
				l.logger.Warn("repeated consumption with different amount",
					"client_id", clientID,
					"emission_id", emissionID,
					"charged", consumed.Amount.String(),
					"requested", amount.String(),
				)
			}
			return nil, consumed, nil
		}

		if err := checkFunds(a, amount); err != nil {
			return nil, nil, err
		}
		return &transaction.Transaction{
			Type:        transaction.TypeConsume,
			Amount:      amount,
			EmissionID:  emissionID,
			Description: description,
			PerformedBy: SystemActor,
		}, nil, nil
	})
	return tx, err
}

// RefundForEmission returns a consumed amount to the client. The amount
// must equal the consumption. Once refunded, further calls return the
// first refund whatever amount they carry.
func (l *Ledger) RefundForEmission(ctx context.Context, clientID, emissionID string, amount types.Money, description string) (*transaction.Transaction, error) {
	amount, err := l.checkAmount(amount)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(emissionID) == "" {
		return nil, ErrMissingEmissionID
	}

	tx, _, err := l.mutate(ctx, clientID, func(ctx context.Context, _ *account.Account) (*transaction.Transaction, *transaction.Transaction, error) {
		state, consumed, refunded, err := l.emission(ctx, clientID, emissionID)
		if err != nil {
			return nil, nil, err
		}

		switch state {
		case EmissionNone:
			return nil, nil, fmt.Errorf("%w: %s", ErrNothingToRefund, emissionID)
		case EmissionRefunded:
			return nil, refunded, nil
		}
		if !amount.Equal(consumed.Amount) {
			return nil, nil, &RefundMismatchError{
				EmissionID: emissionID,
				Consumed:   consumed.Amount,
				Requested:  amount,
			}
		}
		return &transaction.Transaction{
			Type:        transaction.TypeRefund,
			Amount:      amount,
			EmissionID:  emissionID,
			Description: description,
			PerformedBy: SystemActor,
		}, nil, nil
	})
	return tx, err
}

// EmissionState reports where an emission is in NONE → CONSUMED → REFUNDED.
func (l *Ledger) EmissionState(ctx context.Context, clientID, emissionID string) (EmissionState, error) {
	state, _, _, err := l.emission(ctx, clientID, emissionID)
	return state, err
}

// Emission describes one emission: its state and the CONSUME and REFUND
// transactions recorded so far.
type Emission struct {
	State   EmissionState            `json:"state"`
	Consume *transaction.Transaction `json:"consume,omitempty"`
	Refund  *transaction.Transaction `json:"refund,omitempty"`
}

// GetEmission returns the state of an emission with its transactions.
func (l *Ledger) GetEmission(ctx context.Context, clientID, emissionID string) (*Emission, error) {
	state, consumed, refunded, err := l.emission(ctx, clientID, emissionID)
	if err != nil {
		return nil, err
	}
	return &Emission{State: state, Consume: consumed, Refund: refunded}, nil
}

func (l *Ledger) emission(ctx context.Context, clientID, emissionID string) (EmissionState, *transaction.Transaction, *transaction.Transaction, error) {
	txs, err := l.store.FindByEmission(ctx, clientID, emissionID)
	if err != nil {
		return "", nil, nil, err
	}

	var consumed, refunded *transaction.Transaction
	for _, tx := range txs {
		switch tx.Type {
		case transaction.TypeConsume:
			consumed = tx
		case transaction.TypeRefund:
			refunded = tx
		}
	}

	switch {
	case consumed != nil && refunded != nil:
		return EmissionRefunded, consumed, refunded, nil
	case consumed != nil:
		return EmissionConsumed, consumed, nil, nil
	default:
		return EmissionNone, nil, nil, nil
	}
}

// ──────────────────────────────────────────────────
// History
// ──────────────────────────────────────────────────

// GetTransaction returns a single transaction.
func (l *Ledger) GetTransaction(ctx context.Context, txID id.TransactionID) (*transaction.Transaction, error) {
	return l.store.GetTransaction(ctx, txID)
}

// ListTransactions returns the client's history, newest first by default.
func (l *Ledger) ListTransactions(ctx context.Context, clientID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	if opts.Type != "" && !opts.Type.IsValid() {
		return nil, ValidationError{Field: "type", Message: fmt.Sprintf("unknown transaction type %q", opts.Type)}
	}
	return l.store.ListTransactions(ctx, clientID, opts)
}

// ──────────────────────────────────────────────────
// Mutation core
// ──────────────────────────────────────────────────

// planFunc inspects the current account and either describes the
// transaction to commit or returns an already committed one.
type planFunc func(ctx context.Context, a *account.Account) (next, existing *transaction.Transaction, err error)

// mutate runs plan against a fresh read of the account and commits the
// result with a version check, retrying on ErrStorageConflict and
// ErrDuplicateEmission. created is false when plan returned an existing
// transaction.
func (l *Ledger) mutate(ctx context.Context, clientID string, plan planFunc) (tx *transaction.Transaction, created bool, err error) {
	type result struct {
		tx      *transaction.Transaction
		created bool
	}

	op := func() (result, error) {
		a, err := l.store.GetAccount(ctx, clientID)
		if err != nil {
			return result{}, backoff.Permanent(err)
		}

		next, existing, err := plan(ctx, a)
		if err != nil {
			return result{}, backoff.Permanent(err)
		}
		if existing != nil {
			return result{tx: existing}, nil
		}

		if next.Type.Sign() > 0 && next.Amount.Amount > math.MaxInt64-a.Balance.Amount {
			return result{}, backoff.Permanent(ValidationError{
				Field:   "amount",
				Message: fmt.Sprintf("%s would overflow the balance of %s", next.Amount, clientID),
			})
		}

		next.ID = id.NewTransactionID()
		next.ClientID = clientID
		next.PreviousBalance = a.Balance
		next.NewBalance = next.Apply(a.Balance)
		next.Sequence = a.Version + 1
		next.CreatedAt = time.Now().UTC()

		if next.NewBalance.IsNegative() {
			return result{}, backoff.Permanent(&InsufficientFundsError{
				ClientID:  clientID,
				Balance:   a.Balance,
				Requested: next.Amount,
			})
		}

		err = l.store.CommitTransaction(ctx, a.Version, next)
		switch {
		case err == nil:
			return result{tx: next, created: true}, nil
		case errors.Is(err, ErrStorageConflict), errors.Is(err, ErrDuplicateEmission):
			return result{}, err
		default:
			return result{}, backoff.Permanent(err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.initialInterval
	bo.MaxInterval = l.maxInterval

	unlock := l.locks.Lock(clientID)
	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(l.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			l.logger.Debug("retrying ledger commit",
				"client_id", clientID,
				"error", err,
				"backoff", d,
			)
		}),
	)
	unlock()

	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		l.onFailure(ctx, clientID, err)
		return nil, false, err
	}

	if res.created {
		l.onCommitted(ctx, res.tx)
	}
	return res.tx, res.created, nil
}

func (l *Ledger) onCommitted(ctx context.Context, tx *transaction.Transaction) {
	l.logger.Info("transaction committed",
		"client_id", tx.ClientID,
		"transaction_id", tx.ID.String(),
		"type", string(tx.Type),
		"amount", tx.Amount.String(),
		"emission_id", tx.EmissionID,
		"new_balance", tx.NewBalance.String(),
	)

	l.plugins.EmitTransaction(ctx, tx)

	if tx.Type.Sign() > 0 {
		return
	}
	sys, err := l.Settings(ctx)
	if err != nil {
		l.logger.Warn("low balance check skipped", "client_id", tx.ClientID, "error", err)
		return
	}
	threshold := sys.LowBalanceThreshold
	if tx.NewBalance.LessThan(threshold) && !tx.PreviousBalance.LessThan(threshold) {
		l.logger.Warn("client balance below threshold",
			"client_id", tx.ClientID,
			"balance", tx.NewBalance.String(),
			"threshold", threshold.String(),
		)
		l.plugins.EmitLowBalance(ctx, tx.ClientID, tx.NewBalance, threshold)
	}
}

func (l *Ledger) onFailure(ctx context.Context, clientID string, err error) {
	var ife *InsufficientFundsError
	switch {
	case errors.As(err, &ife):
		l.logger.Info("charge rejected for insufficient funds",
			"client_id", clientID,
			"balance", ife.Balance.String(),
			"requested", ife.Requested.String(),
		)
		l.plugins.EmitInsufficientFunds(ctx, clientID, ife.Balance, ife.Requested)
	case errors.Is(err, ErrStorageConflict):
		l.logger.Error("ledger commit retries exhausted",
			"client_id", clientID,
			"max_tries", l.maxTries,
		)
	}
}

// checkAmount normalizes an amount to the ledger currency and requires it
// to be positive.
func (l *Ledger) checkAmount(m types.Money) (types.Money, error) {
	if m.Currency == "" {
		m.Currency = l.currency
	}
	if m.Currency != l.currency {
		return types.Money{}, fmt.Errorf("%w: got %s, ledger uses %s", ErrCurrencyMismatch, m.Currency, l.currency)
	}
	if !m.IsPositive() {
		return types.Money{}, ErrInvalidAmount
	}
	return m, nil
}

func checkFunds(a *account.Account, amount types.Money) error {
	if amount.GreaterThan(a.Balance) {
		return &InsufficientFundsError{
			ClientID:  a.ClientID,
			Balance:   a.Balance,
			Requested: amount,
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Settings
// ──────────────────────────────────────────────────

// DefaultSettings returns zero credits, zero markup and a zero threshold
// in the given currency.
func DefaultSettings(currency string) settings.System {
	return settings.System{
		DefaultInitialCredits:   types.Zero(currency),
		DefaultMarkupPercentage: decimal.Zero,
		LowBalanceThreshold:     types.Zero(currency),
	}
}

func normalizeSettings(s settings.System, currency string) settings.System {
	if s.DefaultInitialCredits.Currency == "" {
		s.DefaultInitialCredits.Currency = currency
	}
	if s.LowBalanceThreshold.Currency == "" {
		s.LowBalanceThreshold.Currency = currency
	}
	return s
}

// Settings returns the stored system settings, or the injected defaults
// when none have been saved.
func (l *Ledger) Settings(ctx context.Context) (settings.System, error) {
	s, err := l.store.GetSettings(ctx)
	if errors.Is(err, ErrSettingsNotFound) {
		return l.defaults, nil
	}
	if err != nil {
		return settings.System{}, err
	}
	return normalizeSettings(*s, l.currency), nil
}

// UpdateSettings validates and persists new system settings.
func (l *Ledger) UpdateSettings(ctx context.Context, s settings.System, performedBy string) (*settings.System, error) {
	s = normalizeSettings(s, l.currency)
	if err := l.validateSettings(s); err != nil {
		return nil, err
	}

	s.UpdatedBy = performedBy
	s.UpdatedAt = time.Now().UTC()
	if err := l.store.SaveSettings(ctx, &s); err != nil {
		return nil, err
	}

	l.logger.Info("settings updated",
		"performed_by", performedBy,
		"default_initial_credits", s.DefaultInitialCredits.String(),
		"default_markup_percentage", s.DefaultMarkupPercentage.String(),
		"low_balance_threshold", s.LowBalanceThreshold.String(),
	)
	l.plugins.EmitSettingsUpdated(ctx, &s)

	return &s, nil
}

func (l *Ledger) validateSettings(s settings.System) error {
	for field, m := range map[string]types.Money{
		"default_initial_credits": s.DefaultInitialCredits,
		"low_balance_threshold":   s.LowBalanceThreshold,
	} {
		if m.Currency != l.currency {
			return ValidationError{Field: field, Message: "currency must be " + l.currency}
		}
		if m.IsNegative() {
			return ValidationError{Field: field, Message: "must not be negative"}
		}
	}
	if s.DefaultMarkupPercentage.IsNegative() {
		return ValidationError{Field: "default_markup_percentage", Message: "must not be negative"}
	}
	return nil
}

// ClientPricing returns the client's pricing override, or nil when the
// client has none.
func (l *Ledger) ClientPricing(ctx context.Context, clientID string) (*settings.ClientPricing, error) {
	cp, err := l.store.GetClientPricing(ctx, clientID)
	if errors.Is(err, ErrClientPricingNotFound) {
		return nil, nil
	}
	return cp, err
}

// SetClientPricing saves a client's pricing override.
func (l *Ledger) SetClientPricing(ctx context.Context, cp *settings.ClientPricing) error {
	if strings.TrimSpace(cp.ClientID) == "" {
		return ValidationError{Field: "client_id", Message: "is required"}
	}
	if cp.MarkupPercentage != nil && cp.MarkupPercentage.IsNegative() {
		return ValidationError{Field: "markup_percentage", Message: "must not be negative"}
	}

	carriers := make([]string, 0, len(cp.EnabledCarriers))
	for _, c := range cp.EnabledCarriers {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			carriers = append(carriers, c)
		}
	}
	cp.EnabledCarriers = carriers
	cp.UpdatedAt = time.Now().UTC()

	if err := l.store.SaveClientPricing(ctx, cp); err != nil {
		return err
	}

	l.plugins.EmitClientPricingUpdated(ctx, cp)
	return nil
}

// CarrierEnabled reports whether the client may emit labels with carrier.
func (l *Ledger) CarrierEnabled(ctx context.Context, clientID, carrier string) (bool, error) {
	cp, err := l.ClientPricing(ctx, clientID)
	if err != nil {
		return false, err
	}
	return cp.CarrierEnabled(carrier), nil
}

// ──────────────────────────────────────────────────
// Pricing
// ──────────────────────────────────────────────────

// Price converts a carrier cost into the sale amount charged to the
// client, using the client's markup override or the system default.
func (l *Ledger) Price(ctx context.Context, clientID string, carrierCost types.Money) (*pricing.Quote, error) {
	if carrierCost.Currency == "" {
		carrierCost.Currency = l.currency
	}
	if carrierCost.Currency != l.currency {
		return nil, fmt.Errorf("%w: got %s, ledger uses %s", ErrCurrencyMismatch, carrierCost.Currency, l.currency)
	}

	sys, err := l.Settings(ctx)
	if err != nil {
		return nil, err
	}
	cp, err := l.ClientPricing(ctx, clientID)
	if err != nil {
		return nil, err
	}

	q, err := pricing.Price(carrierCost, sys, cp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return q, nil
}

// ──────────────────────────────────────────────────
// Cost adjustments
// ──────────────────────────────────────────────────

// RecordAdjustment stores a cost adjustment for a consumed emission. It
// never changes the client's balance.
func (l *Ledger) RecordAdjustment(ctx context.Context, adj *adjustment.Adjustment) error {
	switch {
	case strings.TrimSpace(adj.ClientID) == "":
		return ValidationError{Field: "client_id", Message: "is required"}
	case strings.TrimSpace(adj.EmissionID) == "":
		return ValidationError{Field: "emission_id", Message: "is required"}
	case strings.TrimSpace(adj.Reason) == "":
		return ValidationError{Field: "reason", Message: "is required"}
	}
	for field, m := range map[string]*types.Money{
		"original_cost": &adj.OriginalCost,
		"adjusted_cost": &adj.AdjustedCost,
		"sale_price":    &adj.SalePrice,
	} {
		if m.Currency == "" {
			m.Currency = l.currency
		}
		if m.Currency != l.currency {
			return ValidationError{Field: field, Message: "currency must be " + l.currency}
		}
		if m.IsNegative() {
			return ValidationError{Field: field, Message: "must not be negative"}
		}
	}

	state, err := l.EmissionState(ctx, adj.ClientID, adj.EmissionID)
	if err != nil {
		return err
	}
	if state == EmissionNone {
		return ValidationError{Field: "emission_id", Message: "no consumption recorded for emission"}
	}

	adj.ID = id.NewAdjustmentID()
	adj.CreatedAt = time.Now().UTC()
	if err := l.store.CreateAdjustment(ctx, adj); err != nil {
		return err
	}

	l.plugins.EmitAdjustmentRecorded(ctx, adj)
	return nil
}

// ListAdjustments lists recorded cost adjustments.
func (l *Ledger) ListAdjustments(ctx context.Context, opts adjustment.ListOpts) ([]*adjustment.Adjustment, error) {
	return l.store.ListAdjustments(ctx, opts)
}
