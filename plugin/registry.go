package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/credit/account"
	"github.com/xraph/credit/adjustment"
	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

// DefaultTimeout bounds a single hook invocation.
const DefaultTimeout = 5 * time.Second

// Registry manages registered plugins and dispatches hooks to them.
// Hook implementations are discovered once at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                 []OnInit
	onShutdown             []OnShutdown
	onAccountProvisioned   []OnAccountProvisioned
	onLowBalance           []OnLowBalance
	onCredited             []OnCredited
	onDebited              []OnDebited
	onConsumed             []OnConsumed
	onRefunded             []OnRefunded
	onInsufficientFunds    []OnInsufficientFunds
	onSettingsUpdated      []OnSettingsUpdated
	onClientPricingUpdated []OnClientPricingUpdated
	onAdjustmentRecorded   []OnAdjustmentRecorded
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its hooks.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnAccountProvisioned); ok {
		r.onAccountProvisioned = append(r.onAccountProvisioned, v)
	}
	if v, ok := p.(OnLowBalance); ok {
		r.onLowBalance = append(r.onLowBalance, v)
	}
	if v, ok := p.(OnCredited); ok {
		r.onCredited = append(r.onCredited, v)
	}
	if v, ok := p.(OnDebited); ok {
		r.onDebited = append(r.onDebited, v)
	}
	if v, ok := p.(OnConsumed); ok {
		r.onConsumed = append(r.onConsumed, v)
	}
	if v, ok := p.(OnRefunded); ok {
		r.onRefunded = append(r.onRefunded, v)
	}
	if v, ok := p.(OnInsufficientFunds); ok {
		r.onInsufficientFunds = append(r.onInsufficientFunds, v)
	}
	if v, ok := p.(OnSettingsUpdated); ok {
		r.onSettingsUpdated = append(r.onSettingsUpdated, v)
	}
	if v, ok := p.(OnClientPricingUpdated); ok {
		r.onClientPricingUpdated = append(r.onClientPricingUpdated, v)
	}
	if v, ok := p.(OnAdjustmentRecorded); ok {
		r.onAdjustmentRecorded = append(r.onAdjustmentRecorded, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnAccountProvisioned", reflect.TypeFor[OnAccountProvisioned]()},
	{"OnLowBalance", reflect.TypeFor[OnLowBalance]()},
	{"OnCredited", reflect.TypeFor[OnCredited]()},
	{"OnDebited", reflect.TypeFor[OnDebited]()},
	{"OnConsumed", reflect.TypeFor[OnConsumed]()},
	{"OnRefunded", reflect.TypeFor[OnRefunded]()},
	{"OnInsufficientFunds", reflect.TypeFor[OnInsufficientFunds]()},
	{"OnSettingsUpdated", reflect.TypeFor[OnSettingsUpdated]()},
	{"OnClientPricingUpdated", reflect.TypeFor[OnClientPricingUpdated]()},
	{"OnAdjustmentRecorded", reflect.TypeFor[OnAdjustmentRecorded]()},
}

func implementedInterfaces(p Plugin) []string {
	var names []string
	t := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if t.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit runs fn for each hook. Failures are logged and never returned.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, hooks []T, fn func(T) error) {
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func snapshot[T any](r *Registry, hooks *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *hooks
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, l interface{}) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, l)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitAccountProvisioned calls OnAccountProvisioned hooks.
func (r *Registry) EmitAccountProvisioned(ctx context.Context, a *account.Account) {
	emit(ctx, r, "OnAccountProvisioned", snapshot(r, &r.onAccountProvisioned), func(p OnAccountProvisioned) error {
		return p.OnAccountProvisioned(ctx, a)
	})
}

// EmitLowBalance calls OnLowBalance hooks.
func (r *Registry) EmitLowBalance(ctx context.Context, clientID string, balance, threshold types.Money) {
	emit(ctx, r, "OnLowBalance", snapshot(r, &r.onLowBalance), func(p OnLowBalance) error {
		return p.OnLowBalance(ctx, clientID, balance, threshold)
	})
}

// EmitTransaction dispatches tx to the hook matching its type.
func (r *Registry) EmitTransaction(ctx context.Context, tx *transaction.Transaction) {
	switch tx.Type {
	case transaction.TypeCredit:
		emit(ctx, r, "OnCredited", snapshot(r, &r.onCredited), func(p OnCredited) error {
			return p.OnCredited(ctx, tx)
		})
	case transaction.TypeDebit:
		emit(ctx, r, "OnDebited", snapshot(r, &r.onDebited), func(p OnDebited) error {
			return p.OnDebited(ctx, tx)
		})
	case transaction.TypeConsume:
		emit(ctx, r, "OnConsumed", snapshot(r, &r.onConsumed), func(p OnConsumed) error {
			return p.OnConsumed(ctx, tx)
		})
	case transaction.TypeRefund:
		emit(ctx, r, "OnRefunded", snapshot(r, &r.onRefunded), func(p OnRefunded) error {
			return p.OnRefunded(ctx, tx)
		})
	}
}

// EmitInsufficientFunds calls OnInsufficientFunds hooks.
func (r *Registry) EmitInsufficientFunds(ctx context.Context, clientID string, balance, requested types.Money) {
	emit(ctx, r, "OnInsufficientFunds", snapshot(r, &r.onInsufficientFunds), func(p OnInsufficientFunds) error {
		return p.OnInsufficientFunds(ctx, clientID, balance, requested)
	})
}

// EmitSettingsUpdated calls OnSettingsUpdated hooks.
func (r *Registry) EmitSettingsUpdated(ctx context.Context, s *settings.System) {
	emit(ctx, r, "OnSettingsUpdated", snapshot(r, &r.onSettingsUpdated), func(p OnSettingsUpdated) error {
		return p.OnSettingsUpdated(ctx, s)
	})
}

// EmitClientPricingUpdated calls OnClientPricingUpdated hooks.
func (r *Registry) EmitClientPricingUpdated(ctx context.Context, cp *settings.ClientPricing) {
	emit(ctx, r, "OnClientPricingUpdated", snapshot(r, &r.onClientPricingUpdated), func(p OnClientPricingUpdated) error {
		return p.OnClientPricingUpdated(ctx, cp)
	})
}

// EmitAdjustmentRecorded calls OnAdjustmentRecorded hooks.
func (r *Registry) EmitAdjustmentRecorded(ctx context.Context, a *adjustment.Adjustment) {
	emit(ctx, r, "OnAdjustmentRecorded", snapshot(r, &r.onAdjustmentRecorded), func(p OnAdjustmentRecorded) error {
		return p.OnAdjustmentRecorded(ctx, a)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins must never block the ledger.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.timeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
