// Package extension provides the Forge extension adapter for the credit
// ledger.
//
// It implements the forge.Extension interface to integrate the ledger
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.credit" or "credit" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/credit"
	"github.com/xraph/credit/observability"
	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/store"
	"github.com/xraph/credit/store/memory"
	"github.com/xraph/credit/types"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "credit"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Prepaid credit ledger for label emission"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the credit ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *credit.Ledger
	store      store.Store
	ledgerOpts []credit.Option
}

// New creates a new credit Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *credit.Ledger { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the ledger, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	opts, err := buildLedgerOpts(e.config, e.ledgerOpts)
	if err != nil {
		return err
	}
	if e.config.EnableMetrics {
		factory := observability.NewPrometheusFactory(prometheus.DefaultRegisterer)
		opts = append(opts, credit.WithPlugin(observability.NewMetricsExtension(factory)))
	}

	e.engine = credit.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*credit.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("credit: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("credit: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildLedgerOpts constructs credit.Option values from the resolved config.
// Pass-through options are appended last so they win.
func buildLedgerOpts(cfg Config, extra []credit.Option) ([]credit.Option, error) {
	initial, err := types.Parse(cfg.DefaultInitialCredits, cfg.Currency)
	if err != nil {
		return nil, fmt.Errorf("credit: default_initial_credits: %w", err)
	}
	threshold, err := types.Parse(cfg.LowBalanceThreshold, cfg.Currency)
	if err != nil {
		return nil, fmt.Errorf("credit: low_balance_threshold: %w", err)
	}
	markup, err := decimal.NewFromString(cfg.DefaultMarkupPercentage)
	if err != nil {
		return nil, fmt.Errorf("credit: default_markup_percentage: %w", err)
	}
	if initial.IsNegative() || threshold.IsNegative() || markup.IsNegative() {
		return nil, errors.New("credit: default settings must not be negative")
	}

	opts := make([]credit.Option, 0, len(extra)+3)
	opts = append(opts,
		credit.WithCurrency(cfg.Currency),
		credit.WithConflictRetries(cfg.MaxConflictRetries, cfg.ConflictBackoff),
		credit.WithDefaults(settings.System{
			DefaultInitialCredits:   initial,
			DefaultMarkupPercentage: markup,
			LowBalanceThreshold:     threshold,
		}),
	)
	return append(opts, extra...), nil
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("credit: configuration is required but not found in config files; " +
				"ensure 'extensions.credit' or 'credit' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("credit: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("currency", e.config.Currency),
		forge.F("max_conflict_retries", e.config.MaxConflictRetries),
		forge.F("default_initial_credits", e.config.DefaultInitialCredits),
		forge.F("default_markup_percentage", e.config.DefaultMarkupPercentage),
		forge.F("low_balance_threshold", e.config.LowBalanceThreshold),
		forge.F("enable_metrics", e.config.EnableMetrics),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.credit", "credit"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("credit: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("credit: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.MaxConflictRetries == 0 {
		cfg.MaxConflictRetries = defaults.MaxConflictRetries
	}
	if cfg.ConflictBackoff == 0 {
		cfg.ConflictBackoff = defaults.ConflictBackoff
	}
	if cfg.DefaultInitialCredits == "" {
		cfg.DefaultInitialCredits = defaults.DefaultInitialCredits
	}
	if cfg.DefaultMarkupPercentage == "" {
		cfg.DefaultMarkupPercentage = defaults.DefaultMarkupPercentage
	}
	if cfg.LowBalanceThreshold == "" {
		cfg.LowBalanceThreshold = defaults.LowBalanceThreshold
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.EnableMetrics {
		yamlConfig.EnableMetrics = true
	}

	if yamlConfig.Currency == "" {
		yamlConfig.Currency = programmaticConfig.Currency
	}
	if yamlConfig.MaxConflictRetries == 0 {
		yamlConfig.MaxConflictRetries = programmaticConfig.MaxConflictRetries
	}
	if yamlConfig.ConflictBackoff == 0 {
		yamlConfig.ConflictBackoff = programmaticConfig.ConflictBackoff
	}
	if yamlConfig.DefaultInitialCredits == "" {
		yamlConfig.DefaultInitialCredits = programmaticConfig.DefaultInitialCredits
	}
	if yamlConfig.DefaultMarkupPercentage == "" {
		yamlConfig.DefaultMarkupPercentage = programmaticConfig.DefaultMarkupPercentage
	}
	if yamlConfig.LowBalanceThreshold == "" {
		yamlConfig.LowBalanceThreshold = programmaticConfig.LowBalanceThreshold
	}

	return mergeWithDefaults(yamlConfig)
}
