package extension

import "time"

// Config holds the credit extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.credit" or "credit" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// Currency is the ledger currency (default: "usd").
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// MaxConflictRetries bounds how many times a mutation is attempted
	// when the store reports a concurrent write (default: 5).
	MaxConflictRetries uint `json:"max_conflict_retries" mapstructure:"max_conflict_retries" yaml:"max_conflict_retries"`

	// ConflictBackoff is the first retry interval (default: 10ms).
	ConflictBackoff time.Duration `json:"conflict_backoff" mapstructure:"conflict_backoff" yaml:"conflict_backoff"`

	// DefaultInitialCredits is granted to newly provisioned clients, in
	// major units (e.g. "100.00").
	DefaultInitialCredits string `json:"default_initial_credits" mapstructure:"default_initial_credits" yaml:"default_initial_credits"`

	// DefaultMarkupPercentage applies to clients without a pricing override.
	DefaultMarkupPercentage string `json:"default_markup_percentage" mapstructure:"default_markup_percentage" yaml:"default_markup_percentage"`

	// LowBalanceThreshold is the balance below which clients are flagged.
	LowBalanceThreshold string `json:"low_balance_threshold" mapstructure:"low_balance_threshold" yaml:"low_balance_threshold"`

	// EnableMetrics registers the Prometheus metrics plugin against the
	// default registerer.
	EnableMetrics bool `json:"enable_metrics" mapstructure:"enable_metrics" yaml:"enable_metrics"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Currency:                "usd",
		MaxConflictRetries:      5,
		ConflictBackoff:         10 * time.Millisecond,
		DefaultInitialCredits:   "0",
		DefaultMarkupPercentage: "0",
		LowBalanceThreshold:     "0",
	}
}
