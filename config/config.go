// Package config loads the creditledger process configuration from a TOML
// file and CREDIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/xraph/credit/settings"
	"github.com/xraph/credit/types"
)

// Config aggregates process configuration values.
type Config struct {
	Server   ServerConfig    `toml:"server"`
	Store    StoreConfig     `toml:"store"`
	Ledger   LedgerConfig    `toml:"ledger"`
	Auth     AuthConfig      `toml:"auth"`
	Logging  LoggingConfig   `toml:"logging"`
	Carriers []CarrierConfig `toml:"carriers"`
}

// ServerConfig governs the HTTP server.
type ServerConfig struct {
	Addr            string        `toml:"addr"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	AllowedOrigins  []string      `toml:"allowed_origins"`
	MetricsEnabled  bool          `toml:"metrics_enabled"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver   string `toml:"driver"`   // memory|postgres|sqlite|mongo
	DSN      string `toml:"dsn"`      // connection string, file path or URI
	Database string `toml:"database"` // mongo only
}

// LedgerConfig holds engine tuning and the settings used until an
// administrator saves their own. Amounts are major units.
type LedgerConfig struct {
	Currency                string        `toml:"currency"`
	DefaultInitialCredits   string        `toml:"default_initial_credits"`
	DefaultMarkupPercentage string        `toml:"default_markup_percentage"`
	LowBalanceThreshold     string        `toml:"low_balance_threshold"`
	MaxConflictRetries      uint          `toml:"max_conflict_retries"`
	ConflictBackoff         time.Duration `toml:"conflict_backoff"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
	AdminRole string `toml:"admin_role"`
}

// CarrierConfig registers a carrier gateway reached over HTTP. URL is the
// gateway base; quotes and labels are posted to URL/quotes and URL/labels.
type CarrierConfig struct {
	Name    string        `toml:"name"`
	URL     string        `toml:"url"`
	Timeout time.Duration `toml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text|json
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Default returns a Config with every value set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
		},
		Ledger: LedgerConfig{
			Currency:                "usd",
			DefaultInitialCredits:   "0",
			DefaultMarkupPercentage: "0",
			LowBalanceThreshold:     "0",
			MaxConflictRetries:      5,
			ConflictBackoff:         10 * time.Millisecond,
		},
		Auth: AuthConfig{
			AdminRole: "admin",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the TOML file at path (if any) over Default, applies CREDIT_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString("CREDIT_ADDR", &cfg.Server.Addr)
	setString("CREDIT_STORE_DRIVER", &cfg.Store.Driver)
	setString("CREDIT_STORE_DSN", &cfg.Store.DSN)
	setString("CREDIT_STORE_DATABASE", &cfg.Store.Database)
	setString("CREDIT_CURRENCY", &cfg.Ledger.Currency)
	setString("CREDIT_DEFAULT_INITIAL_CREDITS", &cfg.Ledger.DefaultInitialCredits)
	setString("CREDIT_DEFAULT_MARKUP_PERCENTAGE", &cfg.Ledger.DefaultMarkupPercentage)
	setString("CREDIT_LOW_BALANCE_THRESHOLD", &cfg.Ledger.LowBalanceThreshold)
	setString("CREDIT_JWT_SECRET", &cfg.Auth.JWTSecret)
	setString("CREDIT_JWT_ISSUER", &cfg.Auth.Issuer)
	setString("CREDIT_LOG_LEVEL", &cfg.Logging.Level)
	setString("CREDIT_LOG_FORMAT", &cfg.Logging.Format)

	if v := os.Getenv("CREDIT_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("CREDIT_METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: invalid CREDIT_METRICS_ENABLED: %w", err)
		}
		cfg.Server.MetricsEnabled = b
	}
	if v := os.Getenv("CREDIT_MAX_CONFLICT_RETRIES"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("config: invalid CREDIT_MAX_CONFLICT_RETRIES: %w", err)
		}
		cfg.Ledger.MaxConflictRetries = uint(n)
	}
	if v := os.Getenv("CREDIT_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid CREDIT_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}
	return nil
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for driver %s", c.Store.Driver)
		}
	case DriverMongo:
		if c.Store.DSN == "" || c.Store.Database == "" {
			return errors.New("config: store.dsn and store.database are required for driver mongo")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	if c.Ledger.MaxConflictRetries == 0 {
		return errors.New("config: ledger.max_conflict_retries must be positive")
	}
	if _, err := c.Ledger.Defaults(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Carriers))
	for i, cc := range c.Carriers {
		name := strings.ToLower(strings.TrimSpace(cc.Name))
		if name == "" || cc.URL == "" {
			return fmt.Errorf("config: carriers[%d] needs a name and url", i)
		}
		if seen[name] {
			return fmt.Errorf("config: carrier %q listed twice", name)
		}
		seen[name] = true
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown logging format %q", c.Logging.Format)
	}
	return nil
}

// Defaults converts the configured default settings to settings.System.
func (c LedgerConfig) Defaults() (settings.System, error) {
	initial, err := types.Parse(c.DefaultInitialCredits, c.Currency)
	if err != nil {
		return settings.System{}, fmt.Errorf("config: ledger.default_initial_credits: %w", err)
	}
	threshold, err := types.Parse(c.LowBalanceThreshold, c.Currency)
	if err != nil {
		return settings.System{}, fmt.Errorf("config: ledger.low_balance_threshold: %w", err)
	}
	markup, err := decimal.NewFromString(c.DefaultMarkupPercentage)
	if err != nil {
		return settings.System{}, fmt.Errorf("config: ledger.default_markup_percentage: %w", err)
	}
	if initial.IsNegative() || threshold.IsNegative() || markup.IsNegative() {
		return settings.System{}, errors.New("config: ledger defaults must not be negative")
	}
	return settings.System{
		DefaultInitialCredits:   initial,
		DefaultMarkupPercentage: markup,
		LowBalanceThreshold:     threshold,
	}, nil
}

func setString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
