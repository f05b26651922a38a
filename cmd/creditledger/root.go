package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/credit"
	"github.com/xraph/credit/config"
	"github.com/xraph/credit/internal/logging"
	"github.com/xraph/credit/store"
	"github.com/xraph/credit/store/memory"
	"github.com/xraph/credit/store/mongo"
	"github.com/xraph/credit/store/postgres"
	"github.com/xraph/credit/store/sqlite"
)

// app carries state shared by all subcommands.
type app struct {
	configPath string
	jsonOutput bool

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "creditledger",
		Short: "Prepaid credit ledger for shipping label emission",
		Long: `creditledger keeps a prepaid credit balance per client, charges it
when labels are emitted and refunds it when a carrier fails.

Configuration is read from the TOML file given with --config (or
CREDIT_CONFIG) and overridden by CREDIT_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("CREDIT_CONFIG"), "path to the TOML config file")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		a.serveCmd(),
		a.migrateCmd(),
		a.provisionCmd(),
		a.balanceCmd(),
		a.creditCmd(),
		a.debitCmd(),
		a.historyCmd(),
		a.reconcileCmd(),
		a.priceCmd(),
	)
	return root
}

// load reads the configuration and builds the logger writing to w.
func (a *app) load(w io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Logging, w)
	return nil
}

// openStore connects to the configured backend.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DSN)
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.DSN)
	case config.DriverMongo:
		return mongo.Open(ctx, cfg.DSN, cfg.Database)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// openLedger opens the store and starts a ledger over it. The caller
// owns the returned ledger and must Stop it.
func (a *app) openLedger(ctx context.Context, extra ...credit.Option) (*credit.Ledger, error) {
	st, err := openStore(ctx, a.cfg.Store)
	if err != nil {
		return nil, err
	}

	defaults, err := a.cfg.Ledger.Defaults()
	if err != nil {
		_ = st.Close() //nolint:errcheck // already failing
		return nil, err
	}

	opts := []credit.Option{
		credit.WithLogger(a.logger),
		credit.WithCurrency(a.cfg.Ledger.Currency),
		credit.WithDefaults(defaults),
		credit.WithConflictRetries(a.cfg.Ledger.MaxConflictRetries, a.cfg.Ledger.ConflictBackoff),
	}
	l := credit.New(st, append(opts, extra...)...)
	if err := l.Start(ctx); err != nil {
		_ = st.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("start ledger: %w", err)
	}
	return l, nil
}

// withLedger runs fn against a started ledger and stops it afterwards.
func (a *app) withLedger(cmd *cobra.Command, fn func(l *credit.Ledger) error) error {
	l, err := a.openLedger(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Stop(); err != nil {
			a.logger.Warn("ledger stop failed", "error", err)
		}
	}()
	return fn(l)
}

// print writes v as JSON when --json is set, otherwise the text line.
func (a *app) print(cmd *cobra.Command, v any, text string) error {
	if a.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}
