package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending store migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cmd.Context(), a.cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate %s store: %w", a.cfg.Store.Driver, err)
			}
			a.logger.Info("migrations applied", "driver", a.cfg.Store.Driver)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", a.cfg.Store.Driver)
			return err
		},
	}
}
