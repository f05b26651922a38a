package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xraph/credit"
	"github.com/xraph/credit/transaction"
	"github.com/xraph/credit/types"
)

const cliActor = "cli"

func (a *app) provisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision CLIENT_ID [DISPLAY_NAME]",
		Short: "Create a client account with the default initial credits",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 2 {
				name = args[1]
			}
			return a.withLedger(cmd, func(l *credit.Ledger) error {
				acct, err := l.EnsureProvisioned(cmd.Context(), args[0], name)
				if err != nil {
					return err
				}
				return a.print(cmd, acct, fmt.Sprintf("%s provisioned with %s", acct.ClientID, acct.Balance))
			})
		},
	}
}

func (a *app) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance CLIENT_ID",
		Short: "Show a client's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, func(l *credit.Ledger) error {
				st, err := l.BalanceStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				text := fmt.Sprintf("%s balance %s", st.ClientID, st.Balance)
				if st.Low {
					text += fmt.Sprintf(" (below threshold %s)", st.Threshold)
				}
				return a.print(cmd, st, text)
			})
		},
	}
}

type mutation func(ctx context.Context, clientID string, amount types.Money, description, performedBy string) (*transaction.Transaction, error)

func (a *app) balanceChangeCmd(use, short string, pick func(*credit.Ledger) mutation) *cobra.Command {
	var description, by string

	cmd := &cobra.Command{
		Use:   use + " CLIENT_ID AMOUNT",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := types.Parse(args[1], a.cfg.Ledger.Currency)
			if err != nil {
				return err
			}
			return a.withLedger(cmd, func(l *credit.Ledger) error {
				tx, err := pick(l)(cmd.Context(), args[0], amount, description, by)
				if err != nil {
					return err
				}
				return a.print(cmd, tx, fmt.Sprintf("%s %s %s: %s -> %s (%s)",
					tx.ClientID, strings.ToLower(string(tx.Type)), tx.Amount, tx.PreviousBalance, tx.NewBalance, tx.ID))
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "reason recorded on the transaction")
	cmd.Flags().StringVar(&by, "by", cliActor, "operator recorded as performed_by")
	return cmd
}

func (a *app) creditCmd() *cobra.Command {
	return a.balanceChangeCmd("credit", "Add credits to a client's balance",
		func(l *credit.Ledger) mutation { return l.Credit })
}

func (a *app) debitCmd() *cobra.Command {
	return a.balanceChangeCmd("debit", "Remove credits from a client's balance",
		func(l *credit.Ledger) mutation { return l.Debit })
}

func (a *app) historyCmd() *cobra.Command {
	var (
		typ       string
		limit     int
		offset    int
		ascending bool
	)

	cmd := &cobra.Command{
		Use:   "history CLIENT_ID",
		Short: "List a client's transactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, func(l *credit.Ledger) error {
				if _, err := l.GetAccount(cmd.Context(), args[0]); err != nil {
					return err
				}
				txs, err := l.ListTransactions(cmd.Context(), args[0], transaction.ListOpts{
					Type:      transaction.Type(strings.ToUpper(typ)),
					Ascending: ascending,
					Limit:     limit,
					Offset:    offset,
				})
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return a.print(cmd, txs, "")
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SEQ\tTYPE\tAMOUNT\tBALANCE\tEMISSION\tCREATED\tDESCRIPTION")
				for _, tx := range txs {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
						tx.Sequence, tx.Type, tx.Amount, tx.NewBalance, tx.EmissionID,
						tx.CreatedAt.Format("2006-01-02 15:04:05"), tx.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "only credit|debit|consume|refund")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&ascending, "asc", false, "oldest first")
	return cmd
}

func (a *app) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile CLIENT_ID",
		Short: "Replay a client's transaction log against the stored balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, func(l *credit.Ledger) error {
				r, err := l.Reconcile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				text := fmt.Sprintf("%s consistent: %d transactions, balance %s", r.ClientID, r.Transactions, r.Stored)
				if !r.Consistent {
					text = fmt.Sprintf("%s INCONSISTENT: expected %s, stored %s", r.ClientID, r.Expected, r.Stored)
					if r.BrokenAt > 0 {
						text += fmt.Sprintf(", chain broken at sequence %d", r.BrokenAt)
					}
				}
				if err := a.print(cmd, r, text); err != nil {
					return err
				}
				if !r.Consistent {
					return fmt.Errorf("ledger for %s is inconsistent", r.ClientID)
				}
				return nil
			})
		},
	}
}

func (a *app) priceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "price CLIENT_ID CARRIER_COST",
		Short: "Show what a client would be charged for a carrier cost",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cost, err := types.Parse(args[1], a.cfg.Ledger.Currency)
			if err != nil {
				return err
			}
			return a.withLedger(cmd, func(l *credit.Ledger) error {
				q, err := l.Price(cmd.Context(), args[0], cost)
				if err != nil {
					return err
				}
				return a.print(cmd, q, fmt.Sprintf("%s + %s%% = %s", q.CarrierCost, q.MarkupPercentage, q.SaleAmount))
			})
		},
	}
}
