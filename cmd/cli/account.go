package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iho/eventledger/internal/app"
	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/usecase"
)

func (c *cli) accountCmd() *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Account operations",
	}

	accountCmd.AddCommand(
		c.openCmd(),
		c.movementCmd("deposit", "Credit an account"),
		c.movementCmd("withdraw", "Debit an account"),
		c.transferCmd(),
		c.suspendCmd(),
		c.showCmd(),
		c.historyCmd(),
		c.eventsCmd(),
		c.listCmd(),
	)
	return accountCmd
}

func (c *cli) openCmd() *cobra.Command {
	var ownerID, currency string

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open an account with a zero balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				account, err := a.Ledger.OpenAccount(cmd.Context(), usecase.OpenAccountInput{OwnerID: ownerID, Currency: currency})
				if err != nil {
					return err
				}
				return c.printView(account.View())
			})
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner id")
	cmd.Flags().StringVar(&currency, "currency", "", "ISO 4217 currency code")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("currency")
	return cmd
}

func (c *cli) movementCmd(use, short string) *cobra.Command {
	var currency, description string

	cmd := &cobra.Command{
		Use:   use + " <account-id> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			input := usecase.MovementInput{AccountID: args[0], Amount: amount, Currency: currency, Description: description}

			return c.withApp(cmd.Context(), func(a *app.App) error {
				apply := a.Ledger.Deposit
				if use == "withdraw" {
					apply = a.Ledger.Withdraw
				}
				tx, err := apply(cmd.Context(), input)
				if err != nil {
					return err
				}
				return c.printTransactions([]domain.Transaction{*tx})
			})
		},
	}

	cmd.Flags().StringVar(&currency, "currency", "", "Currency, defaults to the account's")
	cmd.Flags().StringVar(&description, "description", "", "Free-form description")
	return cmd
}

func (c *cli) transferCmd() *cobra.Command {
	var currency, description string

	cmd := &cobra.Command{
		Use:   "transfer <from-account-id> <to-account-id> <amount>",
		Short: "Move money between two accounts atomically",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}

			return c.withApp(cmd.Context(), func(a *app.App) error {
				tx, err := a.Ledger.Transfer(cmd.Context(), usecase.TransferInput{
					FromAccountID: args[0],
					ToAccountID:   args[1],
					Amount:        amount,
					Currency:      currency,
					Description:   description,
				})
				if err != nil {
					return err
				}
				return c.printTransactions([]domain.Transaction{*tx})
			})
		},
	}

	cmd.Flags().StringVar(&currency, "currency", "", "Currency, defaults to the source account's")
	cmd.Flags().StringVar(&description, "description", "", "Free-form description")
	return cmd
}

func (c *cli) suspendCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "suspend <account-id>",
		Short: "Suspend an active account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Ledger.Suspend(cmd.Context(), args[0], reason); err != nil {
					return err
				}
				view, err := a.Accounts.GetAccount(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.printView(*view)
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the account is suspended")
	return cmd
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <account-id>",
		Short: "Show an account's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				view, err := a.Accounts.GetAccount(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.printView(*view)
			})
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <account-id>",
		Short: "List an account's transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				history, err := a.Accounts.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.printTransactions(history)
			})
		},
	}
}

func (c *cli) eventsCmd() *cobra.Command {
	var after int64

	cmd := &cobra.Command{
		Use:   "events <account-id>",
		Short: "Print an account's event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				events, err := a.Accounts.Events(cmd.Context(), args[0], after)
				if err != nil {
					return err
				}

				published := make([]domain.IntegrationEvent, 0, len(events))
				for _, evt := range events {
					ie, err := domain.NewIntegrationEvent(evt)
					if err != nil {
						return err
					}
					published = append(published, ie)
				}
				if c.jsonOutput {
					return c.printJSON(published)
				}

				w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tTYPE\tEVENT ID\tOCCURRED AT")
				for _, ie := range published {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ie.AggregateVersion, ie.Type, ie.EventID, ie.OccurredAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().Int64Var(&after, "after", 0, "Only events after this version")
	return cmd
}

func (c *cli) listCmd() *cobra.Command {
	var ownerID string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				views, err := a.Accounts.ListAccounts(cmd.Context(), usecase.ListAccountsInput{OwnerID: ownerID, Limit: limit, Offset: offset})
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return c.printJSON(views)
				}

				w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNUMBER\tSTATUS\tBALANCE\tVERSION")
				for _, v := range views {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", v.ID, v.AccountNumber, v.Status, v.Balance, v.Version)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner id")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func (c *cli) printView(view domain.AccountView) error {
	if c.jsonOutput {
		return c.printJSON(view)
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", view.ID)
	fmt.Fprintf(w, "Number:\t%s\n", view.AccountNumber)
	fmt.Fprintf(w, "Owner:\t%s\n", view.OwnerID)
	fmt.Fprintf(w, "Status:\t%s\n", view.Status)
	fmt.Fprintf(w, "Balance:\t%s\n", view.Balance)
	fmt.Fprintf(w, "Version:\t%d\n", view.Version)
	return w.Flush()
}

func (c *cli) printTransactions(txs []domain.Transaction) error {
	if c.jsonOutput {
		return c.printJSON(txs)
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tAMOUNT\tBALANCE AFTER\tCOUNTERPARTY\tDESCRIPTION")
	for _, tx := range txs {
		counterparty := ""
		switch {
		case tx.DestinationAccountID != nil:
			counterparty = *tx.DestinationAccountID
		case tx.SourceAccountID != nil:
			counterparty = *tx.SourceAccountID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", tx.ID, tx.Type, tx.Amount, tx.BalanceAfter, counterparty, truncate(tx.Description, 40))
	}
	return w.Flush()
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, strconv.Quote(s))
	}
	return amount, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
