package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iho/eventledger/internal/app"
)

func (c *cli) outboxCmd() *cobra.Command {
	outboxCmd := &cobra.Command{
		Use:   "outbox",
		Short: "Outbox relay operations",
	}
	outboxCmd.AddCommand(c.relayCmd(), c.purgeCmd(), c.statusCmd())
	return outboxCmd
}

func (c *cli) relayCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish pending outbox records",
		Long:  `Publish pending outbox records to the configured message bus. Runs until interrupted unless --once is given.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				publisher, err := a.Publisher()
				if err != nil {
					return err
				}
				dispatcher := a.Dispatcher(publisher)

				if !once {
					if err := dispatcher.Start(cmd.Context()); !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				}

				summary, err := dispatcher.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return c.printJSON(summary)
				}
				fmt.Fprintf(c.out, "fetched=%d published=%d retried=%d dead_lettered=%d deferred=%d\n",
					summary.Fetched, summary.Published, summary.Retried, summary.DeadLettered, summary.Deferred)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single dispatch cycle and exit")
	return cmd
}

func (c *cli) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete processed records older than OUTBOX_RETENTION",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				deleted, err := a.PurgeOutbox(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "deleted=%d\n", deleted)
				return nil
			})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the number of records awaiting dispatch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				pending, err := a.Storage.Outbox.CountPending(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "pending=%d\n", pending)
				return nil
			})
		},
	}
}
