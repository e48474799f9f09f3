package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iho/eventledger/internal/app"
	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/config"
	"github.com/iho/eventledger/internal/infrastructure/logger"
	"github.com/iho/eventledger/internal/usecase"
)

// Exit codes by error kind.
const (
	exitInternal           = 1
	exitInvalid            = 2
	exitNotFound           = 3
	exitRejected           = 4
	exitConflict           = 5
	exitStorageUnavailable = 6
)

type cli struct {
	out        io.Writer
	errOut     io.Writer
	loadConfig func() (*config.Config, error)
	jsonOutput bool
}

func main() {
	c := &cli{out: os.Stdout, errOut: os.Stderr, loadConfig: config.Load}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := c.rootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func (c *cli) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "eventledger",
		Short:         "Event-sourced ledger CLI",
		Long:          `Open accounts, move money, run migrations and relay the outbox of an event-sourced ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(c.out)
	rootCmd.SetErr(c.errOut)

	rootCmd.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(c.accountCmd(), c.migrateCmd(), c.outboxCmd())
	return rootCmd
}

// withApp wires storage from configuration for the duration of fn.
func (c *cli) withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	lg := logger.New(logger.Config{Level: cfg.LogLevel, Format: "console", Output: c.errOut, Component: "cli"})
	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return fn(a)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch usecase.ErrorKind(err) {
	case "invalid_operation":
		return exitInvalid
	case "not_found":
		return exitNotFound
	case "insufficient_funds", "currency_mismatch", "invalid_state_transition":
		return exitRejected
	case "concurrency_conflict":
		return exitConflict
	case "persistence_unavailable":
		return exitStorageUnavailable
	}
	if errors.Is(err, domain.ErrMessageBusUnavailable) {
		return exitStorageUnavailable
	}
	return exitInternal
}
