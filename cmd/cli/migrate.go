package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iho/eventledger/internal/infrastructure/config"
	"github.com/iho/eventledger/internal/infrastructure/postgres"
)

func (c *cli) migrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
		Long:  `Apply or roll back Postgres migrations from MIGRATIONS_PATH. The SQLite backend migrates itself on open.`,
	}

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: c.withPostgres(func(cfg *config.Config) error {
				if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: c.withPostgres(func(cfg *config.Config) error {
				if err := postgres.RunMigrationsDown(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "rolled back one migration")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: c.withPostgres(func(cfg *config.Config) error {
				version, dirty, err := postgres.MigrationVersion(cfg.DatabaseURL, cfg.MigrationsPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "version=%d dirty=%t\n", version, dirty)
				return nil
			}),
		},
	)
	return migrateCmd
}

func (c *cli) withPostgres(fn func(cfg *config.Config) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := c.loadConfig()
		if err != nil {
			return err
		}
		if cfg.StorageDriver != config.StoragePostgres {
			fmt.Fprintf(c.out, "storage driver %s migrates on open, nothing to do\n", cfg.StorageDriver)
			return nil
		}
		return fn(cfg)
	}
}
