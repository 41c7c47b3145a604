package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-convgen/internal/config"
	"github.com/ahrav/go-convgen/internal/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: withDB(func(cmd *cobra.Command, db *postgres.DB) error {
		if err := db.Migrate(cmd.Context()); err != nil {
			return err
		}
		return printVersion(cmd, db)
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: withDB(func(cmd *cobra.Command, db *postgres.DB) error {
		if err := db.MigrateDown(cmd.Context()); err != nil {
			return err
		}
		return printVersion(cmd, db)
	}),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current schema version",
	RunE:  withDB(printVersion),
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func withDB(fn func(*cobra.Command, *postgres.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if cfg.Storage.Driver != config.DriverPostgres {
			return errNeedsPostgres
		}
		db, err := postgres.Open(cmd.Context(), postgres.Config{DSN: cfg.Storage.DSN, MaxConns: cfg.Storage.MaxConns})
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(cmd, db)
	}
}

func printVersion(cmd *cobra.Command, db *postgres.DB) error {
	v, err := db.MigrationVersion(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", v)
	return nil
}
