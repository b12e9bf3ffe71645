package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sakif/questlog/internal/repository/backend"
	"github.com/sakif/questlog/internal/repository/sqldb"
)

// migrateCmd manages the relational schema. MongoDB and the memory store
// have no migrations.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSQL(cmd, func(db *sqldb.DB) error {
			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			return printVersion(cmd, db)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations (all of them when steps is omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 0
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("steps must be a positive integer, got %q", args[0])
			}
			steps = n
		}
		return withSQL(cmd, func(db *sqldb.DB) error {
			if err := db.MigrateDown(cmd.Context(), steps); err != nil {
				return err
			}
			return printVersion(cmd, db)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSQL(cmd, func(db *sqldb.DB) error {
			return printVersion(cmd, db)
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func withSQL(cmd *cobra.Command, fn func(db *sqldb.DB) error) error {
	cfg, _, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	db, err := backend.OpenSQL(cmd.Context(), cfg.Database)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func printVersion(cmd *cobra.Command, db *sqldb.DB) error {
	w := cmd.OutOrStdout()
	version, dirty, err := db.MigrationVersion(cmd.Context())
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(w, "schema version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(w, "schema version %d\n", version)
	return nil
}
