package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/imagebulk/internal/app/storage/postgres"
	"github.com/R3E-Network/imagebulk/internal/app/storage/postgres/migrations"
	"github.com/R3E-Network/imagebulk/internal/config"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd, migrations.Up)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			return withDatabase(cmd, func(db *sql.DB) error {
				return migrations.Down(db, steps)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}

// withDatabase opens the configured database, runs fn and prints the
// resulting schema version.
func withDatabase(cmd *cobra.Command, fn func(db *sql.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	db, err := postgres.Open(cfg.Database.DSN, 2, 1, 0)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := fn(db.DB); err != nil {
		return err
	}

	v, dirty, err := migrations.Version(db.DB)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", v, dirty)
	return err
}
