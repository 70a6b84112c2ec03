package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/afritokeni/afritokeni/internal/infra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set to migrate")
		}
		db, err := infra.NewPostgresPool(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := infra.Migrate(cmd.Context(), db); err != nil {
			return err
		}
		color.New(color.FgGreen, color.Bold).Fprintln(cmd.OutOrStdout(), "schema applied")
		return nil
	},
}
