package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/config"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	pool, err := database.Connect(config.DatabaseURL())
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.Migrate(pool); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	cmd.Println("Schema is up to date.")
	return nil
}
