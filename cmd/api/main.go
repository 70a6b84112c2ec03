package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/afritokeni/afritokeni/internal/config"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:           "api",
	Short:         "AfriTokeni USSD and SMS mobile-money gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		return nil
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, createUserCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
