package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/logging"
	"github.com/afritokeni/afritokeni/internal/routes"
)

var newUser identity.Registration

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Register a user with a wallet, typically an agent or an admin",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := logging.New(cfg.LogLevel, cfg.LogFormat)
		b, err := connect(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer b.close(logger)
		if b.db == nil {
			color.New(color.FgYellow).Fprintln(cmd.ErrOrStderr(), "DATABASE_URL is not set: the user will only live in memory")
		}

		services, err := routes.NewServices(routes.Deps{Cfg: cfg, DB: b.db, Cache: b.cache, Logger: logger})
		if err != nil {
			return err
		}
		profile, err := services.Accounts.Register(cmd.Context(), newUser)
		if err != nil {
			if errors.Is(err, identity.ErrUserExists) {
				color.New(color.FgRed, color.Bold).Fprintf(cmd.ErrOrStderr(), "%s is already registered\n", newUser.Phone)
			}
			return err
		}

		bold := color.New(color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) as %s\n", green("created"), bold(profile.User.FullName()), profile.User.Phone, bold(profile.User.Role))
		fmt.Fprintf(cmd.OutOrStdout(), "  user   %s\n  wallet %s (%s)\n", profile.User.ID, profile.Wallet.ID, profile.Wallet.Currency)
		return nil
	},
}

func init() {
	f := createUserCmd.Flags()
	f.StringVar(&newUser.Phone, "phone", "", "phone number in international format, e.g. +256700000000")
	f.StringVar(&newUser.PIN, "pin", "", "4-digit PIN")
	f.StringVar(&newUser.FirstName, "first", "", "first name")
	f.StringVar(&newUser.LastName, "last", "", "last name")
	f.StringVar(&newUser.Role, "role", identity.RoleAgent, "user, agent or admin")
	f.StringVar(&newUser.Currency, "currency", "", "fiat currency; detected from the phone when empty")
	for _, name := range []string{"phone", "pin", "first", "last"} {
		_ = createUserCmd.MarkFlagRequired(name)
	}
}
