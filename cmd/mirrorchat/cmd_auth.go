package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/mirrorchat/internal/identity"
	"github.com/user/mirrorchat/internal/types"
)

var (
	authPassword string
	authEmail    string
)

func init() {
	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd)
	loginCmd.Flags().StringVarP(&authPassword, "password", "p", "", "password (prompted when empty)")
	registerCmd.Flags().StringVarP(&authPassword, "password", "p", "", "password (prompted when empty)")
	registerCmd.Flags().StringVar(&authEmail, "email", "", "email address")
}

var loginCmd = &cobra.Command{
	Use:   "login <username|email>",
	Short: "Log in and remember the credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		password := authPassword
		if password == "" {
			password = prompt(bufio.NewScanner(os.Stdin), "Password", "")
		}
		id, err := identity.NewClient(cfg.Auth.BaseURL).Login(context.Background(), args[0], password)
		if err != nil {
			return err
		}
		if id.Username == "" {
			id.Username = args[0]
		}
		if err := credentials(cfg).Save(id); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Logged in as %s.\n", id.Username)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create an account and log in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		scanner := bufio.NewScanner(os.Stdin)
		email := authEmail
		if email == "" {
			email = prompt(scanner, "Email", "")
		}
		password := authPassword
		if password == "" {
			password = prompt(scanner, "Password", "")
		}
		id, err := identity.NewClient(cfg.Auth.BaseURL).Register(context.Background(), args[0], email, password)
		if err != nil {
			return err
		}
		if err := credentials(cfg).Save(id); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Registered and logged in as %s.\n", id.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the remembered credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := credentials(cfg).Clear(); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		id, err := resolveIdentity(cfg)
		if errors.Is(err, types.ErrAuth) {
			fmt.Fprintln(os.Stdout, "Not logged in.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, id.Username)
		return nil
	},
}
