package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/mirrorchat/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("MirrorChat Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Store.BaseURL = prompt(scanner, "Message store URL", cfg.Store.BaseURL)
		cfg.Auth.BaseURL = prompt(scanner, "Auth service URL", cfg.Auth.BaseURL)
		cfg.Channel.URL = prompt(scanner, "Realtime channel URL", cfg.Channel.URL)
		cfg.Auth.Username = prompt(scanner, "Username (optional)", cfg.Auth.Username)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		fmt.Println("Run `mirrorchat login <username>` to sign in.")
		return nil
	},
}

// prompt shows label with its default and returns the trimmed input, or the
// default when the line is empty.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}
