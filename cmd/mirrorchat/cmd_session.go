package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/mirrorchat/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionsCmd, historyCmd, sendCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		c, err := startClient(context.Background(), cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		active := c.Registry().Active()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tACTIVE")
		for _, s := range c.Registry().Sessions() {
			mark := ""
			if s.ID == active {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\n", s.ID, mark)
		}
		return w.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <session>",
	Short: "Print a session's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		ctx := context.Background()
		c, err := startClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		session := types.SessionID(args[0])
		if session != c.Registry().Active() {
			if err := c.Switch(ctx, session); err != nil {
				return err
			}
		}
		msgs := c.Timeline().View(session)
		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		printMessages(msgs)
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <session> <message...>",
	Short: "Send a message and print the reply",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		ctx := context.Background()
		c, err := startClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		session := types.SessionID(args[0])
		if !c.Registry().Contains(session) {
			return fmt.Errorf("unknown session %s (see mirrorchat sessions list)", session)
		}
		c.waitConnected(2 * time.Second)

		res, err := c.Send(ctx, session, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		printMessages([]types.Message{res.Echo, *res.Reply})
		return nil
	},
}

func printMessages(msgs []types.Message) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.CreatedAt.Local().Format("2006-01-02 15:04:05"), m.Author, m.Body)
	}
	w.Flush()
}
