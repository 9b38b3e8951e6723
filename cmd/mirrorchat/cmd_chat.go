package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/user/mirrorchat/internal/scheduler"
	"github.com/user/mirrorchat/internal/tui"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat screen",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		closeLog, err := setupFileLogging(cfg)
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c, err := startClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		sched := scheduler.New(cfg.StoreTimeout(), scheduler.Job{
			Name:     "resync",
			Schedule: cfg.Sync.ResyncSchedule,
			Run:      c.Resync,
		})
		sched.Start(ctx)
		defer sched.Stop()

		slog.Info("chat started", "user", c.Identity().Username, "store", cfg.Store.BaseURL)
		if err := tui.Run(ctx, c.Orchestrator); err != nil {
			return fmt.Errorf("chat screen: %w", err)
		}
		return nil
	},
}
