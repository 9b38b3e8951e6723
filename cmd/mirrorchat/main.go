package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/mirrorchat/internal/channel"
	"github.com/user/mirrorchat/internal/config"
	"github.com/user/mirrorchat/internal/identity"
	"github.com/user/mirrorchat/internal/orchestrator"
	"github.com/user/mirrorchat/internal/store"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "mirrorchat",
	Short:         "Multi-session chat client for the MirrorBot message store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config",
		filepath.Join(os.Getenv("HOME"), ".mirrorchat", "config.json"), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file or exits.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogging installs a text handler on stderr at the configured level.
func setupLogging(cfg *config.Config) {
	setLogOutput(os.Stderr, cfg)
}

// setupFileLogging sends logs to <data_dir>/mirrorchat.log so they do not
// draw over the chat screen. The returned func closes the file.
func setupFileLogging(cfg *config.Config) (func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(cfg.DataDir, "mirrorchat.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	setLogOutput(f, cfg)
	return func() { f.Close() }, nil
}

func setLogOutput(w io.Writer, cfg *config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))
}

func credentials(cfg *config.Config) *identity.CredentialStore {
	return identity.NewCredentialStore(cfg.CredentialsPath())
}

// resolveIdentity returns the configured or remembered identity.
func resolveIdentity(cfg *config.Config) (identity.Identity, error) {
	id, err := identity.Resolve(cfg.Auth.Username, cfg.Auth.Token, credentials(cfg))
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%w (run mirrorchat login)", err)
	}
	return id, nil
}

func backoff(cfg *config.Config) *channel.Backoff {
	r := cfg.Channel.Reconnect
	return &channel.Backoff{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: time.Duration(r.InitialDelayMS) * time.Millisecond,
		Multiplier:   r.Multiplier,
		MaxDelay:     time.Duration(r.MaxDelayMS) * time.Millisecond,
	}
}

// client bundles a started orchestrator with the supervisor it owns.
type client struct {
	*orchestrator.Orchestrator
	channel *channel.Supervisor
}

// startClient resolves the identity and runs the startup sequence.
func startClient(ctx context.Context, cfg *config.Config) (*client, error) {
	id, err := resolveIdentity(cfg)
	if err != nil {
		return nil, err
	}

	sup := channel.NewSupervisor(cfg.Channel.URL, backoff(cfg))
	o := orchestrator.New(id, store.New(cfg.Store.BaseURL, id.Token, cfg.StoreTimeout()), sup, orchestrator.Options{
		FallbackReply: cfg.Sync.FallbackReply,
		DedupeWindow:  cfg.DedupeWindow(),
		MaxConcurrent: int64(cfg.MaxConcurrent),
		LaneDepth:     orchestrator.DefaultOptions().LaneDepth,
	})
	if err := o.Start(ctx); err != nil {
		o.Close()
		return nil, fmt.Errorf("start: %w", err)
	}
	return &client{Orchestrator: o, channel: sup}, nil
}

// waitConnected gives the channel a moment to come up so that one-shot
// commands can broadcast.
func (c *client) waitConnected(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.channel.State() == channel.StateConnected {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}
