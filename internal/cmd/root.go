// Package cmd wires the backfill CLI: run, plan, and cleanup.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jkassemi/backfill/internal/config"
	"github.com/jkassemi/backfill/internal/models"
)

var (
	cfgFile      string
	flagRepo     string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill missing test files using an external agent",
	Long: `Backfill discovers source modules that lack their mirrored test file,
runs an external agent for each one inside an isolated git worktree on a
private branch, merges successful branches back into the mainline, and
cleans up after itself.

Run-level options come from a run.yaml (--config) plus flags; the target
repository describes its own layout and exclusions in backfill.toml.`,
	SilenceUsage: true,
}

// ExecuteContext runs the root command with the given context. The context
// is cancelled on interrupt; in-flight tasks drain before the run returns.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to run.yaml")
	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", "", "target repository (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

// loadRunConfig assembles the effective run config: file (if any), then
// flag overrides, then logging setup.
func loadRunConfig() (models.RunConfig, error) {
	cfg := config.DefaultRunConfig()
	if cfgFile != "" {
		var err error
		cfg, err = config.LoadRunConfig(cfgFile)
		if err != nil {
			return cfg, err
		}
	}
	if flagRepo != "" {
		cfg.Repo = flagRepo
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
