package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jkassemi/backfill/internal/models"
)

// DefaultRunConfig returns a RunConfig with default values.
func DefaultRunConfig() models.RunConfig {
	return models.RunConfig{
		Repo:         ".",
		Concurrency:  1,
		BranchPrefix: "backfill",
		LogLevel:     "info",
	}
}

// LoadRunConfig loads and parses a run.yaml file.
func LoadRunConfig(path string) (models.RunConfig, error) {
	cfg := DefaultRunConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading run config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing run config: %w", err)
	}

	// Apply defaults for missing values
	if cfg.Repo == "" {
		cfg.Repo = "."
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "backfill"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.Concurrency < 1 {
		return cfg, fmt.Errorf("concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	if cfg.Agent.TimeoutSec < 0 {
		return cfg, fmt.Errorf("agent timeout_sec must not be negative, got %g", cfg.Agent.TimeoutSec)
	}

	return cfg, nil
}

// DefaultWorkspacesDir returns the deterministic workspaces directory for a
// repository: stable across runs on the same host so leftover worktrees from
// a prior run are found at the same paths, and outside the repository so it
// never shows up as an uncommitted modification.
func DefaultWorkspacesDir(repoRoot string) string {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		abs = repoRoot
	}
	return filepath.Join(os.TempDir(), "backfill", filepath.Base(abs))
}
