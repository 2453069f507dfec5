package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jkassemi/backfill/internal/executor"
)

var (
	runConcurrency      int
	runAgentCommand     string
	runAgentTimeoutSec  float64
	runBaseline         string
	runBranchPrefix     string
	runWorkspacesDir    string
	runAllowSharedPaths bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover missing tests and backfill them",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "j", 0, "max tasks in flight (default 1)")
	runCmd.Flags().StringVar(&runAgentCommand, "agent", "", "agent shell command, receives the instruction on stdin")
	runCmd.Flags().Float64Var(&runAgentTimeoutSec, "agent-timeout", 0, "agent timeout in seconds, 0 disables")
	runCmd.Flags().StringVar(&runBaseline, "baseline", "", "mainline branch (default: auto-detect main/master)")
	runCmd.Flags().StringVar(&runBranchPrefix, "branch-prefix", "", "prefix for task branches (default backfill)")
	runCmd.Flags().StringVar(&runWorkspacesDir, "workspaces-dir", "", "directory for worktrees, logs and the run report")
	runCmd.Flags().BoolVar(&runAllowSharedPaths, "allow-shared-paths", false, "commit agent edits outside the artifact path")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}
	if runConcurrency > 0 {
		cfg.Concurrency = runConcurrency
	}
	if runAgentCommand != "" {
		cfg.Agent.Command = runAgentCommand
	}
	if cmd.Flags().Changed("agent-timeout") {
		cfg.Agent.TimeoutSec = runAgentTimeoutSec
	}
	if runBaseline != "" {
		cfg.Baseline = runBaseline
	}
	if runBranchPrefix != "" {
		cfg.BranchPrefix = runBranchPrefix
	}
	if runWorkspacesDir != "" {
		cfg.WorkspacesDir = runWorkspacesDir
	}
	if cmd.Flags().Changed("allow-shared-paths") {
		cfg.AllowSharedPaths = runAllowSharedPaths
	}

	if cfg.Agent.Command == "" {
		return fmt.Errorf("no agent command configured; set agent.command in run.yaml or pass --agent")
	}

	orch, err := executor.New(cfg, executor.DefaultAgentRunner(cfg))
	if err != nil {
		return err
	}

	result, err := orch.Run(cmd.Context())
	if err != nil {
		return err
	}

	if result.TotalTasks == 0 {
		fmt.Println("Nothing to do: every subject already has its test file.")
		return nil
	}

	fmt.Printf("\nRepository: %s (baseline %s)\n", result.RepoPath, result.Baseline)
	fmt.Printf("Tasks: %d\n", result.TotalTasks)
	fmt.Printf("Committed: %d\n", result.Committed)
	fmt.Printf("No changes: %d\n", result.NoChanges)
	fmt.Printf("Failed: %d\n", result.Failed)
	fmt.Printf("Merged: %d\n", result.Merged)
	fmt.Printf("Duration: %.2fs\n", result.TotalDurationSec)

	for _, t := range result.Tasks {
		line := fmt.Sprintf("  %-11s %s", t.Status, t.SubjectPath)
		if t.Error != nil {
			line += " (" + t.Error.Error() + ")"
		}
		fmt.Println(line)
	}

	if len(result.Residue) > 0 {
		fmt.Println("\nResidue left for manual resolution:")
		for _, r := range result.Residue {
			fmt.Println("  " + r)
		}
	}

	return nil
}
