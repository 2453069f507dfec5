package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jkassemi/backfill/internal/executor"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a run would do without mutating anything",
	RunE:  runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}

	orch, err := executor.New(cfg, nil)
	if err != nil {
		return err
	}

	tasks, err := orch.Plan(cmd.Context())
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("Nothing to do: every subject already has its test file.")
		return nil
	}

	fmt.Printf("%d task(s) would run, in this order:\n", len(tasks))
	for _, t := range tasks {
		fmt.Printf("  %s\n    artifact: %s\n    branch:   %s\n", t.SubjectPath, t.ArtifactPath, t.Branch)
	}
	return nil
}
