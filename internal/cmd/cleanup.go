package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jkassemi/backfill/internal/executor"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove residue left by earlier runs",
	Long: `Cleanup removes worktrees and branches left behind by earlier runs:
clean workspaces are removed together with their branches, while
workspaces that still hold uncommitted modifications are kept and
reported, exactly as during a run's own reclamation phase.

Use --dry-run to see what would be removed without touching anything.`,
	RunE: runCleanupCmd,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "show what would be removed without making changes")
}

func runCleanupCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}

	orch, err := executor.New(cfg, nil)
	if err != nil {
		return err
	}

	removed, kept, err := orch.CleanupResidue(cleanupDryRun)
	if err != nil {
		return err
	}

	if len(removed) == 0 && len(kept) == 0 {
		fmt.Println("No residue found.")
		return nil
	}

	verb := "Removed"
	if cleanupDryRun {
		verb = "Would remove"
	}
	for _, r := range removed {
		fmt.Printf("%s %s\n", verb, r)
	}
	for _, k := range kept {
		fmt.Printf("Kept (uncommitted modifications): %s\n", k)
	}
	return nil
}
