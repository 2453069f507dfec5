package executor

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jkassemi/backfill/internal/models"
)

// reclaim removes each task's worktree and deletes its branch, regardless
// of merge outcome, but only when the worktree is clean. A dirty workspace
// may hold unintegrated work: it is left in place with its branch and
// reported by name for manual resolution.
func (o *Orchestrator) reclaim(tasks []models.Task) []string {
	var residue []string
	for i := range tasks {
		t := &tasks[i]
		if !o.reclaimOne(t.WorkspacePath, t.Branch) {
			residue = append(residue, t.WorkspacePath)
		}
	}
	return residue
}

func (o *Orchestrator) reclaimOne(path, branch string) bool {
	clean, err := o.workspaces.IsClean(path)
	if err != nil {
		slog.Warn("could not inspect workspace, leaving it in place", "workspace", path, "error", err)
		return false
	}
	if !clean {
		slog.Warn("workspace has uncommitted modifications, leaving it and its branch in place",
			"workspace", path, "branch", branch)
		return false
	}
	if err := o.workspaces.Destroy(path, branch); err != nil {
		slog.Warn("workspace removal failed, leaving it in place", "workspace", path, "error", err)
		return false
	}
	slog.Debug("workspace reclaimed", "workspace", path, "branch", branch)
	return true
}

// CleanupResidue is the standalone reclamation pass behind the cleanup
// command. It finds residue left by earlier runs — branches under the
// configured prefix and worktree directories under the workspaces dir —
// and applies the same rules as the in-run reclaimer: clean workspaces are
// removed with their branches, dirty ones are kept and reported. With
// dryRun set, nothing is touched.
func (o *Orchestrator) CleanupResidue(dryRun bool) (removed, kept []string, err error) {
	branches, err := o.repo.ListBranches(o.cfg.BranchPrefix + "/")
	if err != nil {
		return nil, nil, err
	}

	// Branch-addressed residue first: the deterministic naming gives us the
	// workspace path even when the worktree directory is already gone.
	seen := make(map[string]bool)
	for _, branch := range branches {
		path := o.workspaces.PathFor(branch)
		seen[path] = true
		name := branch + " (" + path + ")"
		if dryRun {
			removed = append(removed, name)
			continue
		}
		if o.reclaimOne(path, branch) {
			removed = append(removed, name)
		} else {
			kept = append(kept, name)
		}
	}

	// Orphaned worktree directories whose branch is already gone.
	entries, readErr := os.ReadDir(o.workspaces.Dir())
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return removed, kept, nil
		}
		return removed, kept, readErr
	}
	for _, e := range entries {
		path := filepath.Join(o.workspaces.Dir(), e.Name())
		if !e.IsDir() || seen[path] {
			continue
		}
		branch := o.cfg.BranchPrefix + "/" + e.Name()
		if dryRun {
			removed = append(removed, path)
			continue
		}
		if o.reclaimOne(path, branch) {
			removed = append(removed, path)
		} else {
			kept = append(kept, path)
		}
	}

	return removed, kept, nil
}
