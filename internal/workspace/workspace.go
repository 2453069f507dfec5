// Package workspace manages the isolated working copies tasks execute in:
// one git worktree bound to one private branch per task, created together
// from the mainline tip and destroyed together after integration.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jkassemi/backfill/internal/gitx"
)

// ErrExists indicates a task's workspace path already exists on disk.
// Residue from a prior run must never be silently overwritten: it may hold
// unintegrated work.
var ErrExists = errors.New("workspace path already exists")

// Manager creates and destroys task workspaces under a single directory.
type Manager struct {
	repo   *gitx.Repo
	dir    string
	prefix string
}

// NewManager returns a Manager placing worktrees under dir and branches
// under prefix.
func NewManager(repo *gitx.Repo, dir, prefix string) *Manager {
	return &Manager{repo: repo, dir: dir, prefix: prefix}
}

// Dir returns the directory worktrees are created under.
func (m *Manager) Dir() string {
	return m.dir
}

// BranchFor derives the branch name for a subject path. The derivation is a
// pure function of the subject path: path separators become dashes and the
// extension is stripped, so repeated runs name the same branch for the same
// subject.
func (m *Manager) BranchFor(subjectPath string) string {
	stem := strings.TrimSuffix(subjectPath, filepath.Ext(subjectPath))
	stem = strings.ReplaceAll(stem, "/", "-")
	stem = strings.ReplaceAll(stem, "\\", "-")
	stem = strings.ReplaceAll(stem, " ", "-")
	return m.prefix + "/" + stem
}

// PathFor derives the worktree directory for a branch name.
func (m *Manager) PathFor(branch string) string {
	tail := branch[strings.LastIndex(branch, "/")+1:]
	return filepath.Join(m.dir, tail)
}

// Create makes the task's branch at the current mainline tip and checks it
// out into a fresh worktree. Returns ErrExists if the worktree path is
// already occupied.
func (m *Manager) Create(path, branch string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("creating workspaces dir: %w", err)
	}
	return m.repo.AddWorktree(path, branch)
}

// IsClean reports whether the workspace at path has no uncommitted
// modifications. A missing workspace counts as clean.
func (m *Manager) IsClean(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return true, nil
	}
	return m.repo.IsClean(path)
}

// Destroy removes the worktree at path and deletes its branch. Callers must
// have verified the workspace is clean; a dirty worktree makes the removal
// fail rather than discard work.
func (m *Manager) Destroy(path, branch string) error {
	if _, err := os.Stat(path); err == nil {
		if err := m.repo.RemoveWorktree(path); err != nil {
			return err
		}
	} else {
		// Worktree directory already gone; drop git's bookkeeping for it so
		// the branch delete below is not blocked by a stale checkout record.
		if err := m.repo.PruneWorktrees(); err != nil {
			return err
		}
	}
	if m.repo.BranchExists(branch) {
		return m.repo.DeleteBranch(branch)
	}
	return nil
}
