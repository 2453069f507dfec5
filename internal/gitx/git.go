// Package gitx wraps the git CLI operations the orchestrator depends on:
// worktree and branch lifecycle, staging, commit-if-staged, commits-ahead
// queries, and non-fast-forward merges. The Runner interface allows tests
// to mock git without executing it.
package gitx

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrMergeConflict indicates a merge stopped on conflicts. Given disjoint
// artifact paths this should never happen; when it does it signals an
// invariant violation and the run must be aborted.
var ErrMergeConflict = errors.New("merge conflict")

// Runner executes a git command in a directory and returns combined output.
type Runner interface {
	Run(dir string, args ...string) ([]byte, error)
}

// CLIRunner executes git using os/exec.
type CLIRunner struct{}

func (CLIRunner) Run(dir string, args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Repo provides git operations against a single repository. Worktree and
// branch operations run from the repository root; status and staging
// operations take an explicit directory so they work inside worktrees.
type Repo struct {
	root string
	run  Runner
}

// Open verifies that root is a git repository and returns a Repo for it.
func Open(root string) (*Repo, error) {
	r := &Repo{root: root, run: CLIRunner{}}
	if out, err := r.run.Run(root, "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("not a git repository: %s: %w\n%s", root, err, out)
	}
	return r, nil
}

// OpenWithRunner returns a Repo that uses a custom runner. For tests.
func OpenWithRunner(root string, run Runner) *Repo {
	return &Repo{root: root, run: run}
}

// Root returns the repository root directory.
func (r *Repo) Root() string {
	return r.root
}

// IsClean reports whether the working copy at dir has no uncommitted
// modifications, including untracked files.
func (r *Repo) IsClean(dir string) (bool, error) {
	out, err := r.run.Run(dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w\n%s", err, out)
	}
	return len(strings.TrimSpace(string(out))) == 0, nil
}

// CurrentBranch returns the branch checked out at the repository root.
func (r *Repo) CurrentBranch() (string, error) {
	out, err := r.run.Run(r.root, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w\n%s", err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

// DefaultBranch returns "main" if it exists, otherwise "master".
func (r *Repo) DefaultBranch() string {
	if r.BranchExists("main") {
		return "main"
	}
	return "master"
}

// BranchExists reports whether a local branch with the given name exists.
func (r *Repo) BranchExists(name string) bool {
	_, err := r.run.Run(r.root, "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// ListBranches returns local branches whose names start with prefix.
func (r *Repo) ListBranches(prefix string) ([]string, error) {
	out, err := r.run.Run(r.root, "for-each-ref", "--format=%(refname:short)", "refs/heads/"+prefix)
	if err != nil {
		return nil, fmt.Errorf("git for-each-ref: %w\n%s", err, out)
	}
	var branches []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// AddWorktree creates branch at the current HEAD and checks it out into a
// new worktree at path, in one step.
func (r *Repo) AddWorktree(path, branch string) error {
	out, err := r.run.Run(r.root, "worktree", "add", "-b", branch, path)
	if err != nil {
		return fmt.Errorf("git worktree add %s: %w\n%s", path, err, out)
	}
	return nil
}

// RemoveWorktree removes the worktree at path. Git itself refuses to remove
// a worktree with uncommitted modifications; callers check cleanliness first
// and this deliberately does not pass --force.
func (r *Repo) RemoveWorktree(path string) error {
	out, err := r.run.Run(r.root, "worktree", "remove", path)
	if err != nil {
		return fmt.Errorf("git worktree remove %s: %w\n%s", path, err, out)
	}
	return nil
}

// PruneWorktrees drops stale worktree bookkeeping after manual removals.
func (r *Repo) PruneWorktrees() error {
	out, err := r.run.Run(r.root, "worktree", "prune")
	if err != nil {
		return fmt.Errorf("git worktree prune: %w\n%s", err, out)
	}
	return nil
}

// DeleteBranch force-deletes a local branch.
func (r *Repo) DeleteBranch(name string) error {
	out, err := r.run.Run(r.root, "branch", "-D", name)
	if err != nil {
		return fmt.Errorf("git branch -D %s: %w\n%s", name, err, out)
	}
	return nil
}

// Stage stages the given paths in the working copy at dir. Paths that do
// not exist are ignored, so staging an artifact the agent never produced
// is a no-op rather than an error.
func (r *Repo) Stage(dir string, paths ...string) error {
	args := append([]string{"add", "--ignore-errors", "--"}, paths...)
	out, err := r.run.Run(dir, args...)
	if err != nil && !strings.Contains(string(out), "did not match any files") {
		return fmt.Errorf("git add: %w\n%s", err, out)
	}
	return nil
}

// StageAll stages every modification in the working copy at dir.
func (r *Repo) StageAll(dir string) error {
	out, err := r.run.Run(dir, "add", "-A")
	if err != nil {
		return fmt.Errorf("git add -A: %w\n%s", err, out)
	}
	return nil
}

// HasStaged reports whether the working copy at dir has staged changes.
func (r *Repo) HasStaged(dir string) (bool, error) {
	out, err := r.run.Run(dir, "diff", "--cached", "--name-only")
	if err != nil {
		return false, fmt.Errorf("git diff --cached: %w\n%s", err, out)
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

// Commit commits staged changes in the working copy at dir.
func (r *Repo) Commit(dir, message string) error {
	out, err := r.run.Run(dir, "commit", "-m", message)
	if err != nil {
		if strings.Contains(string(out), "nothing to commit") {
			return nil
		}
		return fmt.Errorf("git commit: %w\n%s", err, out)
	}
	return nil
}

// CommitsAhead returns how many commits branch has beyond base.
func (r *Repo) CommitsAhead(branch, base string) (int, error) {
	out, err := r.run.Run(r.root, "rev-list", "--count", base+".."+branch)
	if err != nil {
		return 0, fmt.Errorf("git rev-list: %w\n%s", err, out)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("parsing rev-list count %q: %w", strings.TrimSpace(string(out)), err)
	}
	return n, nil
}

// MergeNoFF merges branch into the branch checked out at the repository
// root with a merge commit, even when a fast-forward would be possible.
// On conflict the merge is aborted and ErrMergeConflict is returned.
func (r *Repo) MergeNoFF(branch, message string) error {
	out, err := r.run.Run(r.root, "merge", "--no-ff", "-m", message, branch)
	if err != nil {
		if strings.Contains(string(out), "CONFLICT") {
			abortOut, abortErr := r.run.Run(r.root, "merge", "--abort")
			if abortErr != nil {
				return fmt.Errorf("merging %s: %w (abort also failed: %s)", branch, ErrMergeConflict, abortOut)
			}
			return fmt.Errorf("merging %s: %w\n%s", branch, ErrMergeConflict, out)
		}
		return fmt.Errorf("git merge --no-ff %s: %w\n%s", branch, err, out)
	}
	return nil
}
