package executor_test

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jkassemi/backfill/internal/executor"
	"github.com/jkassemi/backfill/internal/models"
)

// stubAgent is a deterministic stand-in for the external agent. Behavior is
// keyed by subject so a single run can mix producing, idle, and failing
// agents. It also tracks how many invocations run at once.
type stubAgent struct {
	mu         sync.Mutex
	running    int
	maxRunning int

	// delay keeps invocations overlapping so the concurrency bound is
	// observable.
	delay time.Duration

	// behave is called with the workspace dir and the artifact path parsed
	// from the instruction. Default: create the artifact.
	behave func(workdir, artifact string) error
}

func (s *stubAgent) Run(ctx context.Context, workdir, instruction string, stdout, stderr io.Writer) error {
	s.mu.Lock()
	s.running++
	if s.running > s.maxRunning {
		s.maxRunning = s.running
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	artifact := artifactFromInstruction(instruction)
	if s.behave != nil {
		return s.behave(workdir, artifact)
	}
	return writeArtifact(workdir, artifact)
}

// artifactFromInstruction pulls the artifact path out of the instruction
// payload. The payload names it on the "relative to the working directory:"
// line.
func artifactFromInstruction(instruction string) string {
	for _, line := range strings.Split(instruction, "\n") {
		if _, after, ok := strings.Cut(line, "working directory: "); ok {
			return strings.TrimSpace(after)
		}
	}
	return ""
}

func writeArtifact(workdir, artifact string) error {
	path := filepath.Join(workdir, filepath.FromSlash(artifact))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("def test_placeholder():\n    assert True\n"), 0644)
}

// initRepo creates a target repository with the given subject files
// committed on main, or skips when git is unavailable.
func initRepo(t *testing.T, subjects ...string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	files := append([]string{"src/__init__.py"}, subjects...)
	for _, f := range files {
		path := filepath.Join(dir, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("pass\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	git(t, dir, "init", "-q", "-b", "main")
	git(t, dir, "config", "user.email", "dev@example.com")
	git(t, dir, "config", "user.name", "Dev")
	git(t, dir, "add", "-A")
	git(t, dir, "commit", "-q", "-m", "initial commit")
	return dir
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func testConfig(t *testing.T, repoDir string) models.RunConfig {
	t.Helper()
	return models.RunConfig{
		Repo:          repoDir,
		Baseline:      "main",
		Concurrency:   1,
		WorkspacesDir: t.TempDir(),
		BranchPrefix:  "backfill",
	}
}

func newOrchestrator(t *testing.T, cfg models.RunConfig, stub *stubAgent) *executor.Orchestrator {
	t.Helper()
	orch, err := executor.New(cfg, stub)
	if err != nil {
		t.Fatalf("creating orchestrator: %v", err)
	}
	return orch
}

func TestRunMergesAllArtifacts(t *testing.T) {
	repoDir := initRepo(t, "src/alpha.py", "src/beta.py", "src/rules/gamma.py")
	cfg := testConfig(t, repoDir)
	orch := newOrchestrator(t, cfg, &stubAgent{})

	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.TotalTasks != 3 || result.Committed != 3 || result.Merged != 3 {
		t.Fatalf("expected 3 committed and merged tasks, got %+v", result)
	}
	if result.Failed != 0 || result.NoChanges != 0 || len(result.Residue) != 0 {
		t.Errorf("unexpected failures or residue: %+v", result)
	}

	// All three artifacts are on the mainline.
	for _, artifact := range []string{
		"tests/test_alpha.py",
		"tests/test_beta.py",
		"tests/rules/test_gamma.py",
	} {
		if _, err := os.Stat(filepath.Join(repoDir, filepath.FromSlash(artifact))); err != nil {
			t.Errorf("artifact %s missing from mainline: %v", artifact, err)
		}
	}

	// Each integration is a visible non-fast-forward merge, applied in
	// discovery order regardless of completion order.
	merges := git(t, repoDir, "log", "--merges", "--pretty=%s")
	want := []string{
		"Merge backfill/src-rules-gamma: tests for src/rules/gamma.py",
		"Merge backfill/src-beta: tests for src/beta.py",
		"Merge backfill/src-alpha: tests for src/alpha.py",
	}
	got := strings.Split(merges, "\n")
	if len(got) != 3 {
		t.Fatalf("expected 3 merge commits, got %d:\n%s", len(got), merges)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("merge %d: got %q, want %q", i, got[i], want[i])
		}
	}

	// Worktrees and branches are reclaimed.
	if branches := git(t, repoDir, "for-each-ref", "--format=%(refname:short)", "refs/heads/backfill/"); branches != "" {
		t.Errorf("task branches left behind: %s", branches)
	}
	entries, _ := os.ReadDir(filepath.Join(cfg.WorkspacesDir, "worktrees"))
	if len(entries) != 0 {
		t.Errorf("worktrees left behind: %v", entries)
	}

	// The run report exists.
	if _, err := os.Stat(filepath.Join(cfg.WorkspacesDir, "run.json")); err != nil {
		t.Errorf("run report missing: %v", err)
	}
}

func TestSecondRunHasNothingToDo(t *testing.T) {
	repoDir := initRepo(t, "src/alpha.py", "src/beta.py")
	cfg := testConfig(t, repoDir)

	first, err := newOrchestrator(t, cfg, &stubAgent{}).Run(context.Background())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.Merged != 2 {
		t.Fatalf("first run merged %d, want 2", first.Merged)
	}

	second, err := newOrchestrator(t, cfg, &stubAgent{}).Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.TotalTasks != 0 {
		t.Errorf("second run discovered %d tasks, want 0", second.TotalTasks)
	}
}

func TestGuardRejectsDirtyRepository(t *testing.T) {
	repoDir := initRepo(t, "src/alpha.py")
	if err := os.WriteFile(filepath.Join(repoDir, "scratch.txt"), []byte("wip\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t, repoDir)
	_, err := newOrchestrator(t, cfg, &stubAgent{}).Run(context.Background())
	if err == nil {
		t.Fatal("expected guard failure for dirty repository")
	}
	if !strings.Contains(err.Error(), "uncommitted") {
		t.Errorf("unexpected error: %v", err)
	}

	// Termination was immediate: no workspace was created.
	if _, statErr := os.Stat(filepath.Join(cfg.WorkspacesDir, "worktrees")); !os.IsNotExist(statErr) {
		t.Error("guard failure must precede workspace creation")
	}
}

func TestGuardRejectsWrongBaseline(t *testing.T) {
	repoDir := initRepo(t, "src/alpha.py")
	git(t, repoDir, "checkout", "-q", "-b", "feature")

	cfg := testConfig(t, repoDir)
	_, err := newOrchestrator(t, cfg, &stubAgent{}).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "baseline") {
		t.Errorf("expected baseline error, got %v", err)
	}
}

func TestNoChangesLeavesMainlineUntouched(t *testing.T) {
	repoDir := initRepo(t, "src/alpha.py")
	head := git(t, repoDir, "rev-parse", "HEAD")

	idle := &stubAgent{behave: func(workdir, artifact string) error { return nil }}
	cfg := testConfig(t, repoDir)
	result, err := newOrchestrator(t, cfg, idle).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.NoChanges != 1 || result.Committed != 0 || result.Failed != 0 {
		t.Errorf("expected one no_changes task, got %+v", result)
	}
	if result.Merged != 0 {
		t.Errorf("nothing should merge, got %d", result.Merged)
	}
	if got := git(t, repoDir, "rev-parse", "HEAD"); got != head {
		t.Error("mainline tip moved for a no-op task")
	}
	if branches := git(t, repoDir, "for-each-ref", "--format=%(refname:short)", "refs/heads/backfill/"); branches != "" {
		t.Errorf("no-op task left branches: %s", branches)
	}
}

func TestAgentFailureIsDistinctFromNoChanges(t *testing.T) {
	repoDir := initRepo(t, "src/bad.py", "src/good.py")

	stub := &stubAgent{behave: func(workdir, artifact string) error {
		if strings.Contains(artifact, "bad") {
			return os.ErrPermission
		}
		return writeArtifact(workdir, artifact)
	}}

	cfg := testConfig(t, repoDir)
	result, err := newOrchestrator(t, cfg, stub).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Failed != 1 || result.Committed != 1 {
		t.Fatalf("expected 1 failed and 1 committed, got %+v", result)
	}

	var failed *models.TaskSummary
	for i := range result.Tasks {
		if result.Tasks[i].Status == models.StatusFailed {
			failed = &result.Tasks[i]
		}
	}
	if failed == nil {
		t.Fatal("no failed task in summaries")
	}
	if failed.SubjectPath != "src/bad.py" {
		t.Errorf("wrong task failed: %s", failed.SubjectPath)
	}
	if failed.Error == nil || failed.Error.Type != models.ErrAgentExecutionFailed {
		t.Errorf("expected agent_execution_failed, got %+v", failed.Error)
	}
	if failed.Status == models.StatusNoChanges {
		t.Error("a failed agent must not read as no_changes")
	}

	// And the failure did not block the other task's merge.
	if _, err := os.Stat(filepath.Join(repoDir, "tests", "test_good.py")); err != nil {
		t.Errorf("healthy task's artifact missing: %v", err)
	}
}

func TestConcurrencyBound(t *testing.T) {
	repoDir := initRepo(t,
		"src/a.py", "src/b.py", "src/c.py", "src/d.py", "src/e.py")

	stub := &stubAgent{delay: 30 * time.Millisecond}
	cfg := testConfig(t, repoDir)
	cfg.Concurrency = 2

	result, err := newOrchestrator(t, cfg, stub).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Committed != 5 || result.Merged != 5 {
		t.Fatalf("expected all 5 tasks merged, got %+v", result)
	}
	if stub.maxRunning > 2 {
		t.Errorf("observed %d concurrent agents, bound is 2", stub.maxRunning)
	}
}

func TestDirtyWorkspaceBecomesResidue(t *testing.T) {
	repoDir := initRepo(t, "src/alpha.py")

	// The agent produces the artifact but also leaves an unsolicited edit.
	// Only the artifact is committed; the leftover keeps the worktree dirty.
	stub := &stubAgent{behave: func(workdir, artifact string) error {
		if err := writeArtifact(workdir, artifact); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(workdir, "scratch.txt"), []byte("wip\n"), 0644)
	}}

	cfg := testConfig(t, repoDir)
	result, err := newOrchestrator(t, cfg, stub).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Committed != 1 || result.Merged != 1 {
		t.Fatalf("artifact should still commit and merge, got %+v", result)
	}
	if len(result.Residue) != 1 {
		t.Fatalf("expected 1 residue entry, got %v", result.Residue)
	}

	// The dirty workspace and its branch survive for manual resolution.
	if _, err := os.Stat(result.Residue[0]); err != nil {
		t.Errorf("residue workspace was removed: %v", err)
	}
	if branches := git(t, repoDir, "for-each-ref", "--format=%(refname:short)", "refs/heads/backfill/"); branches == "" {
		t.Error("residue branch was deleted")
	}
}

func TestPreexistingWorkspaceAborts(t *testing.T) {
	repoDir := initRepo(t, "src/alpha.py")
	cfg := testConfig(t, repoDir)
	orch := newOrchestrator(t, cfg, &stubAgent{})

	tasks, err := orch.Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if err := os.MkdirAll(tasks[0].WorkspacePath, 0755); err != nil {
		t.Fatal(err)
	}

	_, err = orch.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected pre-existing workspace error, got %v", err)
	}
}

func TestPlanIsReadOnly(t *testing.T) {
	repoDir := initRepo(t, "src/alpha.py", "src/beta.py")
	head := git(t, repoDir, "rev-parse", "HEAD")

	cfg := testConfig(t, repoDir)
	tasks, err := newOrchestrator(t, cfg, nil).Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].SubjectPath != "src/alpha.py" || tasks[1].SubjectPath != "src/beta.py" {
		t.Errorf("unexpected plan order: %v", tasks)
	}
	if tasks[0].Branch != "backfill/src-alpha" {
		t.Errorf("unexpected branch name: %s", tasks[0].Branch)
	}

	if got := git(t, repoDir, "rev-parse", "HEAD"); got != head {
		t.Error("plan mutated the repository")
	}
	if branches := git(t, repoDir, "for-each-ref", "--format=%(refname:short)", "refs/heads/backfill/"); branches != "" {
		t.Errorf("plan created branches: %s", branches)
	}
}

func TestPlanRejectsBranchCollision(t *testing.T) {
	// "src/a/b.py" and "src/a-b.py" flatten to the same branch name.
	repoDir := initRepo(t, "src/a/b.py", "src/a-b.py")
	cfg := testConfig(t, repoDir)

	_, err := newOrchestrator(t, cfg, nil).Plan(context.Background())
	if err == nil || !strings.Contains(err.Error(), "same branch") {
		t.Errorf("expected branch collision error, got %v", err)
	}
}

func TestCleanupResidue(t *testing.T) {
	repoDir := initRepo(t, "src/alpha.py", "src/beta.py")

	// Leave one dirty and one clean workspace behind by failing the run's
	// own reclamation: alpha gets an unsolicited edit.
	stub := &stubAgent{behave: func(workdir, artifact string) error {
		if err := writeArtifact(workdir, artifact); err != nil {
			return err
		}
		if strings.Contains(artifact, "alpha") {
			return os.WriteFile(filepath.Join(workdir, "scratch.txt"), []byte("wip\n"), 0644)
		}
		return nil
	}}

	cfg := testConfig(t, repoDir)
	result, err := newOrchestrator(t, cfg, stub).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Residue) != 1 {
		t.Fatalf("expected 1 residue entry, got %v", result.Residue)
	}

	orch := newOrchestrator(t, cfg, nil)

	// Dry run reports without touching anything.
	wouldRemove, _, err := orch.CleanupResidue(true)
	if err != nil {
		t.Fatalf("CleanupResidue dry run failed: %v", err)
	}
	if len(wouldRemove) != 1 {
		t.Fatalf("dry run should list the residue, got %v", wouldRemove)
	}
	if _, err := os.Stat(result.Residue[0]); err != nil {
		t.Fatal("dry run removed the workspace")
	}

	// The dirty workspace is kept even by a real cleanup.
	removed, kept, err := orch.CleanupResidue(false)
	if err != nil {
		t.Fatalf("CleanupResidue failed: %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("expected the dirty workspace to be kept, got removed=%v kept=%v", removed, kept)
	}

	// After the manual resolution (here: discarding the edit), cleanup
	// reclaims workspace and branch.
	if err := os.Remove(filepath.Join(result.Residue[0], "scratch.txt")); err != nil {
		t.Fatal(err)
	}
	removed, kept, err = orch.CleanupResidue(false)
	if err != nil {
		t.Fatalf("CleanupResidue failed: %v", err)
	}
	if len(removed) != 1 || len(kept) != 0 {
		t.Errorf("expected residue reclaimed, got removed=%v kept=%v", removed, kept)
	}
	if branches := git(t, repoDir, "for-each-ref", "--format=%(refname:short)", "refs/heads/backfill/"); branches != "" {
		t.Errorf("cleanup left branches: %s", branches)
	}
}

func TestCancellationLeavesRemainingTasksPending(t *testing.T) {
	repoDir := initRepo(t, "src/a.py", "src/b.py", "src/c.py")

	ctx, cancel := context.WithCancel(context.Background())
	stub := &stubAgent{behave: func(workdir, artifact string) error {
		cancel() // first task cancels the run mid-flight
		return writeArtifact(workdir, artifact)
	}}

	cfg := testConfig(t, repoDir)
	result, err := newOrchestrator(t, cfg, stub).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The in-flight task still completes and integrates; tasks never
	// dispatched stay pending and produce no branches.
	if result.Committed < 1 {
		t.Errorf("in-flight task should have completed, got %+v", result)
	}
	if result.Committed+result.NoChanges+result.Failed >= result.TotalTasks {
		t.Errorf("expected at least one task left undispatched, got %+v", result)
	}
}
