// Package executor contains the orchestrator core: the precondition guard,
// bounded-parallel task dispatch, sequential merge-back, and workspace
// reclamation.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jkassemi/backfill/internal/agent"
	"github.com/jkassemi/backfill/internal/config"
	"github.com/jkassemi/backfill/internal/discover"
	"github.com/jkassemi/backfill/internal/gitx"
	"github.com/jkassemi/backfill/internal/models"
	"github.com/jkassemi/backfill/internal/workspace"
)

// Orchestrator coordinates one backfill run against a target repository.
// It owns all shared state; workers only ever touch their own task and
// workspace.
type Orchestrator struct {
	cfg        models.RunConfig
	repoCfg    models.RepoConfig
	repo       *gitx.Repo
	workspaces *workspace.Manager
	agent      agent.Runner
	baseline   string
	wsDir      string
}

// DefaultAgentRunner builds the command-backed agent runner from a run
// config.
func DefaultAgentRunner(cfg models.RunConfig) agent.Runner {
	return &agent.CommandRunner{
		Command: cfg.Agent.Command,
		Timeout: time.Duration(cfg.Agent.TimeoutSec * float64(time.Second)),
		Env:     cfg.Agent.Env,
	}
}

// New creates an orchestrator for the repository named by cfg. The runner
// is the external agent collaborator; pass DefaultAgentRunner(cfg) outside
// of tests.
func New(cfg models.RunConfig, runner agent.Runner) (*Orchestrator, error) {
	root, err := filepath.Abs(cfg.Repo)
	if err != nil {
		return nil, fmt.Errorf("resolving repo path: %w", err)
	}

	repo, err := gitx.Open(root)
	if err != nil {
		return nil, err
	}

	repoCfg, err := config.LoadRepoConfig(os.DirFS(root))
	if err != nil {
		return nil, err
	}

	baseline := cfg.Baseline
	if baseline == "" {
		baseline = repo.DefaultBranch()
	}

	wsDir := cfg.WorkspacesDir
	if wsDir == "" {
		wsDir = config.DefaultWorkspacesDir(root)
	}

	return &Orchestrator{
		cfg:        cfg,
		repoCfg:    repoCfg,
		repo:       repo,
		workspaces: workspace.NewManager(repo, filepath.Join(wsDir, "worktrees"), cfg.BranchPrefix),
		agent:      runner,
		baseline:   baseline,
		wsDir:      wsDir,
	}, nil
}

// Baseline returns the mainline branch this run integrates into.
func (o *Orchestrator) Baseline() string {
	return o.baseline
}

// Plan runs discovery only and returns the ordered tasks with branch and
// workspace names filled in. Nothing is mutated.
func (o *Orchestrator) Plan(ctx context.Context) ([]models.Task, error) {
	tasks, err := discover.Discover(os.DirFS(o.repo.Root()), o.repoCfg)
	if err != nil {
		return nil, err
	}
	branches := make(map[string]string, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		t.Branch = o.workspaces.BranchFor(t.SubjectPath)
		t.WorkspacePath = o.workspaces.PathFor(t.Branch)
		// Branch names flatten path separators, so distinct subjects can
		// collide. A collision would hand two tasks the same workspace.
		if prev, ok := branches[t.Branch]; ok {
			return nil, fmt.Errorf("subjects %s and %s map to the same branch %s", prev, t.SubjectPath, t.Branch)
		}
		branches[t.Branch] = t.SubjectPath
	}
	return tasks, nil
}

// Run executes the full pipeline: guard, discovery, bounded dispatch,
// sequential integration, and reclamation. Precondition failures and merge
// conflicts return an error before or instead of completing; task-local
// failures do not — they are carried on the result.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunResult, error) {
	startTime := time.Now()

	if err := o.guard(); err != nil {
		return nil, err
	}

	tasks, err := o.Plan(ctx)
	if err != nil {
		return nil, err
	}

	result := &models.RunResult{
		RepoPath:   o.repo.Root(),
		Baseline:   o.baseline,
		TotalTasks: len(tasks),
		StartedAt:  startTime,
	}

	if len(tasks) == 0 {
		slog.Info("nothing to do: every subject already has its artifact")
		result.EndedAt = time.Now()
		return result, nil
	}

	// Refuse to start if any task's workspace path is occupied. Leftover
	// worktrees from a prior run may hold unintegrated work and must be
	// resolved (backfill cleanup) before a new run mutates anything.
	for _, t := range tasks {
		if _, err := os.Stat(t.WorkspacePath); err == nil {
			return nil, fmt.Errorf("workspace path already exists: %s (resolve or clean up before re-running)", t.WorkspacePath)
		}
	}

	if err := os.MkdirAll(o.wsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating workspaces dir: %w", err)
	}
	cfgJSON, _ := json.MarshalIndent(o.cfg, "", "  ")
	os.WriteFile(filepath.Join(o.wsDir, "config.json"), cfgJSON, 0644)

	slog.Info("run starting",
		"tasks", len(tasks),
		"concurrency", o.cfg.Concurrency,
		"baseline", o.baseline,
		"workspaces", o.wsDir)

	agentSecs := o.dispatch(ctx, tasks)

	merged, err := o.integrate(tasks)
	if err != nil {
		return nil, err
	}
	result.Merged = merged

	result.Residue = o.reclaim(tasks)

	for i := range tasks {
		t := &tasks[i]
		switch t.Status {
		case models.StatusCommitted:
			result.Committed++
		case models.StatusNoChanges:
			result.NoChanges++
		case models.StatusFailed:
			result.Failed++
		}
		result.Tasks = append(result.Tasks, models.TaskSummary{
			SubjectPath:  t.SubjectPath,
			ArtifactPath: t.ArtifactPath,
			Branch:       t.Branch,
			Status:       t.Status,
			Merged:       t.Merged,
			Error:        t.Error,
			AgentSec:     agentSecs[i],
		})
	}

	result.EndedAt = time.Now()
	result.TotalDurationSec = result.EndedAt.Sub(result.StartedAt).Seconds()

	reportJSON, _ := json.MarshalIndent(result, "", "  ")
	os.WriteFile(filepath.Join(o.wsDir, "run.json"), reportJSON, 0644)

	return result, nil
}

// guard verifies the run's preconditions before any side effect: a clean
// mainline working copy, checked out on the expected baseline. Later phases
// assume this so per-task diffs are unambiguous and merges conflict-free.
func (o *Orchestrator) guard() error {
	clean, err := o.repo.IsClean(o.repo.Root())
	if err != nil {
		return err
	}
	if !clean {
		return fmt.Errorf("repository %s has uncommitted modifications; commit or stash them first", o.repo.Root())
	}

	branch, err := o.repo.CurrentBranch()
	if err != nil {
		return err
	}
	if branch != o.baseline {
		return fmt.Errorf("repository is on branch %q, expected baseline %q", branch, o.baseline)
	}
	return nil
}

// dispatch launches workers for tasks in discovery order, at most
// cfg.Concurrency in flight. The semaphore acquire blocks until any worker
// releases, so a slot is reclaimed the moment any task finishes, whichever
// one it is. The final full-weight acquire is the unconditional join: no
// later phase runs while a worker still owns a workspace.
func (o *Orchestrator) dispatch(ctx context.Context, tasks []models.Task) []float64 {
	k := int64(o.cfg.Concurrency)
	if k > int64(len(tasks)) {
		k = int64(len(tasks))
	}
	sem := semaphore.NewWeighted(k)

	exec := NewTaskExecutor(o.repo, o.workspaces, o.agent, filepath.Join(o.wsDir, "logs"), o.cfg.AllowSharedPaths)
	agentSecs := make([]float64, len(tasks))

	for i := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			slog.Warn("dispatch stopped, remaining tasks stay pending", "cause", ctx.Err())
			break
		}
		t := &tasks[i]
		go func(i int) {
			defer sem.Release(1)
			agentSecs[i] = exec.Execute(ctx, t)
		}(i)
	}

	// Join must not be abandoned on cancellation: in-flight agents own
	// their workspaces until they return.
	_ = sem.Acquire(context.Background(), k)

	return agentSecs
}
