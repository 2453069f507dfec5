package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jkassemi/backfill/internal/agent"
	"github.com/jkassemi/backfill/internal/gitx"
	"github.com/jkassemi/backfill/internal/models"
	"github.com/jkassemi/backfill/internal/workspace"
)

// TaskExecutor runs a single task inside its own workspace. All side
// effects are confined to the task's worktree and branch; the mainline
// working copy is never touched here.
type TaskExecutor struct {
	repo             *gitx.Repo
	workspaces       *workspace.Manager
	agent            agent.Runner
	logsDir          string
	allowSharedPaths bool
}

// NewTaskExecutor creates a task executor.
func NewTaskExecutor(repo *gitx.Repo, workspaces *workspace.Manager, runner agent.Runner, logsDir string, allowSharedPaths bool) *TaskExecutor {
	return &TaskExecutor{
		repo:             repo,
		workspaces:       workspaces,
		agent:            runner,
		logsDir:          logsDir,
		allowSharedPaths: allowSharedPaths,
	}
}

// Execute runs the task through its phases: workspace creation, agent
// invocation, artifact staging, and commit. It mutates the task's status
// and error in place and returns the agent invocation duration in seconds.
//
// Whatever the agent reports, staging and commit are still attempted: an
// agent that errored may nonetheless have produced the artifact, and the
// filesystem, not the agent's exit status, decides whether there is work to
// integrate. The two outcomes stay distinct on the task: a failed agent
// yields StatusFailed even when nothing changed, never StatusNoChanges.
func (e *TaskExecutor) Execute(ctx context.Context, t *models.Task) float64 {
	t.Status = models.StatusRunning
	slog.Info("task started", "subject", t.SubjectPath, "branch", t.Branch)

	if err := e.workspaces.Create(t.WorkspacePath, t.Branch); err != nil {
		t.Status = models.StatusFailed
		t.Error = &models.TaskError{
			Type:    models.ErrWorkspaceCreateFailed,
			Message: err.Error(),
		}
		slog.Error("workspace creation failed", "subject", t.SubjectPath, "error", err)
		return 0
	}

	instruction := agent.Instruction(t.SubjectPath, t.ArtifactPath, e.allowSharedPaths)

	// The one blocking point per task: the agent runs until it terminates
	// or the configured timeout expires.
	var stdout, stderr bytes.Buffer
	started := time.Now()
	agentErr := e.agent.Run(ctx, t.WorkspacePath, instruction, &stdout, &stderr)
	agentSec := time.Since(started).Seconds()

	e.saveAgentLogs(t, stdout.Bytes(), stderr.Bytes())

	if agentErr != nil {
		errType := models.ErrAgentExecutionFailed
		if errors.Is(agentErr, agent.ErrTimeout) {
			errType = models.ErrAgentExecutionTimeout
		}
		t.Error = &models.TaskError{Type: errType, Message: agentErr.Error()}
		slog.Warn("agent failed", "subject", t.SubjectPath, "error", agentErr)
	}

	committed, err := e.captureArtifact(t)
	if err != nil {
		t.Status = models.StatusFailed
		if t.Error == nil {
			t.Error = &models.TaskError{Type: models.ErrCommitFailed, Message: err.Error()}
		}
		slog.Error("capturing artifact failed", "subject", t.SubjectPath, "error", err)
		return agentSec
	}

	switch {
	case agentErr != nil:
		t.Status = models.StatusFailed
	case committed:
		t.Status = models.StatusCommitted
		slog.Info("task committed", "subject", t.SubjectPath, "artifact", t.ArtifactPath)
	default:
		t.Status = models.StatusNoChanges
		slog.Info("no changes", "subject", t.SubjectPath)
	}
	return agentSec
}

// captureArtifact stages the artifact path (or everything, when shared
// edits are permitted) and commits on the task's branch if and only if
// something was staged. An absent or unchanged artifact is a no-op.
func (e *TaskExecutor) captureArtifact(t *models.Task) (bool, error) {
	if e.allowSharedPaths {
		if err := e.repo.StageAll(t.WorkspacePath); err != nil {
			return false, err
		}
	} else {
		if err := e.repo.Stage(t.WorkspacePath, t.ArtifactPath); err != nil {
			return false, err
		}
	}

	staged, err := e.repo.HasStaged(t.WorkspacePath)
	if err != nil {
		return false, err
	}
	if !staged {
		return false, nil
	}

	msg := fmt.Sprintf("Add tests for %s", t.SubjectPath)
	if err := e.repo.Commit(t.WorkspacePath, msg); err != nil {
		return false, err
	}
	return true, nil
}

func (e *TaskExecutor) saveAgentLogs(t *models.Task, stdout, stderr []byte) {
	if e.logsDir == "" {
		return
	}
	dir := filepath.Join(e.logsDir, filepath.Base(t.WorkspacePath))
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("creating agent log dir failed", "dir", dir, "error", err)
		return
	}
	os.WriteFile(filepath.Join(dir, "stdout.txt"), stdout, 0644)
	os.WriteFile(filepath.Join(dir, "stderr.txt"), stderr, 0644)
}
