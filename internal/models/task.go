package models

// TaskStatus identifies where a task is in its lifecycle.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCommitted TaskStatus = "committed"
	StatusNoChanges TaskStatus = "no_changes"
	StatusFailed    TaskStatus = "failed"
)

// Task represents one unit of missing work: a source module that lacks its
// mirrored test file. Paths are relative to the target repository root.
type Task struct {
	// SubjectPath is the source module the work is about.
	SubjectPath string

	// ArtifactPath is where a successful agent must deposit the test file.
	// It does not exist at discovery time.
	ArtifactPath string

	// Branch is derived deterministically from SubjectPath, so re-running
	// discovery against the same tree names the same branch.
	Branch string

	// WorkspacePath is the worktree directory for this task's branch.
	WorkspacePath string

	Status TaskStatus
	Error  *TaskError

	// Merged is set by the integrator once the branch lands on the mainline.
	Merged bool
}
