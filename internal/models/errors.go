package models

// ErrorType identifies the category of error that occurred.
type ErrorType string

const (
	// Workspace phase
	ErrWorkspaceCreateFailed ErrorType = "workspace_create_failed"

	// Agent execution phase
	ErrAgentExecutionFailed  ErrorType = "agent_execution_failed"
	ErrAgentExecutionTimeout ErrorType = "agent_execution_timeout"

	// Result capture phase
	ErrStageFailed  ErrorType = "stage_failed"
	ErrCommitFailed ErrorType = "commit_failed"

	// Catch-all
	ErrInternalError ErrorType = "internal_error"
)

// TaskError records a task-local failure. Task-local failures never abort
// the run; they are carried on the task and surfaced in the summary.
type TaskError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

func (e *TaskError) Error() string {
	return string(e.Type) + ": " + e.Message
}
