package models

import "time"

// RunResult contains aggregate metrics across all tasks in a run.
type RunResult struct {
	RepoPath         string        `json:"repo_path"`
	Baseline         string        `json:"baseline"`
	TotalTasks       int           `json:"total_tasks"`
	Committed        int           `json:"committed"`
	NoChanges        int           `json:"no_changes"`
	Failed           int           `json:"failed"`
	Merged           int           `json:"merged"`
	Residue          []string      `json:"residue,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          time.Time     `json:"ended_at"`
	TotalDurationSec float64       `json:"total_duration_sec"`
	Tasks            []TaskSummary `json:"tasks"`
}

// TaskSummary is the per-task record written to the run report.
type TaskSummary struct {
	SubjectPath  string     `json:"subject_path"`
	ArtifactPath string     `json:"artifact_path"`
	Branch       string     `json:"branch"`
	Status       TaskStatus `json:"status"`
	Merged       bool       `json:"merged"`
	Error        *TaskError `json:"error,omitempty"`
	AgentSec     float64    `json:"agent_sec"`
}
