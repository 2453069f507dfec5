package models

// RunConfig represents the parsed run.yaml configuration: the knobs for one
// orchestrator invocation against a target repository.
type RunConfig struct {
	// Repo is the path to the target repository. Default: current directory.
	Repo string `yaml:"repo" json:"repo"`

	// Baseline is the branch the run must start from and merge into.
	// Empty means auto-detect (main, falling back to master).
	Baseline string `yaml:"baseline,omitempty" json:"baseline,omitempty"`

	// Concurrency is the maximum number of tasks in flight. Default: 1.
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// WorkspacesDir is where task worktrees, agent logs, and the run report
	// live. It must be outside the target repository so the repository stays
	// clean. Empty means a deterministic directory under the system temp dir.
	WorkspacesDir string `yaml:"workspaces_dir,omitempty" json:"workspaces_dir,omitempty"`

	// BranchPrefix namespaces task branches. Default: "backfill".
	BranchPrefix string `yaml:"branch_prefix" json:"branch_prefix"`

	// AllowSharedPaths permits the agent to touch files outside its artifact
	// path; when set, every modification in the worktree is committed instead
	// of only the artifact. Default: false.
	AllowSharedPaths bool `yaml:"allow_shared_paths" json:"allow_shared_paths"`

	LogLevel string      `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	Agent    AgentConfig `yaml:"agent" json:"agent"`
}

// AgentConfig describes how to invoke the external agent.
type AgentConfig struct {
	// Command is run through the shell inside the task's worktree with the
	// instruction payload on stdin.
	Command string `yaml:"command" json:"command"`

	// TimeoutSec bounds one agent invocation. 0 disables the timeout and the
	// call blocks until the agent terminates.
	TimeoutSec float64 `yaml:"timeout_sec" json:"timeout_sec"`

	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// RepoConfig represents the parsed backfill.toml found at the target
// repository root. It describes the repository's own layout: where subjects
// live, where their mirrored artifacts go, and what is never queued.
type RepoConfig struct {
	Version string        `toml:"version"`
	Layout  LayoutConfig  `toml:"layout"`
	Exclude ExcludeConfig `toml:"exclude"`
}

// LayoutConfig maps a subject path to its expected artifact path:
// <source_root>/<subdir>/<name><subject_ext> is satisfied by
// <tests_root>/<subdir>/<artifact_prefix><name><subject_ext>.
type LayoutConfig struct {
	SourceRoot     string `toml:"source_root"`
	TestsRoot      string `toml:"tests_root"`
	SubjectExt     string `toml:"subject_ext"`
	ArtifactPrefix string `toml:"artifact_prefix"`
}

// ExcludeConfig lists subjects that are never queued.
type ExcludeConfig struct {
	// Paths are exact subject paths relative to the repository root.
	Paths []string `toml:"paths,omitempty"`

	// Basenames exclude a subject anywhere in the tree by file name.
	Basenames []string `toml:"basenames,omitempty"`

	// Markers are package/entry-point file names that are always excluded,
	// independent of the exclusion set above.
	Markers []string `toml:"markers,omitempty"`
}
