// Package agent invokes the external work-performing agent. The agent is a
// black box: it receives one textual instruction, runs inside the task's
// workspace, and returns by terminating. Its stdout is never parsed for
// success signaling; the orchestrator only inspects the filesystem after it
// returns.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout indicates the agent exceeded its configured time budget.
var ErrTimeout = errors.New("agent timed out")

// Runner executes the agent once inside workdir with the given instruction,
// streaming the agent's stdout and stderr to the provided writers. Tests
// substitute a stub that deterministically creates or omits the artifact.
type Runner interface {
	Run(ctx context.Context, workdir, instruction string, stdout, stderr io.Writer) error
}

// CommandRunner runs a configured shell command as the agent, with the
// instruction payload on stdin and in BACKFILL_INSTRUCTION.
type CommandRunner struct {
	// Command is passed to `sh -c`.
	Command string

	// Timeout bounds one invocation. Zero means no bound: the call blocks
	// until the agent terminates.
	Timeout time.Duration

	Env map[string]string
}

func (r *CommandRunner) Run(ctx context.Context, workdir, instruction string, stdout, stderr io.Writer) error {
	if r.Command == "" {
		return errors.New("agent command is not configured")
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", r.Command)
	cmd.Dir = workdir
	cmd.Stdin = strings.NewReader(instruction)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), "BACKFILL_INSTRUCTION="+instruction)
	for k, v := range r.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	err := cmd.Run()
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
	}
	if err != nil {
		return fmt.Errorf("agent command: %w", err)
	}
	return nil
}

// Instruction builds the task-specific payload handed to the agent. The
// content is opaque to the orchestrator; it names the subject, the exact
// artifact location, and the behavioral constraints the agent must honor.
func Instruction(subjectPath, artifactPath string, allowSharedPaths bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the missing test file for the module %s.\n\n", subjectPath)
	fmt.Fprintf(&b, "Create the tests at exactly this path, relative to the working directory: %s\n\n", artifactPath)
	b.WriteString("Constraints:\n")
	fmt.Fprintf(&b, "- Only read %s and its existing collaborators to understand behavior.\n", subjectPath)
	if allowSharedPaths {
		b.WriteString("- You may update shared test helpers when the new tests require it.\n")
	} else {
		fmt.Fprintf(&b, "- Do not create or modify any file other than %s.\n", artifactPath)
	}
	b.WriteString("- Tests must be deterministic: no network, no wall-clock dependence, no random seeds left unset.\n")
	b.WriteString("- Do not add new external dependencies.\n")
	return b.String()
}
