// Package runner spawns the external agent CLI and folds every way a spawn
// can end into one explicit outcome value. Callers switch on the outcome
// kind; expected failures are data here, not errors.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Kind classifies how a spawn ended.
type Kind int

const (
	// Success: exit code zero.
	Success Kind = iota
	// NonZeroExit: the process ran and exited with a non-zero code.
	NonZeroExit
	// TimedOut: the wall-clock timeout expired before the process finished.
	TimedOut
	// BinaryNotFound: the executable is not installed or not on PATH.
	BinaryNotFound
)

// Outcome is the result of one spawn.
type Outcome struct {
	Kind     Kind
	Stdout   string
	Stderr   string
	ExitCode int
}

// Request describes one invocation of the agent CLI.
type Request struct {
	SystemPrompt string
	Model        string
	Instruction  string
	Timeout      time.Duration
}

// Func runs one request. Implementations return an error only for
// unexpected internal failures; expected failure modes are encoded in the
// Outcome.
type Func func(ctx context.Context, req Request) (Outcome, error)

// DefaultBinary is the agent CLI spawned for step execution.
const DefaultBinary = "claude"

// CLI returns a Func that spawns the given binary in print mode with a
// system prompt, a model tag, and confirmation prompts disabled.
func CLI(binary string) Func {
	if binary == "" {
		binary = DefaultBinary
	}
	return func(ctx context.Context, req Request) (Outcome, error) {
		if req.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, req.Timeout)
			defer cancel()
		}
		args := []string{"-p"}
		if req.SystemPrompt != "" {
			args = append(args, "--system-prompt", req.SystemPrompt)
		}
		if req.Model != "" {
			args = append(args, "--model", req.Model)
		}
		args = append(args, "--dangerously-skip-permissions", req.Instruction)

		cmd := exec.CommandContext(ctx, binary, args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()

		out := Outcome{Stdout: stdout.String(), Stderr: stderr.String()}
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			out.Kind = TimedOut
			return out, nil
		case err == nil:
			out.Kind = Success
			return out, nil
		case errors.Is(err, exec.ErrNotFound):
			out.Kind = BinaryNotFound
			return out, nil
		default:
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				out.Kind = NonZeroExit
				out.ExitCode = exitErr.ExitCode()
				return out, nil
			}
			return out, err
		}
	}
}
