package runner_test

import (
	"context"
	"strings"
	"testing"

	"warroom/internal/runner"
)

func TestCLISuccessCapturesStdout(t *testing.T) {
	// echo prints its arguments and exits zero
	run := runner.CLI("echo")
	out, err := run(context.Background(), runner.Request{
		SystemPrompt: "be helpful",
		Model:        "some-model",
		Instruction:  "do the thing",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Kind != runner.Success {
		t.Fatalf("kind = %v, want Success", out.Kind)
	}
	if !strings.Contains(out.Stdout, "do the thing") {
		t.Fatalf("stdout missing instruction: %q", out.Stdout)
	}
	if !strings.Contains(out.Stdout, "--dangerously-skip-permissions") {
		t.Fatalf("stdout missing flags: %q", out.Stdout)
	}
	if !strings.Contains(out.Stdout, "--model some-model") {
		t.Fatalf("stdout missing model flag: %q", out.Stdout)
	}
}

func TestCLINonZeroExit(t *testing.T) {
	run := runner.CLI("false")
	out, err := run(context.Background(), runner.Request{Instruction: "x"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Kind != runner.NonZeroExit {
		t.Fatalf("kind = %v, want NonZeroExit", out.Kind)
	}
	if out.ExitCode == 0 {
		t.Fatalf("exit code = 0, want non-zero")
	}
}

func TestCLIBinaryNotFound(t *testing.T) {
	run := runner.CLI("warroom-test-binary-that-does-not-exist")
	out, err := run(context.Background(), runner.Request{Instruction: "x"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Kind != runner.BinaryNotFound {
		t.Fatalf("kind = %v, want BinaryNotFound", out.Kind)
	}
}
