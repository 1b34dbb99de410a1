package processrunner

import (
	"context"
	"testing"
	"time"
)

func TestRunSuccess(t *testing.T) {
	r := Runner{}
	result, err := r.Run(context.Background(), "echo", []string{"hello"}, "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Successful() {
		t.Error("expected Successful() true")
	}
	if result.ExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode())
	}
	if result.Stdout() != "hello\n" {
		t.Errorf("unexpected stdout: %q", result.Stdout())
	}
	if result.CommandLine() != "echo hello" {
		t.Errorf("unexpected command line: %q", result.CommandLine())
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r := Runner{}
	result, err := r.Run(context.Background(), "false", nil, "", 0)
	if err == nil {
		t.Fatal("expected a ProcessError for a non-zero exit")
	}
	if result.Successful() {
		t.Error("expected Successful() false")
	}
	if result.ExitCode() != 1 {
		t.Errorf("expected exit code 1, got %d", result.ExitCode())
	}
	perr, ok := err.(*ProcessError)
	if !ok {
		t.Fatalf("expected *ProcessError, got %T", err)
	}
	if perr.CommandLine != "false" {
		t.Errorf("unexpected command line in error: %q", perr.CommandLine)
	}
}

func TestRunTimeout(t *testing.T) {
	r := Runner{}
	result, err := r.Run(context.Background(), "sleep", []string{"5"}, "", 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected a ProcessError for a timed-out process")
	}
	if result.Successful() {
		t.Error("expected Successful() false on timeout")
	}
	if result.ExitCode() != -1 {
		t.Errorf("expected exit code -1 on timeout, got %d", result.ExitCode())
	}
}

func TestRunSpawnFailure(t *testing.T) {
	r := Runner{}
	_, err := r.Run(context.Background(), "no-such-binary-in-path", nil, "", 0)
	if err == nil {
		t.Fatal("expected a ProcessError for a missing binary")
	}
}
