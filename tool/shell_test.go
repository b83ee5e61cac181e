package tool

import (
	"context"
	"strings"
	"testing"
	"time"
)

func shellRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	RegisterShellTool(reg, NewWorkspace(t.TempDir()))
	return reg
}

func TestShellCapturesOutput(t *testing.T) {
	reg := shellRegistry(t)
	result := reg.Dispatch(context.Background(), "shell", map[string]any{"command": "echo hello"})
	if !result.Success {
		t.Fatalf("unexpected failure: %q", result.Error)
	}
	if !strings.Contains(result.Content, "hello") {
		t.Errorf("expected command output, got %q", result.Content)
	}
}

func TestShellNonZeroExit(t *testing.T) {
	reg := shellRegistry(t)
	result := reg.Dispatch(context.Background(), "shell", map[string]any{"command": "echo partial; exit 3"})
	if result.Success {
		t.Error("non-zero exit must fail")
	}
	if !strings.Contains(result.Content, "partial") {
		t.Errorf("expected partial output preserved, got %q", result.Content)
	}
	if !strings.Contains(result.Content, "[Exit code: 3]") {
		t.Errorf("expected exit code trailer, got %q", result.Content)
	}
}

func TestShellTimeout(t *testing.T) {
	reg := shellRegistry(t)
	start := time.Now()
	result := reg.Dispatch(context.Background(), "shell", map[string]any{
		"command": "echo begin; sleep 30", "timeout": float64(1),
	})
	if time.Since(start) > 10*time.Second {
		t.Fatal("timeout did not bound the command")
	}
	if result.Success {
		t.Error("timed-out command must fail")
	}
	if !strings.Contains(result.Error, "timed out after 1s") {
		t.Errorf("expected timeout error, got %q", result.Error)
	}
	if !strings.Contains(result.Content, "begin") {
		t.Errorf("expected partial output before timeout, got %q", result.Content)
	}
}

func TestShellRunsInWorkspace(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()
	RegisterShellTool(reg, NewWorkspace(dir))

	result := reg.Dispatch(context.Background(), "shell", map[string]any{"command": "pwd"})
	if !result.Success {
		t.Fatalf("unexpected failure: %q", result.Error)
	}
	if !strings.Contains(result.Content, dir) {
		t.Errorf("expected %q in output, got %q", dir, result.Content)
	}
}

func TestClampTimeout(t *testing.T) {
	if got := clampTimeout(0); got != DefaultShellTimeout {
		t.Errorf("zero timeout should default to 120s, got %v", got)
	}
	if got := clampTimeout(30); got != 30*time.Second {
		t.Errorf("expected 30s, got %v", got)
	}
	if got := clampTimeout(100000); got != MaxShellTimeout {
		t.Errorf("expected hard cap 600s, got %v", got)
	}
}

func TestSensitiveEnvFiltering(t *testing.T) {
	if !isSensitiveEnvVar("OPENAI_API_KEY") {
		t.Error("expected *_API_KEY flagged sensitive")
	}
	if isSensitiveEnvVar("PATH") {
		t.Error("PATH must not be flagged")
	}
}
