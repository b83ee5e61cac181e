package tool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const (
	// DefaultShellTimeout bounds foreground commands that do not ask for
	// their own timeout.
	DefaultShellTimeout = 120 * time.Second

	// MaxShellTimeout is the hard cap regardless of what the model asks for.
	MaxShellTimeout = 600 * time.Second
)

// sensitiveEnvSuffixes are case-insensitive suffixes for environment
// variables excluded from spawned commands.
var sensitiveEnvSuffixes = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range sensitiveEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

// filterEnvironment returns the process environment minus credential-shaped
// variables.
func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if safeEnvVars[parts[0]] || !isSensitiveEnvVar(parts[0]) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// shellCommand builds the command for one shell invocation with the process
// group set so a timeout can kill the whole tree.
func shellCommand(ctx context.Context, command, dir string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", command)
	cmd.Dir = dir
	cmd.Env = filterEnvironment()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

// clampTimeout applies the default and the hard cap to a requested timeout
// in seconds.
func clampTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return DefaultShellTimeout
	}
	d := time.Duration(seconds) * time.Second
	if d > MaxShellTimeout {
		return MaxShellTimeout
	}
	return d
}

// RegisterShellTool registers the foreground shell tool against the
// workspace.
func RegisterShellTool(reg *Registry, ws *Workspace) {
	reg.Register(&shellTool{ws: ws})
}

type shellTool struct {
	ws *Workspace
}

func (t *shellTool) Name() string { return "shell" }

func (t *shellTool) Description() string {
	return "Execute a shell command in the workspace. Returns combined output and exit code."
}

func (t *shellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The command to run.",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Timeout in seconds. Default: 120, maximum: 600.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *shellTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	command, ok := StringArg(args, "command")
	if !ok || command == "" {
		return Result{}, fmt.Errorf("command is required")
	}
	timeoutSecs, _ := IntArg(args, "timeout")
	timeout := clampTimeout(timeoutSecs)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(runCtx, command, t.ws.Root())
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()

	var sb strings.Builder
	sb.WriteString(output.String())

	if runCtx.Err() == context.DeadlineExceeded {
		killProcessGroup(cmd)
		fmt.Fprintf(&sb, "\n\n[ERROR: Command timed out after %ds. Partial output is shown above. "+
			"You can retry with a longer timeout by setting the timeout parameter.]", int(timeout.Seconds()))
		return Result{Success: false, Content: sb.String(), Error: fmt.Sprintf("command timed out after %ds", int(timeout.Seconds()))}, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			fmt.Fprintf(&sb, "\n\n[Exit code: %d]", exitErr.ExitCode())
			return Result{Success: false, Content: sb.String(), Error: fmt.Sprintf("exit code %d", exitErr.ExitCode())}, nil
		}
		return Result{}, err
	}
	return Ok(sb.String()), nil
}
