package tool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// BackgroundManager owns detached shell processes. It is created by the
// composition root and shut down with it; the agent loop only reaches it
// through the registered tools.
type BackgroundManager struct {
	ws   *Workspace
	mu   sync.Mutex
	jobs map[string]*backgroundJob
}

// backgroundJob holds one detached process and its append-only output
// buffer. Collector goroutines append lines while readers advance a
// monotonic cursor; the mutex guards that interleaving.
type backgroundJob struct {
	id      string
	command string
	kill    func()

	mu       sync.Mutex
	lines    []string
	cursor   int
	done     bool
	exitCode int
}

// NewBackgroundManager creates a manager for the given workspace.
func NewBackgroundManager(ws *Workspace) *BackgroundManager {
	return &BackgroundManager{
		ws:   ws,
		jobs: make(map[string]*backgroundJob),
	}
}

// Start launches a detached shell command and returns its job id.
func (m *BackgroundManager) Start(command string) (string, error) {
	// Detached from any request context; lifetime is bounded by Kill or
	// Shutdown.
	cmd := shellCommand(context.Background(), command, m.ws.Root())

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start command: %w", err)
	}

	job := &backgroundJob{
		id:      "bg_" + uuid.New().String()[:8],
		command: command,
		kill:    func() { killProcessGroup(cmd) },
	}

	var collectors sync.WaitGroup
	collect := func(r io.Reader) {
		defer collectors.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			job.mu.Lock()
			job.lines = append(job.lines, scanner.Text())
			job.mu.Unlock()
		}
	}
	collectors.Add(2)
	go collect(stdout)
	go collect(stderr)

	go func() {
		collectors.Wait()
		err := cmd.Wait()
		job.mu.Lock()
		defer job.mu.Unlock()
		job.done = true
		if err != nil {
			job.exitCode = -1
			if exitErr, ok := err.(interface{ ExitCode() int }); ok {
				job.exitCode = exitErr.ExitCode()
			}
		}
	}()

	m.mu.Lock()
	m.jobs[job.id] = job
	m.mu.Unlock()
	return job.id, nil
}

func (m *BackgroundManager) job(id string) *backgroundJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

// ReadNew returns the unread output tail for a job and whether it has
// exited. Each line is delivered at most once.
func (m *BackgroundManager) ReadNew(id string) (output string, done bool, exitCode int, err error) {
	job := m.job(id)
	if job == nil {
		return "", false, 0, fmt.Errorf("no background job with id %s", id)
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	tail := job.lines[job.cursor:]
	job.cursor = len(job.lines)
	return strings.Join(tail, "\n"), job.done, job.exitCode, nil
}

// Kill terminates a job's process group.
func (m *BackgroundManager) Kill(id string) error {
	job := m.job(id)
	if job == nil {
		return fmt.Errorf("no background job with id %s", id)
	}
	job.kill()
	return nil
}

// Jobs returns the ids of all tracked jobs.
func (m *BackgroundManager) Jobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown kills every tracked process.
func (m *BackgroundManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		job.kill()
	}
}

// RegisterBackgroundTools registers shell_background, shell_output, and
// shell_kill against the manager.
func RegisterBackgroundTools(reg *Registry, m *BackgroundManager) {
	reg.Register(&backgroundStartTool{m: m})
	reg.Register(&backgroundOutputTool{m: m})
	reg.Register(&backgroundKillTool{m: m})
}

type backgroundStartTool struct {
	m *BackgroundManager
}

func (t *backgroundStartTool) Name() string { return "shell_background" }

func (t *backgroundStartTool) Description() string {
	return "Start a shell command in the background. Returns a job id for polling output with shell_output."
}

func (t *backgroundStartTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The command to run in the background.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *backgroundStartTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	command, ok := StringArg(args, "command")
	if !ok || command == "" {
		return Result{}, fmt.Errorf("command is required")
	}
	id, err := t.m.Start(command)
	if err != nil {
		return Result{}, err
	}
	return Ok(fmt.Sprintf("Started background job %s", id)), nil
}

type backgroundOutputTool struct {
	m *BackgroundManager
}

func (t *backgroundOutputTool) Name() string { return "shell_output" }

func (t *backgroundOutputTool) Description() string {
	return "Read new output from a background job. Each line is returned only once."
}

func (t *backgroundOutputTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Background job id from shell_background.",
			},
		},
		"required": []string{"id"},
	}
}

func (t *backgroundOutputTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	id, ok := StringArg(args, "id")
	if !ok || id == "" {
		return Result{}, fmt.Errorf("id is required")
	}
	output, done, exitCode, err := t.m.ReadNew(id)
	if err != nil {
		return Result{}, err
	}

	var sb strings.Builder
	if output == "" {
		sb.WriteString("(no new output)")
	} else {
		sb.WriteString(output)
	}
	if done {
		fmt.Fprintf(&sb, "\n\n[Job finished with exit code %d]", exitCode)
	}
	return Ok(sb.String()), nil
}

type backgroundKillTool struct {
	m *BackgroundManager
}

func (t *backgroundKillTool) Name() string { return "shell_kill" }

func (t *backgroundKillTool) Description() string {
	return "Terminate a background job."
}

func (t *backgroundKillTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Background job id to terminate.",
			},
		},
		"required": []string{"id"},
	}
}

func (t *backgroundKillTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	id, ok := StringArg(args, "id")
	if !ok || id == "" {
		return Result{}, fmt.Errorf("id is required")
	}
	if err := t.m.Kill(id); err != nil {
		return Result{}, err
	}
	return Ok(fmt.Sprintf("Killed background job %s", id)), nil
}
