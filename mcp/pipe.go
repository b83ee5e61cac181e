package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/sourcegraph/jsonrpc2"
)

// pipeTransport spawns a subprocess and speaks newline-delimited JSON-RPC
// over its standard streams.
type pipeTransport struct {
	cmd  *exec.Cmd
	conn *jsonrpc2.Conn

	closeOnce sync.Once
	closeErr  error
}

// stdioPipe glues the subprocess stdin/stdout into one ReadWriteCloser for
// the jsonrpc2 stream.
type stdioPipe struct {
	io.ReadCloser
	io.WriteCloser
}

func (p stdioPipe) Close() error {
	werr := p.WriteCloser.Close()
	rerr := p.ReadCloser.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// noopHandler drops server-initiated requests; the tool servers we target
// only answer ours.
type noopHandler struct{}

func (noopHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {}

func newPipeTransport(cfg EndpointConfig, logger *slog.Logger) (*pipeTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("pipe endpoint requires a command")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Cwd
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	// Surface server diagnostics in our log instead of losing them.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("mcp server stderr", "command", cfg.Command, "line", scanner.Text())
		}
	}()

	stream := jsonrpc2.NewBufferedStream(stdioPipe{ReadCloser: stdout, WriteCloser: stdin}, jsonrpc2.PlainObjectCodec{})
	conn := jsonrpc2.NewConn(context.Background(), stream, noopHandler{})

	return &pipeTransport{cmd: cmd, conn: conn}, nil
}

func (t *pipeTransport) Kind() string { return "pipe" }

func (t *pipeTransport) Call(ctx context.Context, method string, params, result any) error {
	return t.conn.Call(ctx, method, params, result)
}

func (t *pipeTransport) Notify(ctx context.Context, method string, params any) error {
	return t.conn.Notify(ctx, method, params)
}

func (t *pipeTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
		if t.cmd.Process != nil {
			_ = syscall.Kill(-t.cmd.Process.Pid, syscall.SIGKILL)
		}
		_ = t.cmd.Wait()
	})
	return t.closeErr
}
