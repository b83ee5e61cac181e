package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/taskpilot-ai/taskpilot/tool"
)

// Connection manages one remote endpoint: its transport, the MCP handshake,
// and the tools it discovered.
type Connection struct {
	name   string
	cfg    EndpointConfig
	logger *slog.Logger

	// dial builds the transport; overridable in tests.
	dial func(ctx context.Context) (Transport, error)

	mu        sync.Mutex
	transport Transport
	tools     []tool.Tool
}

// NewConnection creates an unconnected Connection for one endpoint.
func NewConnection(name string, cfg EndpointConfig, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{name: name, cfg: cfg, logger: logger}
	c.dial = c.buildTransport
	return c
}

// Name returns the endpoint name from configuration.
func (c *Connection) Name() string {
	return c.name
}

func (c *Connection) buildTransport(ctx context.Context) (Transport, error) {
	switch kind := c.cfg.Kind(); kind {
	case "pipe":
		return newPipeTransport(c.cfg, c.logger)
	case "sse":
		return newSSETransport(ctx, c.cfg, http.DefaultClient)
	case "http":
		return newHTTPTransport(c.cfg, http.DefaultClient)
	default:
		return nil, fmt.Errorf("unknown transport type %q", kind)
	}
}

// Connect builds the transport, performs the initialize handshake, and
// fetches the tool catalog, all bounded by the connect timeout. Any failure
// tears the transport down and is returned as a plain error; the caller can
// skip this endpoint and keep the others.
func (c *Connection) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.connectTimeout())
	defer cancel()

	transport, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.name, err)
	}

	fail := func(err error) error {
		transport.Close()
		return fmt.Errorf("connect %s: %w", c.name, err)
	}

	var initResult initializeResult
	err = transport.Call(ctx, methodInitialize, initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: "taskpilot", Version: "1.0"},
	}, &initResult)
	if err != nil {
		return fail(fmt.Errorf("initialize: %w", err))
	}
	if err := transport.Notify(ctx, methodInitialized, map[string]any{}); err != nil {
		return fail(fmt.Errorf("initialized notification: %w", err))
	}

	var toolList listToolsResult
	if err := transport.Call(ctx, methodListTools, map[string]any{}, &toolList); err != nil {
		return fail(fmt.Errorf("tools/list: %w", err))
	}

	tools := make([]tool.Tool, 0, len(toolList.Tools))
	for _, info := range toolList.Tools {
		tools = append(tools, &remoteTool{conn: c, info: info, timeout: c.cfg.executeTimeout()})
	}

	c.mu.Lock()
	c.transport = transport
	c.tools = tools
	c.mu.Unlock()

	c.logger.Info("connected to remote endpoint",
		"endpoint", c.name, "transport", transport.Kind(),
		"server", initResult.ServerInfo.Name, "tools", len(tools))
	return nil
}

// Connected reports whether the connection currently holds a live
// transport. An endpoint can be connected with zero discovered tools.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil
}

// Tools returns the tools discovered by the last successful Connect.
func (c *Connection) Tools() []tool.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]tool.Tool(nil), c.tools...)
}

// Disconnect releases the transport. It is idempotent and safe to call even
// if Connect never completed.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	c.mu.Unlock()
	if transport != nil {
		transport.Close()
	}
}

// call sends one request over the connection's transport.
func (c *Connection) call(ctx context.Context, method string, params, result any) (kind string, err error) {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()
	if transport == nil {
		return c.cfg.Kind(), fmt.Errorf("not connected")
	}
	return transport.Kind(), transport.Call(ctx, method, params, result)
}

// remoteTool adapts one discovered remote tool to the registry's Tool
// interface, binding in the endpoint's execute timeout.
type remoteTool struct {
	conn    *Connection
	info    toolInfo
	timeout time.Duration
}

func (t *remoteTool) Name() string {
	return t.info.Name
}

func (t *remoteTool) Description() string {
	if t.info.Description != "" {
		return t.info.Description
	}
	return fmt.Sprintf("Remote tool %s from endpoint %s", t.info.Name, t.conn.name)
}

// Parameters normalizes the remote input schema into the registry's shape.
func (t *remoteTool) Parameters() map[string]any {
	if t.info.InputSchema != nil {
		return t.info.InputSchema
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *remoteTool) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var result callToolResult
	kind, err := t.conn.call(ctx, methodCallTool, callToolParams{Name: t.info.Name, Arguments: args}, &result)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return tool.Fail(fmt.Sprintf("Tool %s timed out after %ds. The remote server did not respond.",
				t.info.Name, int(t.timeout.Seconds()))), nil
		}
		return tool.Fail(fmt.Sprintf("%s tool execution failed: %v", kind, err)), nil
	}

	if result.IsError {
		return tool.Result{Success: false, Content: result.text(), Error: "Tool returned error"}, nil
	}
	return tool.Ok(result.text()), nil
}
