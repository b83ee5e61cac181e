package mcp

import (
	"context"
	"time"
)

// Transport carries JSON-RPC requests to one remote endpoint. Implementations
// must be safe for sequential use from the agent loop; Close must be
// idempotent.
type Transport interface {
	// Kind names the transport ("pipe", "sse", "http") for error messages.
	Kind() string

	// Call sends a request and decodes the result into result (which may be
	// nil for callers that ignore the payload).
	Call(ctx context.Context, method string, params, result any) error

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Close releases the transport's process or network resources.
	Close() error
}

// EndpointConfig describes one remote tool endpoint.
type EndpointConfig struct {
	Type    string
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string

	URL     string
	Headers map[string]string

	ConnectTimeout time.Duration
	ExecuteTimeout time.Duration
	SSEReadTimeout time.Duration

	Disabled bool
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultExecuteTimeout = 60 * time.Second
)

// Kind returns the declared transport kind, inferring streamable HTTP when
// only a URL is given.
func (c EndpointConfig) Kind() string {
	if c.Type != "" {
		return c.Type
	}
	if c.URL != "" {
		return "http"
	}
	return "pipe"
}

func (c EndpointConfig) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return defaultConnectTimeout
}

func (c EndpointConfig) executeTimeout() time.Duration {
	if c.ExecuteTimeout > 0 {
		return c.ExecuteTimeout
	}
	return defaultExecuteTimeout
}
