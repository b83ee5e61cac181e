// Package tool defines the capability surface exposed to the model: the Tool
// interface, the dispatching Registry, and the built-in local tools (file
// access, foreground and background shell, skills).
package tool

import (
	"context"
	"encoding/json"
)

// Tool is any capability the model can invoke.
type Tool interface {
	// Name returns the unique tool name used in tool calls.
	Name() string

	// Description explains the tool to the model.
	Description() string

	// Parameters returns a JSON-Schema shaped parameter description.
	Parameters() map[string]any

	// Execute runs the tool. An error return is folded into a failed Result
	// at the dispatch boundary; tools may also return a failed Result
	// directly when they have structured error content.
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Result is the outcome of one tool execution. Content is always an
// already-serialized string so it can be appended directly into a tool
// message. Error is set only when Success is false.
type Result struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Ok builds a successful Result.
func Ok(content string) Result {
	return Result{Success: true, Content: content}
}

// Fail builds a failed Result.
func Fail(message string) Result {
	return Result{Success: false, Error: message}
}

// StringArg extracts a string argument.
func StringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntArg extracts an integer argument, accepting the numeric shapes JSON
// decoding produces.
func IntArg(args map[string]any, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// BoolArg extracts a boolean argument.
func BoolArg(args map[string]any, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
