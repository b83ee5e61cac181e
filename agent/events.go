// Package agent owns conversation state and the step loop that alternates
// between streaming the model and dispatching the tools it asks for. Each
// run is delivered to the caller as an ordered event stream.
package agent

import (
	"github.com/taskpilot-ai/taskpilot/llm"
	"github.com/taskpilot-ai/taskpilot/tool"
)

// EventKind identifies the type of run event.
type EventKind string

const (
	EventStepStart  EventKind = "step_start"
	EventThinking   EventKind = "thinking"
	EventContent    EventKind = "content"
	EventToolCalls  EventKind = "tool_calls"
	EventToolStart  EventKind = "tool_start"
	EventToolResult EventKind = "tool_result"
	EventDone       EventKind = "done"
	EventError      EventKind = "error"
)

// Event is one element of a run's ordered event sequence. The fields used
// depend on the kind: Content carries deltas for thinking/content and the
// final answer for done; ToolCalls carries the full batch on tool_calls;
// ToolCall and Result identify the call on tool_start/tool_result.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Step      int            `json:"step"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCall  *llm.ToolCall  `json:"tool_call,omitempty"`
	Result    *tool.Result   `json:"result,omitempty"`
	Err       error          `json:"-"`
}
