package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/taskpilot-ai/taskpilot/llm"
	"github.com/taskpilot-ai/taskpilot/tool"
)

// DefaultMaxSteps bounds the number of model calls in a single run.
const DefaultMaxSteps = 20

// DefaultEventBuffer is the capacity of the run event channel.
const DefaultEventBuffer = 256

// Config carries the dependencies and knobs for an Agent. Provider and
// Registry are required; everything else has a working default.
type Config struct {
	Provider     llm.Provider
	Registry     *tool.Registry
	SystemPrompt string
	MaxSteps     int
	Temperature  *float64
	MaxTokens    *int
	EventBuffer  int
	Logger       *slog.Logger
}

func (c *Config) maxSteps() int {
	if c.MaxSteps > 0 {
		return c.MaxSteps
	}
	return DefaultMaxSteps
}

func (c *Config) eventBuffer() int {
	if c.EventBuffer > 0 {
		return c.EventBuffer
	}
	return DefaultEventBuffer
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Agent drives the conversation loop: stream the model, execute any tool
// calls it returns, feed the results back, repeat until the model answers
// without tools or the step budget runs out.
type Agent struct {
	id  string
	cfg Config

	mu       sync.Mutex
	messages []llm.Message
}

// New builds an Agent. The system prompt, when set, is seeded as the first
// message of the conversation.
func New(cfg Config) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent: provider is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent: tool registry is required")
	}
	a := &Agent{
		id:  uuid.New().String(),
		cfg: cfg,
	}
	if cfg.SystemPrompt != "" {
		a.messages = append(a.messages, llm.SystemMessage(cfg.SystemPrompt))
	}
	return a, nil
}

// ID returns the agent's unique identifier.
func (a *Agent) ID() string { return a.id }

// Messages returns a copy of the conversation history.
func (a *Agent) Messages() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

func (a *Agent) append(msgs ...llm.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, msgs...)
}

// RollbackLastUser removes the most recent user message and everything
// after it, restoring the history to its state before that turn started.
// It reports whether anything was removed.
func (a *Agent) RollbackLastUser() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.messages) - 1; i >= 0; i-- {
		if a.messages[i].Role == llm.RoleUser {
			a.messages = a.messages[:i]
			return true
		}
	}
	return false
}

// Run appends input as a user message and executes the step loop. Events
// are delivered on the returned channel, which is closed when the run
// finishes. The run ends with exactly one done or error event; cancelling
// ctx aborts it.
func (a *Agent) Run(ctx context.Context, input string) <-chan Event {
	events := make(chan Event, a.cfg.eventBuffer())
	a.append(llm.UserMessage(input))
	go func() {
		defer close(events)
		a.run(ctx, events)
	}()
	return events
}

// emit delivers ev unless the consumer has gone away. It reports whether
// the run should continue.
func (a *Agent) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *Agent) run(ctx context.Context, events chan<- Event) {
	log := a.cfg.logger()
	maxSteps := a.cfg.maxSteps()

	for step := 1; step <= maxSteps; step++ {
		if !a.emit(ctx, events, Event{Kind: EventStepStart, Step: step}) {
			return
		}

		content, thinking, toolCalls, err := a.step(ctx, events, step)
		if err != nil {
			log.Error("agent step failed", "agent_id", a.id, "step", step, "error", err)
			a.emit(ctx, events, Event{Kind: EventError, Step: step, Err: err})
			return
		}

		a.append(llm.Message{
			Role:      llm.RoleAssistant,
			Content:   content,
			Thinking:  thinking,
			ToolCalls: toolCalls,
		})

		if len(toolCalls) == 0 {
			a.emit(ctx, events, Event{Kind: EventDone, Step: step, Content: content})
			return
		}

		if !a.emit(ctx, events, Event{Kind: EventToolCalls, Step: step, ToolCalls: toolCalls}) {
			return
		}
		if !a.executeToolCalls(ctx, events, step, toolCalls) {
			return
		}
	}

	a.emit(ctx, events, Event{
		Kind:    EventDone,
		Step:    maxSteps,
		Content: fmt.Sprintf("Maximum steps (%d) exceeded without completion.", maxSteps),
	})
}

// step streams one model response, forwarding thinking and content deltas
// as events, and returns the accumulated content and thinking plus any
// tool calls.
func (a *Agent) step(ctx context.Context, events chan<- Event, step int) (string, string, []llm.ToolCall, error) {
	req := llm.Request{
		Messages:    a.Messages(),
		Tools:       a.toolDefinitions(),
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	}

	stream, err := a.cfg.Provider.Stream(ctx, req)
	if err != nil {
		return "", "", nil, err
	}

	var content, thinking string
	var toolCalls []llm.ToolCall
	for chunk := range stream {
		if chunk.Err != nil {
			return "", "", nil, chunk.Err
		}
		if chunk.Thinking != "" {
			thinking += chunk.Thinking
			if !a.emit(ctx, events, Event{Kind: EventThinking, Step: step, Content: chunk.Thinking}) {
				return "", "", nil, ctx.Err()
			}
		}
		if chunk.Content != "" {
			content += chunk.Content
			if !a.emit(ctx, events, Event{Kind: EventContent, Step: step, Content: chunk.Content}) {
				return "", "", nil, ctx.Err()
			}
		}
		if chunk.Done {
			toolCalls = chunk.ToolCalls
		}
	}
	return content, thinking, toolCalls, nil
}

// executeToolCalls runs the batch in order, one at a time, folding each
// result back into the history as a tool message. Failures become part of
// the conversation rather than ending the run.
func (a *Agent) executeToolCalls(ctx context.Context, events chan<- Event, step int, calls []llm.ToolCall) bool {
	log := a.cfg.logger()
	for i := range calls {
		call := calls[i]
		if !a.emit(ctx, events, Event{Kind: EventToolStart, Step: step, ToolCall: &call}) {
			return false
		}

		result := a.cfg.Registry.Dispatch(ctx, call.Name, call.Arguments)
		log.Debug("tool executed",
			"agent_id", a.id, "step", step, "tool", call.Name, "success", result.Success)

		if !a.emit(ctx, events, Event{Kind: EventToolResult, Step: step, ToolCall: &call, Result: &result}) {
			return false
		}

		a.append(llm.ToolMessage(call.ID, toolMessageContent(result)))
	}
	return true
}

// toolMessageContent renders a dispatch result the way the model sees it.
func toolMessageContent(result tool.Result) string {
	if result.Success {
		return result.Content
	}
	msg := result.Error
	if msg == "" {
		msg = result.Content
	}
	if msg == "" {
		msg = "tool execution failed"
	}
	return "Error: " + msg
}

func (a *Agent) toolDefinitions() []llm.ToolDefinition {
	defs := a.cfg.Registry.Definitions()
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}
