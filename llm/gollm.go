package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

func init() {
	// Backends without an OpenAI-compatible streaming endpoint route through
	// gollm, e.g. "gollm/anthropic".
	for _, backend := range []string{"anthropic", "groq", "mistral"} {
		backend := backend
		Register("gollm/"+backend, func(opts Options) (Provider, error) {
			return NewGollmProvider(backend, opts)
		})
	}
}

// GollmProvider wraps a gollm backend behind the streaming Provider
// interface. gollm's tool-call support is completion-shaped, so the whole
// response is generated first and emitted as a single terminal chunk.
type GollmProvider struct {
	backend string
	llm     gollm.LLM
}

// NewGollmProvider creates a provider backed by the named gollm backend.
func NewGollmProvider(backend string, opts Options) (*GollmProvider, error) {
	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(backend),
		gollm.SetMaxRetries(0), // retries are handled by the caller
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if opts.Model != "" {
		gollmOpts = append(gollmOpts, gollm.SetModel(opts.Model))
	}
	if opts.APIKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(opts.APIKey))
	}
	if opts.MaxTokens != nil {
		gollmOpts = append(gollmOpts, gollm.SetMaxTokens(*opts.MaxTokens))
	}
	if opts.Temperature != nil {
		gollmOpts = append(gollmOpts, gollm.SetTemperature(*opts.Temperature))
	}

	llmInstance, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("gollm: create %s backend: %w", backend, err)
	}
	return &GollmProvider{backend: backend, llm: llmInstance}, nil
}

// NewGollmProviderFromLLM wraps an existing gollm.LLM instance.
func NewGollmProviderFromLLM(backend string, llm gollm.LLM) *GollmProvider {
	return &GollmProvider{backend: backend, llm: llm}
}

// Name returns the provider identifier.
func (p *GollmProvider) Name() string {
	return "gollm/" + p.backend
}

// Stream generates the complete response and emits it as one terminal chunk.
func (p *GollmProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	prompt := p.buildPrompt(req)

	ch := make(chan StreamChunk, 1)
	go func() {
		defer close(ch)

		text, err := p.llm.Generate(ctx, prompt)
		if err != nil {
			chunk := StreamChunk{Err: p.classify(err), Done: true}
			select {
			case ch <- chunk:
			case <-ctx.Done():
			}
			return
		}

		content, calls := splitEmbeddedToolCalls(text)
		finish := "stop"
		if len(calls) > 0 {
			finish = "tool_calls"
		}
		chunk := StreamChunk{
			Content:      content,
			ToolCalls:    calls,
			Done:         true,
			FinishReason: finish,
		}
		select {
		case ch <- chunk:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// buildPrompt flattens the conversation into a gollm prompt. Assistant and
// tool turns are inlined as labeled context since gollm prompts are
// single-turn.
func (p *GollmProvider) buildPrompt(req Request) *gollm.Prompt {
	var system strings.Builder
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system.WriteString(msg.Content)
			system.WriteString("\n")
		case RoleUser:
			parts = append(parts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, fmt.Sprintf("[Tool Call %s]: %s(%s)", tc.ID, tc.Name, tc.RawArguments))
			}
		case RoleTool:
			parts = append(parts, "[Tool Result]: "+msg.Content)
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if system.Len() > 0 {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(system.String()), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, def := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        def.Name,
					Description: def.Description,
					Parameters:  def.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}
	return gollm.NewPrompt(promptText, promptOpts...)
}

// splitEmbeddedToolCalls extracts tool calls gollm returns embedded in the
// response text as a JSON array of {"name", "arguments"} objects.
func splitEmbeddedToolCalls(text string) (string, []ToolCall) {
	start := strings.Index(text, `[{"name"`)
	if start == -1 {
		return text, nil
	}

	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text[start:]), &rawCalls); err != nil {
		return text, nil
	}

	calls := make([]ToolCall, 0, len(rawCalls))
	for _, rc := range rawCalls {
		args := map[string]any{}
		if len(rc.Arguments) > 0 {
			if err := json.Unmarshal(rc.Arguments, &args); err != nil {
				args = map[string]any{}
			}
		}
		calls = append(calls, ToolCall{
			ID:           "call_" + uuid.New().String()[:8],
			Name:         rc.Name,
			Arguments:    args,
			RawArguments: string(rc.Arguments),
		})
	}
	return strings.TrimSpace(text[:start]), calls
}

// classify maps a gollm error message onto the provider error taxonomy.
func (p *GollmProvider) classify(err error) error {
	msg := strings.ToLower(err.Error())
	status := 0
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key"):
		status = 401
	case strings.Contains(msg, "403") || strings.Contains(msg, "forbidden"):
		status = 403
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		status = 404
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		status = 429
	case strings.Contains(msg, "500") || strings.Contains(msg, "internal server"):
		status = 500
	default:
		return networkError(p.Name(), err)
	}
	pe := errorFromStatus(p.Name(), status, err.Error())
	pe.Cause = err
	return pe
}

// CheckConnection generates against a trivial prompt and reports success.
func (p *GollmProvider) CheckConnection(ctx context.Context) bool {
	prompt := gollm.NewPrompt("ping", gollm.WithMaxLength(1))
	_, err := p.llm.Generate(ctx, prompt)
	return err == nil
}
