package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/taskpilot-ai/taskpilot/retry"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

func init() {
	Register("openai", func(opts Options) (Provider, error) {
		return NewOpenAIProvider(opts)
	})
}

// OpenAIProvider speaks the OpenAI-compatible chat-completions streaming
// protocol. Any endpoint implementing that wire format (OpenAI, DeepSeek,
// Ollama, vLLM, ...) can be targeted by overriding BaseURL.
type OpenAIProvider struct {
	opts    Options
	baseURL string
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible endpoint.
func NewOpenAIProvider(opts Options) (*OpenAIProvider, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIProvider{
		opts:    opts,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Wire types for the chat-completions endpoint.

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Tools       []oaTool    `json:"tools,omitempty"`
	Stream      bool        `json:"stream"`
	Temperature *float64    `json:"temperature,omitempty"`
	MaxTokens   *int        `json:"max_tokens,omitempty"`
}

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type oaToolCall struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Function oaFunction `json:"function"`
}

type oaFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaTool struct {
	Type     string    `json:"type"`
	Function oaToolDef `json:"function"`
}

type oaToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type oaStreamResponse struct {
	Choices []oaStreamChoice `json:"choices"`
}

type oaStreamChoice struct {
	Delta        oaDelta `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type oaDelta struct {
	Content          string            `json:"content"`
	ReasoningContent string            `json:"reasoning_content"`
	Reasoning        string            `json:"reasoning"`
	ToolCalls        []oaDeltaToolCall `json:"tool_calls"`
}

type oaDeltaToolCall struct {
	Index    int        `json:"index"`
	ID       string     `json:"id"`
	Function oaFunction `json:"function"`
}

type oaErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// buildRequest translates the engine's messages into the wire format.
// Thinking stays local; only content, tool calls, and tool results go out.
func (p *OpenAIProvider) buildRequest(req Request, stream bool) oaRequest {
	out := oaRequest{
		Model:       p.opts.Model,
		Stream:      stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if out.Temperature == nil {
		out.Temperature = p.opts.Temperature
	}
	if out.MaxTokens == nil {
		out.MaxTokens = p.opts.MaxTokens
	}

	for _, msg := range req.Messages {
		wire := oaMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			args := tc.RawArguments
			if args == "" {
				raw, err := json.Marshal(tc.Arguments)
				if err != nil || tc.Arguments == nil {
					raw = []byte("{}")
				}
				args = string(raw)
			}
			wire.ToolCalls = append(wire.ToolCalls, oaToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: oaFunction{Name: tc.Name, Arguments: args},
			})
		}
		out.Messages = append(out.Messages, wire)
	}

	for _, def := range req.Tools {
		out.Tools = append(out.Tools, oaTool{
			Type: "function",
			Function: oaToolDef{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}

// openStream POSTs the request and returns the response body once the server
// has committed to streaming. Errors before first byte are retryable per the
// taxonomy; errors after that point surface on the chunk channel.
func (p *OpenAIProvider) openStream(ctx context.Context, body []byte) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	}

	resp, err := p.opts.httpClient().Do(httpReq)
	if err != nil {
		return nil, networkError("openai", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		msg := strings.TrimSpace(string(raw))
		var parsed oaErrorBody
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, errorFromStatus("openai", resp.StatusCode, msg)
	}
	return resp.Body, nil
}

// Stream opens a streaming chat completion and decodes SSE chunks. The open
// is wrapped in the retry policy when it is enabled; once chunks are flowing
// a failure terminates the stream with an Err chunk instead.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	body, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	open := func(ctx context.Context) (io.ReadCloser, error) {
		return p.openStream(ctx, body)
	}

	var stream io.ReadCloser
	if p.opts.Retry.Enabled {
		logger := p.opts.logger()
		stream, err = retry.Do(ctx, p.opts.Retry, open, func(err error, attempt int) {
			logger.Warn("provider request failed, retrying",
				"provider", "openai", "attempt", attempt, "error", err)
		})
	} else {
		stream, err = open(ctx)
	}
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 64)
	go p.readStream(ctx, stream, ch)
	return ch, nil
}

// toolCallAccumulator reassembles tool calls that arrive fragmented across
// stream deltas, keyed by the provider-assigned index.
type toolCallAccumulator struct {
	calls map[int]*partialToolCall
}

type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: map[int]*partialToolCall{}}
}

func (a *toolCallAccumulator) add(delta oaDeltaToolCall) {
	partial, ok := a.calls[delta.Index]
	if !ok {
		partial = &partialToolCall{}
		a.calls[delta.Index] = partial
	}
	if delta.ID != "" {
		partial.id = delta.ID
	}
	if delta.Function.Name != "" {
		partial.name += delta.Function.Name
	}
	partial.args.WriteString(delta.Function.Arguments)
}

// materialize converts accumulated fragments into complete tool calls in
// index order. Malformed argument JSON degrades to an empty argument map.
func (a *toolCallAccumulator) materialize() []ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	indices := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	calls := make([]ToolCall, 0, len(indices))
	for _, idx := range indices {
		partial := a.calls[idx]
		raw := partial.args.String()
		args := map[string]any{}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args = map[string]any{}
			}
		}
		calls = append(calls, ToolCall{
			ID:           partial.id,
			Name:         partial.name,
			Arguments:    args,
			RawArguments: raw,
		})
	}
	return calls
}

func (p *OpenAIProvider) readStream(ctx context.Context, body io.ReadCloser, ch chan<- StreamChunk) {
	defer close(ch)
	defer body.Close()

	emit := func(chunk StreamChunk) bool {
		select {
		case ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	acc := newToolCallAccumulator()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var resp oaStreamResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			// Skip undecodable keep-alives and vendor extensions.
			continue
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		for _, tc := range choice.Delta.ToolCalls {
			acc.add(tc)
		}

		thinking := choice.Delta.ReasoningContent
		if thinking == "" {
			thinking = choice.Delta.Reasoning
		}
		if choice.Delta.Content != "" || thinking != "" {
			if !emit(StreamChunk{Content: choice.Delta.Content, Thinking: thinking}) {
				return
			}
		}

		if choice.FinishReason != nil && *choice.FinishReason != "" {
			emit(StreamChunk{
				ToolCalls:    acc.materialize(),
				Done:         true,
				FinishReason: *choice.FinishReason,
			})
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		emit(StreamChunk{Err: networkError("openai", err), Done: true})
		return
	}
	// Stream ended without a finish_reason; close out with what we have.
	emit(StreamChunk{ToolCalls: acc.materialize(), Done: true})
}

// CheckConnection issues a minimal non-streaming request and reports only
// whether the provider answered it.
func (p *OpenAIProvider) CheckConnection(ctx context.Context) bool {
	one := 1
	probe := p.buildRequest(Request{
		Messages:  []Message{UserMessage("ping")},
		MaxTokens: &one,
	}, false)
	body, err := json.Marshal(probe)
	if err != nil {
		return false
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return false
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	}

	resp, err := p.opts.httpClient().Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode == http.StatusOK
}
