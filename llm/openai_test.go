package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/taskpilot-ai/taskpilot/retry"
)

// sseServer returns an httptest server that replies to chat-completions
// requests with the given SSE data payloads followed by [DONE].
func sseServer(t *testing.T, payloads ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func testProvider(t *testing.T, baseURL string, cfg retry.Config) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider(Options{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "test-model",
		Retry:   cfg,
	})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	return p
}

func collect(t *testing.T, ch <-chan StreamChunk) []StreamChunk {
	t.Helper()
	var chunks []StreamChunk
	for chunk := range ch {
		if chunk.Err != nil && !chunk.Done {
			t.Fatalf("error chunk without done: %v", chunk.Err)
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		t.Fatal("stream produced no chunks")
	}
	return chunks
}

func TestStreamContentDeltas(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"delta":{"content":" world"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	)
	defer srv.Close()

	p := testProvider(t, srv.URL, retry.Config{})
	ch, err := p.Stream(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	chunks := collect(t, ch)

	var content string
	for _, c := range chunks {
		content += c.Content
	}
	if content != "Hello world" {
		t.Errorf("expected %q, got %q", "Hello world", content)
	}

	last := chunks[len(chunks)-1]
	if !last.Done {
		t.Error("final chunk should have Done set")
	}
	if last.FinishReason != "stop" {
		t.Errorf("expected finish_reason %q, got %q", "stop", last.FinishReason)
	}
}

func TestStreamThinkingSeparateFromContent(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"delta":{"reasoning_content":"pondering"}}]}`,
		`{"choices":[{"delta":{"content":"answer"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	)
	defer srv.Close()

	p := testProvider(t, srv.URL, retry.Config{})
	ch, err := p.Stream(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	chunks := collect(t, ch)

	var thinking, content string
	for _, c := range chunks {
		thinking += c.Thinking
		content += c.Content
	}
	if thinking != "pondering" {
		t.Errorf("expected thinking %q, got %q", "pondering", thinking)
	}
	if content != "answer" {
		t.Errorf("expected content %q, got %q", "answer", content)
	}
}

func TestStreamToolCallDefragmentation(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"foo"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"a\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	defer srv.Close()

	p := testProvider(t, srv.URL, retry.Config{})
	ch, err := p.Stream(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	chunks := collect(t, ch)

	// Tool calls appear only on the Done chunk.
	for _, c := range chunks[:len(chunks)-1] {
		if len(c.ToolCalls) != 0 {
			t.Error("tool calls leaked on a non-terminal chunk")
		}
	}

	last := chunks[len(chunks)-1]
	if !last.Done {
		t.Fatal("final chunk should have Done set")
	}
	if len(last.ToolCalls) != 1 {
		t.Fatalf("expected exactly 1 tool call, got %d", len(last.ToolCalls))
	}
	tc := last.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "foo" {
		t.Errorf("unexpected call identity: id=%q name=%q", tc.ID, tc.Name)
	}
	if got, ok := tc.Arguments["a"].(float64); !ok || got != 1 {
		t.Errorf("expected arguments {a:1}, got %v", tc.Arguments)
	}
	if tc.RawArguments != `{"a":1}` {
		t.Errorf("expected raw arguments preserved, got %q", tc.RawArguments)
	}
}

func TestStreamMultipleToolCallsOrderedByIndex(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"second","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"first","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	defer srv.Close()

	p := testProvider(t, srv.URL, retry.Config{})
	ch, err := p.Stream(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	chunks := collect(t, ch)

	last := chunks[len(chunks)-1]
	if len(last.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(last.ToolCalls))
	}
	if last.ToolCalls[0].Name != "first" || last.ToolCalls[1].Name != "second" {
		t.Errorf("tool calls out of index order: %q, %q", last.ToolCalls[0].Name, last.ToolCalls[1].Name)
	}
}

func TestStreamMalformedArgumentsDegradeToEmptyMap(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"foo","arguments":"{not json"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	defer srv.Close()

	p := testProvider(t, srv.URL, retry.Config{})
	ch, err := p.Stream(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	chunks := collect(t, ch)

	last := chunks[len(chunks)-1]
	if last.Err != nil {
		t.Fatalf("malformed arguments must not fail the stream: %v", last.Err)
	}
	if len(last.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(last.ToolCalls))
	}
	tc := last.ToolCalls[0]
	if tc.Arguments == nil || len(tc.Arguments) != 0 {
		t.Errorf("expected empty argument map, got %v", tc.Arguments)
	}
	if tc.RawArguments != "{not json" {
		t.Errorf("expected raw text preserved, got %q", tc.RawArguments)
	}
}

func TestStreamClientErrorNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	p := testProvider(t, srv.URL, retry.Config{})
	_, err := p.Stream(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %T", err)
	}
	if pe.StatusCode != 401 {
		t.Errorf("expected status 401, got %d", pe.StatusCode)
	}
	if pe.Retryable() {
		t.Error("401 must not be retryable")
	}
	if IsRetryable(err) {
		t.Error("IsRetryable must report false for 401")
	}
}

func TestStreamRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	cfg := retry.Config{Enabled: true, MaxRetries: 2, InitialDelay: 0.001, MaxDelay: 0.001, ExponentialBase: 1}
	p := testProvider(t, srv.URL, cfg)
	ch, err := p.Stream(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Stream should succeed after retry: %v", err)
	}
	chunks := collect(t, ch)
	if chunks[0].Content != "ok" {
		t.Errorf("expected content %q, got %q", "ok", chunks[0].Content)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", calls.Load())
	}
}

func TestBuildRequestOmitsThinkingAndCarriesToolProtocol(t *testing.T) {
	p := testProvider(t, "http://unused", retry.Config{})
	req := Request{
		Messages: []Message{
			SystemMessage("be helpful"),
			UserMessage("do it"),
			{
				Role:     RoleAssistant,
				Thinking: "secret reasoning",
				ToolCalls: []ToolCall{{
					ID:           "call_1",
					Name:         "read_file",
					Arguments:    map[string]any{"path": "x"},
					RawArguments: `{"path":"x"}`,
				}},
			},
			ToolMessage("call_1", "file contents"),
		},
		Tools: []ToolDefinition{{Name: "read_file", Description: "reads", Parameters: map[string]any{"type": "object"}}},
	}

	wire := p.buildRequest(req, true)
	raw, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "secret reasoning") {
		t.Error("thinking text must not be serialized to the wire")
	}

	if len(wire.Messages) != 4 {
		t.Fatalf("expected 4 wire messages, got %d", len(wire.Messages))
	}
	asst := wire.Messages[2]
	if len(asst.ToolCalls) != 1 || asst.ToolCalls[0].Function.Arguments != `{"path":"x"}` {
		t.Errorf("assistant tool call not re-serialized from raw text: %+v", asst.ToolCalls)
	}
	toolMsg := wire.Messages[3]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_1" {
		t.Errorf("tool message wiring wrong: %+v", toolMsg)
	}
	if len(wire.Tools) != 1 || wire.Tools[0].Function.Name != "read_file" {
		t.Errorf("tool definitions missing: %+v", wire.Tools)
	}
}

func TestCheckConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"pong"}}]}`)
	}))
	defer srv.Close()

	p := testProvider(t, srv.URL, retry.Config{})
	if !p.CheckConnection(context.Background()) {
		t.Error("expected CheckConnection true against healthy server")
	}

	srv.Close()
	if p.CheckConnection(context.Background()) {
		t.Error("expected CheckConnection false against closed server")
	}
}
