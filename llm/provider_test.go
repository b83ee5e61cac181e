package llm

import (
	"context"
	"testing"
)

type stubProvider struct{ name string }

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Content: "stub", Done: true, FinishReason: "stop"}
	close(ch)
	return ch, nil
}
func (s *stubProvider) CheckConnection(ctx context.Context) bool { return true }

func TestRegistryLookup(t *testing.T) {
	Register("stub-lookup", func(opts Options) (Provider, error) {
		return &stubProvider{name: "stub-lookup"}, nil
	})

	p, err := New("stub-lookup", Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "stub-lookup" {
		t.Errorf("expected name %q, got %q", "stub-lookup", p.Name())
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	_, err := New("no-such-provider", Options{})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRegistryIncludesBuiltins(t *testing.T) {
	names := Providers()
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	for _, want := range []string{"openai", "gollm/anthropic"} {
		if !seen[want] {
			t.Errorf("expected builtin provider %q registered, have %v", want, names)
		}
	}
}

func TestSplitEmbeddedToolCalls(t *testing.T) {
	content, calls := splitEmbeddedToolCalls(`Working on it. [{"name":"shell","arguments":{"command":"ls"}}]`)
	if content != "Working on it." {
		t.Errorf("unexpected content %q", content)
	}
	if len(calls) != 1 || calls[0].Name != "shell" {
		t.Fatalf("expected one shell call, got %+v", calls)
	}
	if calls[0].Arguments["command"] != "ls" {
		t.Errorf("arguments not decoded: %v", calls[0].Arguments)
	}

	content, calls = splitEmbeddedToolCalls("plain answer")
	if content != "plain answer" || calls != nil {
		t.Errorf("plain text must pass through unchanged, got %q %v", content, calls)
	}
}
