package llm

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFromStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{408, true},
		{422, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
	}
	for _, tc := range cases {
		err := errorFromStatus("openai", tc.status, "boom")
		if err.Retryable() != tc.retryable {
			t.Errorf("status %d: expected retryable=%v", tc.status, tc.retryable)
		}
		if IsRetryable(err) != tc.retryable {
			t.Errorf("status %d: IsRetryable disagrees with Retryable()", tc.status)
		}
	}
}

func TestIsRetryableDefaults(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil error must not be retryable")
	}
	if !IsRetryable(errors.New("opaque failure")) {
		t.Error("unknown errors default to retryable")
	}
	if !IsRetryable(networkError("openai", errors.New("connection refused"))) {
		t.Error("network errors are retryable")
	}
}

func TestProviderErrorWrapping(t *testing.T) {
	cause := errors.New("underlying")
	pe := networkError("openai", cause)
	if !errors.Is(pe, cause) {
		t.Error("expected Unwrap to expose the cause")
	}

	wrapped := fmt.Errorf("stream failed: %w", errorFromStatus("openai", 429, "slow down"))
	var out *ProviderError
	if !errors.As(wrapped, &out) {
		t.Fatal("expected errors.As to find ProviderError through wrapping")
	}
	if out.StatusCode != 429 {
		t.Errorf("expected status 429, got %d", out.StatusCode)
	}
}
