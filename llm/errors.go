package llm

import (
	"errors"
	"fmt"
)

// ProviderError represents a failure reported by an LLM provider. The
// retryable flag drives the retry layer: rate limits, timeouts, and server
// errors are worth retrying, client errors are not.
type ProviderError struct {
	Provider   string
	Message    string
	StatusCode int
	Cause      error
	retryable  bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("[%s] %s (status=%d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is safe to retry.
func (e *ProviderError) Retryable() bool {
	return e.retryable
}

// errorFromStatus maps an HTTP status code to a classified ProviderError.
func errorFromStatus(provider string, statusCode int, message string) *ProviderError {
	pe := &ProviderError{
		Provider:   provider,
		Message:    message,
		StatusCode: statusCode,
	}
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		pe.retryable = true
	default:
		// 4xx client errors will not succeed on retry.
		pe.retryable = statusCode < 400 || statusCode >= 500
	}
	return pe
}

// networkError wraps a transport-level failure. Always retryable.
func networkError(provider string, cause error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Message:   "network error",
		Cause:     cause,
		retryable: true,
	}
}

// IsRetryable reports whether an error is safe to retry. Unknown errors
// default to retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}
