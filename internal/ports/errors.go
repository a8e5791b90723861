package ports

import (
	"errors"
	"fmt"
	"time"
)

// Transport sentinels shared by every external collaborator. Provider
// specific errors match them through errors.Is.
var (
	// ErrRateLimited indicates that the provider throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrQuotaExceeded indicates that the account has no quota or credit left.
	// Unlike ErrRateLimited it does not clear by waiting.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrServiceUnavailable indicates that the external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidResponse indicates that the service returned an invalid
	// response.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrAuthenticationFailed indicates missing or rejected credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrUnsupportedFormat is returned by a TextExtractor for input it
	// cannot turn into text.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// IsQuotaExhaustion reports whether err means the generation backend will
// refuse further requests for this duel.
func IsQuotaExhaustion(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrQuotaExceeded)
}

// LLMError represents an error from an LLM provider.
type LLMError struct {
	Model      string
	Operation  string
	Err        error
	TokensUsed int
	RetryAfter *time.Duration
}

func (e *LLMError) Error() string {
	msg := fmt.Sprintf("LLM error: model=%s, operation=%s, err=%v", e.Model, e.Operation, e.Err)
	if e.TokensUsed > 0 {
		msg += fmt.Sprintf(", tokens_used=%d", e.TokensUsed)
	}
	if e.RetryAfter != nil {
		msg += fmt.Sprintf(", retry_after=%v", *e.RetryAfter)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *LLMError) Unwrap() error { return e.Err }

// IsRetryable returns true for throttling and service-level faults.
// Quota exhaustion is never retryable.
func (e *LLMError) IsRetryable() bool {
	if errors.Is(e.Err, ErrQuotaExceeded) {
		return false
	}
	return errors.Is(e.Err, ErrRateLimited) ||
		errors.Is(e.Err, ErrServiceUnavailable) ||
		errors.Is(e.Err, ErrTimeout)
}

// NewLLMError creates a new LLMError with the given details.
func NewLLMError(model, operation string, err error) *LLMError {
	return &LLMError{Model: model, Operation: operation, Err: err}
}

// ExtractionError reports a document that could not be turned into text.
type ExtractionError struct {
	Name     string
	MIMEType string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %q (%s): %v", e.Name, e.MIMEType, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExtractionError) Unwrap() error { return e.Err }

// RenderError reports a presentation failure. It never affects the duel.
type RenderError struct {
	Output string
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Output, e.Err)
}

// Unwrap returns the underlying error.
func (e *RenderError) Unwrap() error { return e.Err }

// MetricsError represents an error from metrics collection operations.
type MetricsError struct {
	Metric    string
	Operation string
	Err       error
}

func (e *MetricsError) Error() string {
	return fmt.Sprintf("metrics error: operation=%s, metric=%s, err=%v", e.Operation, e.Metric, e.Err)
}

// Unwrap returns the underlying error.
func (e *MetricsError) Unwrap() error { return e.Err }

// NewMetricsError creates a new MetricsError with the given details.
func NewMetricsError(metric, operation string, err error) *MetricsError {
	return &MetricsError{Metric: metric, Operation: operation, Err: err}
}
