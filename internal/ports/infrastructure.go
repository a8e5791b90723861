package ports

import (
	"context"
	"time"
)

// LLMClient defines the interface for interacting with Large Language
// Model providers.
// Implementations handle provider-specific details like authentication,
// request formatting, and response parsing.
type LLMClient interface {
	// Complete sends a completion request to the LLM provider.
	//
	// The options map allows flexibility for different providers without
	// changing the interface. Recognized options:
	//   - "temperature": float64
	//   - "max_tokens": int
	//   - "system": string, the system prompt
	//   - "response_format": "json_object" requests JSON mode
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// EstimateTokens calculates the approximate token count for a given text.
	EstimateTokens(text string) (int, error)

	// GetModel returns the model identifier being used by this client.
	GetModel() string
}

// CacheStore defines the interface for short-lived key/value storage.
// Used for extracted document text and web duel sessions.
type CacheStore interface {
	// Get retrieves a cached value by key.
	Get(ctx context.Context, key string) (any, bool, error)

	// Set stores a value with an expiration time. A zero duration uses the
	// store's default expiration.
	Set(ctx context.Context, key string, value any, expiration time.Duration) error

	// Delete removes a value. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// MetricsCollector defines the interface for collecting operational metrics.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// TextExtractor turns an uploaded document into plain text. Inputs it does
// not support fail with an error matching ErrUnsupportedFormat; partial text
// is never returned.
type TextExtractor interface {
	Extract(ctx context.Context, name string, data []byte) (string, error)
}

// AudioRenderer narrates the accepted poem. speakers is parallel to lines.
// Failures are *RenderError and only disable the audio output.
type AudioRenderer interface {
	Render(ctx context.Context, lines, speakers []string) ([]byte, error)
}

// EventPublisher forwards duel events to an external broker.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close() error
}
