package testutils

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/ahrav/go-versus/internal/ports"
)

// Prompt markers that identify which agent is calling.
const (
	PoetPromptMarker  = "YOUR TASK: Create line"
	JudgePromptMarker = "VERSE A - by"
)

// MockLLMClient implements ports.LLMClient with deterministic, pattern
// matched responses. Out of the box poets receive a well-formed verse and
// the judge prefers verse A. It is safe for concurrent use.
type MockLLMClient struct {
	mu        sync.Mutex
	model     string
	responses []MockResponse
	handler   MockHandler
	calls     []MockCall
}

// MockResponse is returned for prompts containing Pattern. An empty
// Pattern matches every prompt.
type MockResponse struct {
	Pattern  string
	Response string
	Err      error
}

// MockCall records one Complete invocation.
type MockCall struct {
	Prompt  string
	Options map[string]any
}

// MockHandler takes over every call once set. n is the 1-based call number.
type MockHandler func(ctx context.Context, n int, prompt string, options map[string]any) (string, error)

// NewMockLLMClient creates a mock with the default poet and judge replies.
func NewMockLLMClient(model string) *MockLLMClient {
	m := &MockLLMClient{model: model}
	m.setupDefaultResponses()
	return m
}

func (m *MockLLMClient) setupDefaultResponses() {
	m.responses = []MockResponse{
		{Pattern: JudgePromptMarker, Response: JudgeResponse(DefaultRubricKeys(), 8, 6, "A")},
		{Pattern: PoetPromptMarker, Response: PoetResponse("The river keeps the ledger of the rain", "paragraph one")},
		{Pattern: "", Response: "This is a standard response for testing purposes."},
	}
}

// AddResponse registers a response that takes priority over those added
// before it.
func (m *MockLLMClient) AddResponse(r MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = slices.Insert(m.responses, 0, r)
}

// SetHandler routes every call through h.
func (m *MockLLMClient) SetHandler(h MockHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Complete returns the first matching response. "A" and "B" in a judge
// winner placeholder are replaced with the names found in the prompt.
func (m *MockLLMClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Prompt: prompt, Options: maps.Clone(options)})
	n := len(m.calls)
	handler := m.handler
	responses := slices.Clone(m.responses)
	m.mu.Unlock()

	if handler != nil {
		return handler(ctx, n, prompt, options)
	}
	for _, r := range responses {
		if r.Pattern == "" || strings.Contains(prompt, r.Pattern) {
			if r.Err != nil {
				return "", r.Err
			}
			return ResolveWinnerPlaceholder(r.Response, prompt), nil
		}
	}
	return "Mock response for testing purposes.", nil
}

// EstimateTokens approximates four characters per token.
func (m *MockLLMClient) EstimateTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return max(len(text)/4, 1), nil
}

// GetModel returns the mock model identifier.
func (m *MockLLMClient) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// SetModel updates the mock model identifier.
func (m *MockLLMClient) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
}

// Calls returns a copy of every recorded call.
func (m *MockLLMClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns the number of Complete calls so far.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallsMatching counts calls whose prompt contains pattern.
func (m *MockLLMClient) CallsMatching(pattern string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if strings.Contains(c.Prompt, pattern) {
			n++
		}
	}
	return n
}

// Reset clears recorded calls, the handler and custom responses.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.handler = nil
	m.setupDefaultResponses()
}

var _ ports.LLMClient = (*MockLLMClient)(nil)
