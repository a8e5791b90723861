package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockCoreLLM is a configurable CoreLLM for middleware tests.
type MockCoreLLM struct {
	mu sync.Mutex

	Response      string
	TokensIn      int
	TokensOut     int
	Error         error
	Model         string
	ResponseDelay time.Duration

	// FailUntilAttempt fails the first N calls with Error, then succeeds.
	FailUntilAttempt int

	CallCount  int
	LastPrompt string
	LastOpts   map[string]any
	Contexts   []context.Context
}

func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{Response: "test response", TokensIn: 10, TokensOut: 20, Model: "test-model"}
}

func (m *MockCoreLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.LastPrompt = prompt
	m.LastOpts = opts
	m.Contexts = append(m.Contexts, ctx)
	delay := m.ResponseDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", 0, 0, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUntilAttempt > 0 {
		if call <= m.FailUntilAttempt {
			if m.Error != nil {
				return "", 0, 0, m.Error
			}
			return "", 0, 0, errors.New("simulated failure")
		}
		return m.Response, m.TokensIn, m.TokensOut, nil
	}
	if m.Error != nil {
		return "", 0, 0, m.Error
	}
	return m.Response, m.TokensIn, m.TokensOut, nil
}

func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

func (m *MockCoreLLM) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Model = model
}

func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// recordingCollector is an in-memory ports.MetricsCollector.
type recordingCollector struct {
	mu         sync.Mutex
	counters   map[string]float64
	histograms map[string][]float64
	labels     []map[string]string
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{counters: map[string]float64{}, histograms: map[string][]float64{}}
}

func (c *recordingCollector) RecordLatency(op string, d time.Duration, labels map[string]string) {
	c.RecordHistogram(op, d.Seconds(), labels)
}

func (c *recordingCollector) RecordCounter(metric string, v float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[metric] += v
	c.labels = append(c.labels, labels)
}

func (c *recordingCollector) RecordGauge(string, float64, map[string]string) {}

func (c *recordingCollector) RecordHistogram(metric string, v float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.histograms[metric] = append(c.histograms[metric], v)
	c.labels = append(c.labels, labels)
}
