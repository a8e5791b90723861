// Package application orchestrates poetry duels: it loads configuration,
// builds the persona catalog and rubric, wires poets and a judge into a
// per-round pipeline, and runs duels round by round while notifying
// observers.
package application

import (
	_ "embed"
	"time"

	"github.com/ahrav/go-versus/infrastructure/units"
)

//go:embed default_config.yaml
var defaultConfigYAML []byte

// DefaultConfigYAML returns the embedded default configuration.
func DefaultConfigYAML() []byte {
	out := make([]byte, len(defaultConfigYAML))
	copy(out, defaultConfigYAML)
	return out
}

// Pairing policies.
const (
	// PairingFixed keeps the first persona in slot A every round.
	PairingFixed = "fixed"
	// PairingAlternate swaps the slots on even rounds.
	PairingAlternate = "alternate"
)

// Config is the complete application configuration. Every section has a
// default in the embedded configuration file.
type Config struct {
	// Version is the configuration schema version (X.Y.Z).
	Version string `yaml:"version" validate:"required,semver"`

	Duel      DuelConfig        `yaml:"duel"`
	Personas  []PersonaConfig   `yaml:"personas" validate:"required,min=2,dive"`
	Rubric    []CriterionConfig `yaml:"rubric" validate:"required,min=1,dive"`
	LLM       LLMConfig         `yaml:"llm"`
	Poet      units.PoetConfig  `yaml:"poet"`
	Judge     JudgeConfig       `yaml:"judge"`
	Budget    BudgetConfig      `yaml:"budget"`
	Documents DocumentsConfig   `yaml:"documents"`
	Audio     AudioConfig       `yaml:"audio"`
	Server    ServerConfig      `yaml:"server"`
	Events    EventsConfig      `yaml:"events"`
}

// DuelConfig bounds the number of rounds and picks the pairing policy.
type DuelConfig struct {
	MinRounds     int    `yaml:"min_rounds" validate:"required,min=1"`
	MaxRounds     int    `yaml:"max_rounds" validate:"required,gtefield=MinRounds,max=100"`
	DefaultRounds int    `yaml:"default_rounds" validate:"required,gtefield=MinRounds,ltefield=MaxRounds"`
	Pairing       string `yaml:"pairing" validate:"required,oneof=fixed alternate"`
}

// PersonaConfig declares one poet persona.
type PersonaConfig struct {
	Key      string `yaml:"key" validate:"required,alphanum,max=32"`
	Name     string `yaml:"name" validate:"required,max=64"`
	Title    string `yaml:"title" validate:"max=128"`
	Style    string `yaml:"style" validate:"required,max=500"`
	Approach string `yaml:"approach" validate:"required,max=500"`
	Color    string `yaml:"color" validate:"omitempty,hexcolor"`
	Icon     string `yaml:"icon" validate:"max=16"`
}

// CriterionConfig declares one rubric criterion.
type CriterionConfig struct {
	Key         string  `yaml:"key" validate:"required,max=64"`
	Weight      float64 `yaml:"weight" validate:"gt=0,lte=1"`
	Description string  `yaml:"description" validate:"required,max=500"`
}

// LLMConfig selects the generation backend and its resilience middleware.
type LLMConfig struct {
	// Provider names a registered provider: openai, anthropic or google.
	Provider string `yaml:"provider" validate:"required,oneof=openai anthropic google"`
	// Model overrides the provider's default model.
	Model string `yaml:"model" validate:"omitempty,modelname,max=128"`
	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	RequestTimeout time.Duration        `yaml:"request_timeout" validate:"required,min=1s"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// Spec returns the "provider/model" string understood by the LLM registry.
func (c LLMConfig) Spec() string {
	if c.Model == "" {
		return c.Provider
	}
	return c.Provider + "/" + c.Model
}

// RateLimitConfig configures the token bucket in front of the provider.
// Zero requests per second disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0,max=1000"`
	Burst             int     `yaml:"burst" validate:"min=0,max=1000"`
}

// RetryConfig configures retries of transient provider failures. Quota and
// authentication failures are never retried.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" validate:"min=0,max=10"`
	BaseDelay  time.Duration `yaml:"base_delay" validate:"min=0"`
	MaxDelay   time.Duration `yaml:"max_delay" validate:"min=0,gtefield=BaseDelay"`
}

// CircuitBreakerConfig configures the breaker. Zero failures disables it.
type CircuitBreakerConfig struct {
	MaxFailures int           `yaml:"max_failures" validate:"min=0,max=100"`
	Cooldown    time.Duration `yaml:"cooldown" validate:"min=0"`
}

// JudgeConfig extends the judge unit settings with the position swap mode.
type JudgeConfig struct {
	units.JudgeConfig `yaml:",inline"`

	// PositionSwap judges every round twice with the slots exchanged and
	// averages the scores. It doubles judge calls.
	PositionSwap bool `yaml:"position_swap"`
}

// BudgetConfig limits what a single duel may spend. Zero is unlimited.
type BudgetConfig struct {
	MaxTokens int64 `yaml:"max_tokens" validate:"min=0"`
	MaxCalls  int64 `yaml:"max_calls" validate:"min=0"`
}

// DocumentsConfig configures text extraction.
type DocumentsConfig struct {
	MaxBytes   int64         `yaml:"max_bytes" validate:"required,min=1"`
	PDFCommand string        `yaml:"pdf_command" validate:"required,shellcmd"`
	OCRCommand string        `yaml:"ocr_command" validate:"omitempty,shellcmd"`
	CacheTTL   time.Duration `yaml:"cache_ttl" validate:"min=0"`
}

// AudioConfig configures narration. An empty command disables audio.
type AudioConfig struct {
	Command string        `yaml:"command" validate:"omitempty,shellcmd"`
	Timeout time.Duration `yaml:"timeout" validate:"required_with=Command"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string        `yaml:"addr" validate:"required"`
	SessionTTL     time.Duration `yaml:"session_ttl" validate:"required,min=1m"`
	MaxUploadBytes int           `yaml:"max_upload_bytes" validate:"required,min=1024"`
}

// EventsConfig configures round event publishing. An empty URL disables NATS.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url" validate:"omitempty,url"`
	Subject string `yaml:"subject" validate:"required"`
}
