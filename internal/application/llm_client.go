package application

import (
	"fmt"
	"maps"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-versus/infrastructure/llm"
	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

// MiddlewareChain builds the client middleware from config, first
// outermost: tracing, metrics, circuit breaker, retry, rate limit, timeout.
// Disabled stages are left out. collector may be nil.
func MiddlewareChain(cfg LLMConfig, collector ports.MetricsCollector) llm.MiddlewareFactory {
	return func(provider string) []llm.Middleware {
		chain := []llm.Middleware{llm.TracingMiddleware(provider)}
		if collector != nil {
			chain = append(chain, llm.MetricsMiddleware(provider, collector))
		}
		if cfg.CircuitBreaker.MaxFailures > 0 {
			chain = append(chain, llm.CircuitBreakerMiddleware(cfg.CircuitBreaker.MaxFailures, cfg.CircuitBreaker.Cooldown))
		}
		if cfg.Retry.MaxRetries > 0 {
			chain = append(chain, llm.RetryMiddleware(cfg.Retry.MaxRetries, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay))
		}
		if cfg.RateLimit.RequestsPerSecond > 0 {
			burst := max(cfg.RateLimit.Burst, 1)
			chain = append(chain, llm.RateLimitMiddleware(rate.Limit(cfg.RateLimit.RequestsPerSecond), burst))
		}
		if cfg.RequestTimeout > 0 {
			chain = append(chain, llm.TimeoutMiddleware(cfg.RequestTimeout))
		}
		return chain
	}
}

// NewRegistry creates the provider registry for cfg. lookupEnv resolves
// API keys and may be nil.
func NewRegistry(cfg LLMConfig, collector ports.MetricsCollector, lookupEnv func(string) string) (*llm.Registry, error) {
	providers := maps.Clone(llm.DefaultProviders)
	if cfg.BaseURL != "" {
		pc, ok := providers[cfg.Provider]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
		}
		pc.BaseURL = cfg.BaseURL
		providers[cfg.Provider] = pc
	}

	return llm.NewRegistry(llm.RegistryConfig{
		Providers:       providers,
		DefaultProvider: cfg.Provider,
		DefaultTimeout:  cfg.RequestTimeout,
		Middleware:      MiddlewareChain(cfg, collector),
		LookupEnv:       lookupEnv,
	})
}

// NewLLMClient returns the client the poets and the judge share. A missing
// API key is reported as a configuration error.
func NewLLMClient(cfg LLMConfig, collector ports.MetricsCollector, lookupEnv func(string) string) (*llm.Client, error) {
	registry, err := NewRegistry(cfg, collector, lookupEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM registry: %w", err)
	}
	if err := registry.CheckCredentials(cfg.Provider); err != nil {
		return nil, domain.NewConfigurationError("llm.provider", "missing credentials", err)
	}
	client, err := registry.GetClient(cfg.Spec())
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client %s: %w", cfg.Spec(), err)
	}
	return client, nil
}
