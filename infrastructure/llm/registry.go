package llm

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// ProviderConfig describes how to build clients for one provider.
type ProviderConfig struct {
	// Type selects the registered provider factory.
	Type string
	// EnvVar names the environment variable that holds the API key.
	EnvVar string
	// DefaultModel is used when a spec names only the provider.
	DefaultModel string
	// BaseURL overrides the provider endpoint.
	BaseURL string
}

// MiddlewareFactory builds the middleware chain for a provider. It is
// called once per created client.
type MiddlewareFactory func(provider string) []Middleware

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Providers       map[string]ProviderConfig
	DefaultProvider string
	DefaultTimeout  time.Duration
	Middleware      MiddlewareFactory
	// LookupEnv resolves API keys. Defaults to os.Getenv.
	LookupEnv func(string) string
}

// DefaultProviders lists the built-in providers and their key variables.
var DefaultProviders = map[string]ProviderConfig{
	"openai":    {Type: "openai", EnvVar: "OPENAI_API_KEY", DefaultModel: OpenAIDefaultModel},
	"anthropic": {Type: "anthropic", EnvVar: "ANTHROPIC_API_KEY", DefaultModel: AnthropicDefaultModel},
	"google":    {Type: "google", EnvVar: "GOOGLE_API_KEY", DefaultModel: GoogleDefaultModel},
}

// Registry creates and caches clients addressed as "provider/model".
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]ProviderConfig
	clients         map[string]*Client
	defaultProvider string
	defaultTimeout  time.Duration
	middleware      MiddlewareFactory
	lookupEnv       func(string) string
}

// NewRegistry validates the configuration and returns an empty registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DefaultProvider == "" {
		return nil, fmt.Errorf("default provider cannot be empty")
	}
	if _, ok := config.Providers[config.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q not found in providers configuration", config.DefaultProvider)
	}

	lookup := config.LookupEnv
	if lookup == nil {
		lookup = os.Getenv
	}

	return &Registry{
		providers:       config.Providers,
		clients:         make(map[string]*Client),
		defaultProvider: config.DefaultProvider,
		defaultTimeout:  config.DefaultTimeout,
		middleware:      config.Middleware,
		lookupEnv:       lookup,
	}, nil
}

// GetDefaultClient returns the default provider's default model client.
func (r *Registry) GetDefaultClient() (*Client, error) {
	return r.GetClient(r.defaultProvider)
}

// GetClient returns a cached or newly created client for spec, which is
// "provider" or "provider/model".
func (r *Registry) GetClient(spec string) (*Client, error) {
	if spec == "" {
		return nil, fmt.Errorf("provider specification cannot be empty")
	}
	provider, model := r.parseSpec(spec)
	key := provider + "/" + model

	r.mu.RLock()
	client, ok := r.clients[key]
	r.mu.RUnlock()
	if ok {
		return client, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[key]; ok {
		return client, nil
	}

	client, err := r.createClient(provider, model)
	if err != nil {
		return nil, err
	}
	r.clients[key] = client
	return client, nil
}

// CheckCredentials reports a missing API key for provider without
// creating a client.
func (r *Registry) CheckCredentials(provider string) error {
	pc, ok := r.providers[provider]
	if !ok {
		return fmt.Errorf("unknown provider %q", provider)
	}
	if r.lookupEnv(pc.EnvVar) == "" {
		return fmt.Errorf("%s environment variable not set for provider %q", pc.EnvVar, provider)
	}
	return nil
}

// Providers lists configured provider names in sorted order.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) parseSpec(spec string) (provider, model string) {
	provider, model, _ = strings.Cut(spec, "/")
	if model == "" {
		if pc, ok := r.providers[provider]; ok {
			model = pc.DefaultModel
		}
	}
	return provider, model
}

func (r *Registry) createClient(provider, model string) (*Client, error) {
	if err := r.CheckCredentials(provider); err != nil {
		return nil, err
	}
	pc := r.providers[provider]

	config := ClientConfig{
		APIKey:  r.lookupEnv(pc.EnvVar),
		Model:   model,
		BaseURL: pc.BaseURL,
		Timeout: r.defaultTimeout,
	}
	if r.middleware != nil {
		config.Middleware = r.middleware(provider)
	}

	client, err := NewClient(pc.Type, config)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", provider, err)
	}
	return client, nil
}
