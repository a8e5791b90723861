package application

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-versus/internal/domain"
)

// Environment variables that override the configured backend.
const (
	EnvProvider = "VERSUS_PROVIDER"
	EnvModel    = "VERSUS_MODEL"
)

// LoadedConfig is a validated configuration together with the immutable
// catalog and rubric built from it.
type LoadedConfig struct {
	Config  Config
	Catalog domain.PersonaCatalog
	Rubric  domain.Rubric
	// Hash identifies the normalized configuration.
	Hash string
}

// ConfigLoader parses, validates and caches configurations. User files are
// layered over the embedded defaults: scalar settings left out keep their
// default, while a personas or rubric list replaces the default list.
type ConfigLoader struct {
	validator *validator.Validate
	lookupEnv func(string) string

	cacheMu sync.RWMutex
	cache   map[string]*LoadedConfig
	sf      singleflight.Group
}

// NewConfigLoader creates a loader. lookupEnv resolves the backend
// override variables; nil means os.Getenv.
func NewConfigLoader(lookupEnv func(string) string) (*ConfigLoader, error) {
	v := validator.New()
	if err := RegisterConfigValidators(v); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}
	if lookupEnv == nil {
		lookupEnv = os.Getenv
	}
	return &ConfigLoader{
		validator: v,
		lookupEnv: lookupEnv,
		cache:     make(map[string]*LoadedConfig),
	}, nil
}

// LoadDefault loads the embedded configuration.
func (cl *ConfigLoader) LoadDefault() (*LoadedConfig, error) {
	return cl.Load(nil)
}

// LoadFromFile loads path layered over the defaults.
func (cl *ConfigLoader) LoadFromFile(path string) (*LoadedConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, domain.NewConfigurationError("file", "cannot read configuration", err)
	}
	return cl.Load(data)
}

// LoadFromReader loads YAML from r layered over the defaults.
func (cl *ConfigLoader) LoadFromReader(r io.Reader) (*LoadedConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, domain.NewConfigurationError("reader", "cannot read configuration", err)
	}
	return cl.Load(data)
}

// Load parses data over the defaults, applies environment overrides and
// validates the result. Empty data yields the defaults. Identical
// configurations share one cached LoadedConfig, which must not be mutated.
func (cl *ConfigLoader) Load(data []byte) (*LoadedConfig, error) {
	config, err := cl.parse(data)
	if err != nil {
		return nil, err
	}
	cl.applyEnv(config)

	hash, err := configHash(config)
	if err != nil {
		return nil, err
	}

	v, err, _ := cl.sf.Do(hash, func() (any, error) {
		if loaded, ok := cl.cached(hash); ok {
			return loaded, nil
		}
		loaded, err := cl.build(config)
		if err != nil {
			return nil, err
		}
		loaded.Hash = hash
		cl.store(hash, loaded)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*LoadedConfig), nil
}

// parse decodes the defaults and then data over them. Unknown fields are
// rejected so typos do not pass silently.
func (cl *ConfigLoader) parse(data []byte) (*Config, error) {
	var config Config
	if err := decodeStrict(defaultConfigYAML, &config); err != nil {
		return nil, domain.NewConfigurationError("default", "embedded configuration is invalid", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &config, nil
	}
	if err := decodeStrict(data, &config); err != nil {
		return nil, domain.NewConfigurationError("yaml", "cannot decode configuration", err)
	}
	return &config, nil
}

func decodeStrict(data []byte, out *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (cl *ConfigLoader) applyEnv(config *Config) {
	if p := strings.TrimSpace(cl.lookupEnv(EnvProvider)); p != "" {
		if p != config.LLM.Provider {
			config.LLM.Model = ""
		}
		config.LLM.Provider = p
	}
	if m := strings.TrimSpace(cl.lookupEnv(EnvModel)); m != "" {
		config.LLM.Model = m
	}
}

// build validates config and freezes the catalog and rubric.
func (cl *ConfigLoader) build(config *Config) (*LoadedConfig, error) {
	if err := cl.validator.Struct(config); err != nil {
		return nil, structError(err)
	}

	personas := make([]domain.Persona, len(config.Personas))
	for i, p := range config.Personas {
		personas[i] = domain.Persona{
			Key:      p.Key,
			Name:     p.Name,
			Title:    p.Title,
			Style:    p.Style,
			Approach: p.Approach,
			Color:    p.Color,
			Icon:     p.Icon,
		}
	}
	catalog, err := domain.NewPersonaCatalog(personas)
	if err != nil {
		return nil, domain.NewConfigurationError("personas", "", err)
	}

	criteria := make([]domain.Criterion, len(config.Rubric))
	for i, c := range config.Rubric {
		criteria[i] = domain.Criterion{Key: c.Key, Weight: c.Weight, Description: c.Description}
	}
	rubric, err := domain.NewRubric(criteria)
	if err != nil {
		return nil, domain.NewConfigurationError("rubric", "", err)
	}

	return &LoadedConfig{Config: *config, Catalog: catalog, Rubric: rubric}, nil
}

// structError turns the first validator failure into a ConfigurationError
// naming the offending field.
func structError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewConfigurationError("", "validation failed", err)
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	reason := fmt.Sprintf("failed %q rule", fe.Tag())
	if fe.Param() != "" {
		reason = fmt.Sprintf("failed %q rule (%s)", fe.Tag(), fe.Param())
	}
	return domain.NewConfigurationError(field, reason, err)
}

// configHash hashes the normalized configuration so whitespace and key
// order do not defeat the cache.
func configHash(config *Config) (string, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(config); err != nil {
		return "", fmt.Errorf("failed to encode config for hashing: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func (cl *ConfigLoader) cached(hash string) (*LoadedConfig, bool) {
	cl.cacheMu.RLock()
	defer cl.cacheMu.RUnlock()
	loaded, ok := cl.cache[hash]
	return loaded, ok
}

func (cl *ConfigLoader) store(hash string, loaded *LoadedConfig) {
	cl.cacheMu.Lock()
	defer cl.cacheMu.Unlock()
	cl.cache[hash] = loaded
}

// ClearCache forgets every loaded configuration.
func (cl *ConfigLoader) ClearCache() {
	cl.cacheMu.Lock()
	defer cl.cacheMu.Unlock()
	cl.cache = make(map[string]*LoadedConfig)
}
