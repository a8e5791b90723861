package domain

import (
	"slices"
	"strings"
)

// Persona is the fixed identity and voice of a generative agent. Name is
// the display name the judge must use as the winner token.
type Persona struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Title    string `json:"title"`
	Style    string `json:"style"`
	Approach string `json:"approach"`
	Color    string `json:"color,omitempty"`
	Icon     string `json:"icon,omitempty"`
}

// DisplayTitle falls back to Name when no title is configured.
func (p Persona) DisplayTitle() string {
	if p.Title != "" {
		return p.Title
	}
	return p.Name
}

// PersonaCatalog is the immutable set of personas loaded at start-up.
type PersonaCatalog struct {
	personas []Persona
	byKey    map[string]int
}

// NewPersonaCatalog validates and freezes the given personas. At least two
// are required, both keys and names must be unique, and no name may be a
// word the judge uses for ties or slot labels.
func NewPersonaCatalog(personas []Persona) (PersonaCatalog, error) {
	verr := NewValidationError("persona catalog")
	if len(personas) < 2 {
		verr.AddError("at least 2 personas are required, got %d", len(personas))
	}

	byKey := make(map[string]int, len(personas))
	names := make(map[string]string, len(personas))
	for i, p := range personas {
		key := strings.TrimSpace(p.Key)
		name := strings.TrimSpace(p.Name)
		if key == "" {
			verr.AddError("persona %d: key is required", i)
		}
		if name == "" {
			verr.AddError("persona %d: name is required", i)
		}
		if IsReservedName(name) {
			verr.AddError("persona %q: name %q is reserved for judge verdicts", key, name)
		}
		if _, dup := byKey[key]; dup && key != "" {
			verr.AddError("duplicate persona key %q", key)
		}
		folded := strings.ToLower(name)
		if other, dup := names[folded]; dup && name != "" {
			verr.AddError("persona %q reuses the name %q of %q", key, name, other)
		}
		byKey[key] = i
		names[folded] = key
	}
	if verr.HasErrors() {
		return PersonaCatalog{}, verr
	}

	return PersonaCatalog{personas: slices.Clone(personas), byKey: byKey}, nil
}

// Lookup returns the persona registered under key.
func (c PersonaCatalog) Lookup(key string) (Persona, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return Persona{}, false
	}
	return c.personas[i], true
}

// All returns the personas in configuration order.
func (c PersonaCatalog) All() []Persona { return slices.Clone(c.personas) }

// Keys returns the persona keys in configuration order.
func (c PersonaCatalog) Keys() []string {
	keys := make([]string, len(c.personas))
	for i, p := range c.personas {
		keys[i] = p.Key
	}
	return keys
}

// Len returns the number of personas.
func (c PersonaCatalog) Len() int { return len(c.personas) }
