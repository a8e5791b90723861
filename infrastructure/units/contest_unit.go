package units

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

var _ ports.Unit = (*ContestUnit)(nil)

// PoetLookup returns the poet writing as the persona with the given key.
type PoetLookup func(personaKey string) (ports.Poet, bool)

// ContestUnit asks both poets of the round pairing for a verse at the same
// time. Each poet works from its own copy of the accepted lines. A transport
// failure from either poet cancels the other and fails the unit.
type ContestUnit struct {
	name  string
	poets PoetLookup
}

// NewContestUnit creates a ContestUnit that resolves poets through lookup.
func NewContestUnit(name string, lookup PoetLookup) (*ContestUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if lookup == nil {
		return nil, fmt.Errorf("unit %s: poet lookup cannot be nil", name)
	}
	return &ContestUnit{name: name, poets: lookup}, nil
}

// PoetsByKey builds a PoetLookup over a fixed set of poets.
func PoetsByKey(poets ...ports.Poet) PoetLookup {
	byKey := make(map[string]ports.Poet, len(poets))
	for _, p := range poets {
		byKey[p.Persona().Key] = p
	}
	return func(key string) (ports.Poet, bool) {
		p, ok := byKey[key]
		return p, ok
	}
}

// Name returns the unit identifier.
func (c *ContestUnit) Name() string { return c.name }

// Execute writes the two candidates, in slot order, with their fallback
// flags and the combined usage of both calls.
func (c *ContestUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	document, accepted, round, pairing, err := roundInputs(state)
	if err != nil {
		return state, fmt.Errorf("unit %s: %w", c.name, err)
	}

	slots := [2]domain.Slot{domain.SlotA, domain.SlotB}
	var poets [2]ports.Poet
	for _, slot := range slots {
		key := pairing.At(slot).Key
		p, ok := c.poets(key)
		if !ok {
			return state, fmt.Errorf("unit %s: no poet for persona %q", c.name, key)
		}
		poets[slot] = p
	}

	var (
		candidates = make([]domain.Verse, 2)
		fallbacks  = make([]bool, 2)
		mu         sync.Mutex
		usage      domain.Usage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for _, slot := range slots {
		g.Go(func() error {
			out, err := poets[slot].CreateVerse(gctx, document, slices.Clone(accepted), round)

			mu.Lock()
			usage = usage.Add(out.Usage)
			mu.Unlock()

			if err != nil {
				return fmt.Errorf("slot %s: %w", slot, err)
			}
			candidates[slot] = out.Value
			fallbacks[slot] = out.Fallback
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return state.UpdateBudgetUsage(usage), fmt.Errorf("unit %s: round %d: %w", c.name, round, err)
	}

	next := domain.With(state, domain.KeyCandidates, candidates)
	next = domain.With(next, domain.KeyPoetFallbacks, fallbacks)
	return next.UpdateBudgetUsage(usage), nil
}

// Validate checks the unit is ready to run.
func (c *ContestUnit) Validate() error {
	if c.poets == nil {
		return fmt.Errorf("unit %s: poet lookup is not configured", c.name)
	}
	return nil
}
