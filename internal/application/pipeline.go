package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

// Pipeline is a sequential execution container. Each stage receives the
// State produced by the previous one, so a round is expressed as
// contest -> judge with the candidates flowing between them.
type Pipeline struct {
	// id identifies the pipeline in error messages.
	id string
	// stages run in the order they were added.
	stages []ports.Unit
	// names tracks stage names for duplicate detection.
	names map[string]struct{}
	mu    sync.RWMutex
}

// NewPipeline creates an empty pipeline.
func NewPipeline(id string) *Pipeline {
	return &Pipeline{
		id:     id,
		stages: make([]ports.Unit, 0, 2),
		names:  make(map[string]struct{}),
	}
}

// ID returns the pipeline identifier.
func (p *Pipeline) ID() string { return p.id }

// Add appends a stage. Stage names must be unique within the pipeline.
func (p *Pipeline) Add(stage ports.Unit) error {
	if stage == nil {
		return fmt.Errorf("cannot add nil stage to pipeline %s", p.id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	name := stage.Name()
	if _, exists := p.names[name]; exists {
		return fmt.Errorf("stage %s already exists in pipeline %s", name, p.id)
	}
	p.stages = append(p.stages, stage)
	p.names[name] = struct{}{}
	return nil
}

// Stages returns a copy of the ordered stages.
func (p *Pipeline) Stages() []ports.Unit {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ports.Unit, len(p.stages))
	copy(out, p.stages)
	return out
}

// Execute runs every stage in order and stops at the first error. The
// State returned alongside an error still carries the usage recorded by
// the failing stage. Cancellation is checked between stages.
func (p *Pipeline) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	current := state
	for _, stage := range p.Stages() {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		next, err := stage.Execute(ctx, current)
		if err != nil {
			return next, fmt.Errorf("pipeline %s: execution failed at %s: %w", p.id, stage.Name(), err)
		}
		current = next
	}
	return current, nil
}

// Validate validates every stage.
func (p *Pipeline) Validate() error {
	stages := p.Stages()
	if len(stages) == 0 {
		return fmt.Errorf("pipeline %s has no stages", p.id)
	}
	for _, stage := range stages {
		if err := stage.Validate(); err != nil {
			return fmt.Errorf("pipeline %s: stage %s: %w", p.id, stage.Name(), err)
		}
	}
	return nil
}
