package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ahrav/go-versus/infrastructure/units"
	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

const tracerName = "github.com/ahrav/go-versus/orchestrator"

// DuelRequest names the contestants of a duel and its source text.
// A nil Rounds means the configured default; an explicit count, zero
// included, must lie within the configured bounds.
type DuelRequest struct {
	PersonaA string `json:"persona_a"`
	PersonaB string `json:"persona_b"`
	Rounds   *int   `json:"rounds,omitempty"`
	Document string `json:"document"`
}

// Orchestrator validates duel requests and creates duels. It is safe for
// concurrent use; each Duel owns its agents.
type Orchestrator struct {
	loaded    *LoadedConfig
	agents    *AgentFactory
	observers Observers
	logger    *slog.Logger
	newID     func() string
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithObserver adds an observer notified by every duel.
func WithObserver(o ports.DuelObserver) OrchestratorOption {
	return func(orch *Orchestrator) {
		if o != nil {
			orch.observers = append(orch.observers, o)
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(orch *Orchestrator) {
		if l != nil {
			orch.logger = l
		}
	}
}

// WithIDGenerator replaces the UUID duel id generator.
func WithIDGenerator(gen func() string) OrchestratorOption {
	return func(orch *Orchestrator) {
		if gen != nil {
			orch.newID = gen
		}
	}
}

// NewOrchestrator creates an orchestrator over a loaded configuration.
func NewOrchestrator(loaded *LoadedConfig, agents *AgentFactory, opts ...OrchestratorOption) (*Orchestrator, error) {
	if loaded == nil {
		return nil, fmt.Errorf("loaded configuration cannot be nil")
	}
	if agents == nil {
		return nil, fmt.Errorf("agent factory cannot be nil")
	}
	o := &Orchestrator{
		loaded: loaded,
		agents: agents,
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Catalog returns the persona catalog duels are drawn from.
func (o *Orchestrator) Catalog() domain.PersonaCatalog { return o.loaded.Catalog }

// Rubric returns the rubric every judge scores against.
func (o *Orchestrator) Rubric() domain.Rubric { return o.loaded.Rubric }

// DefaultRounds returns the configured default round count.
func (o *Orchestrator) DefaultRounds() int { return o.loaded.Config.Duel.DefaultRounds }

// NewDuel validates req and prepares a duel. No generation call is made
// until Next or Run.
func (o *Orchestrator) NewDuel(req DuelRequest, extra ...ports.DuelObserver) (*Duel, error) {
	pairing, rounds, err := o.validate(req)
	if err != nil {
		return nil, err
	}

	poetA, err := o.agents.NewPoet(pairing.A)
	if err != nil {
		return nil, fmt.Errorf("failed to create poet %s: %w", pairing.A.Key, err)
	}
	poetB, err := o.agents.NewPoet(pairing.B)
	if err != nil {
		return nil, fmt.Errorf("failed to create poet %s: %w", pairing.B.Key, err)
	}
	judge, err := o.agents.NewJudge()
	if err != nil {
		return nil, fmt.Errorf("failed to create judge: %w", err)
	}

	id := o.newID()
	pipeline, err := o.agents.NewRoundPipeline("duel-"+id, units.PoetsByKey(poetA, poetB), judge)
	if err != nil {
		return nil, err
	}
	if err := pipeline.Validate(); err != nil {
		return nil, domain.NewConfigurationError("pipeline", "round stages are not ready", err)
	}

	observers := append(Observers{}, o.observers...)
	for _, obs := range extra {
		if obs != nil {
			observers = append(observers, obs)
		}
	}

	return &Duel{
		id:        id,
		personas:  pairing,
		rounds:    rounds,
		document:  req.Document,
		alternate: o.loaded.Config.Duel.Pairing == PairingAlternate,
		poets:     [2]*units.PoetUnit{poetA, poetB},
		judge:     judge,
		pipeline:  pipeline,
		observers: observers,
		logger:    o.logger.With("duel_id", id),
		status:    domain.DuelRunning,
	}, nil
}

func (o *Orchestrator) validate(req DuelRequest) (domain.Pairing, int, error) {
	a, ok := o.loaded.Catalog.Lookup(req.PersonaA)
	if !ok {
		return domain.Pairing{}, 0, domain.NewConfigurationError("persona_a", fmt.Sprintf("%q", req.PersonaA), domain.ErrUnknownPersona)
	}
	b, ok := o.loaded.Catalog.Lookup(req.PersonaB)
	if !ok {
		return domain.Pairing{}, 0, domain.NewConfigurationError("persona_b", fmt.Sprintf("%q", req.PersonaB), domain.ErrUnknownPersona)
	}
	if a.Key == b.Key {
		return domain.Pairing{}, 0, domain.NewConfigurationError("persona_b", fmt.Sprintf("both slots are %q", a.Key), domain.ErrIdenticalPersonas)
	}

	duel := o.loaded.Config.Duel
	rounds := duel.DefaultRounds
	if req.Rounds != nil {
		rounds = *req.Rounds
	}
	if rounds < duel.MinRounds || rounds > duel.MaxRounds {
		return domain.Pairing{}, 0, domain.NewConfigurationError("rounds",
			fmt.Sprintf("%d is outside [%d, %d]", rounds, duel.MinRounds, duel.MaxRounds), domain.ErrRoundsOutOfRange)
	}

	if strings.TrimSpace(req.Document) == "" {
		return domain.Pairing{}, 0, domain.NewConfigurationError("document", "", domain.ErrEmptyDocument)
	}
	return domain.Pairing{A: a, B: b}, rounds, nil
}

// Duel is one poetry duel between two personas. Next plays one round at a
// time; Snapshot may be called concurrently with it.
type Duel struct {
	id        string
	personas  domain.Pairing
	rounds    int
	document  string
	alternate bool
	poets     [2]*units.PoetUnit
	judge     *units.JudgeUnit
	pipeline  *Pipeline
	observers Observers
	logger    *slog.Logger

	// runMu serializes rounds.
	runMu sync.Mutex

	mu        sync.RWMutex
	poem      domain.PoemState
	attempted int
	usage     domain.Usage
	status    domain.DuelStatus
	reason    string
}

// ID returns the duel identifier.
func (d *Duel) ID() string { return d.id }

// Personas returns the contestants as requested, A first.
func (d *Duel) Personas() domain.Pairing { return d.personas }

// Rounds returns the requested number of rounds.
func (d *Duel) Rounds() int { return d.rounds }

// Usage returns the tokens and calls spent so far.
func (d *Duel) Usage() domain.Usage {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.usage
}

// Poets returns the two poets, A first.
func (d *Duel) Poets() [2]*units.PoetUnit { return d.poets }

// PairingFor returns the slot assignment of a 1-based round. Under the
// alternate policy the contestants swap slots on even rounds.
func (d *Duel) PairingFor(round int) domain.Pairing {
	if d.alternate && round%2 == 0 {
		return d.personas.Swapped()
	}
	return d.personas
}

// Next plays the next round and returns its report.
//
// A rate limit, exhausted quota or exhausted budget ends the duel with a
// *domain.DuelTerminatedError, keeping every completed round. Cancellation
// ends it the same way with kind canceled. Any other failure skips the
// round: nothing is appended and the duel continues. Once every round has
// been attempted, or the duel was terminated, Next returns
// domain.ErrDuelFinished without calling any agent.
func (d *Duel) Next(ctx context.Context) (domain.RoundReport, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.mu.RLock()
	round := d.attempted + 1
	done := d.status != domain.DuelRunning || d.attempted >= d.rounds
	lines := d.poem.Lines()
	usage := d.usage
	d.mu.RUnlock()
	if done {
		return domain.RoundReport{}, domain.ErrDuelFinished
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "Duel.Round")
	defer span.End()
	span.SetAttributes(
		attribute.String("duel.id", d.id),
		attribute.Int("duel.round", round),
	)

	pairing := d.PairingFor(round)
	state := domain.NewRoundState(domain.RoundContext{
		DuelID:        d.id,
		Round:         round,
		Document:      d.document,
		AcceptedLines: lines,
		Pairing:       pairing,
		Usage:         usage,
	})

	start := time.Now()
	result, err := d.pipeline.Execute(ctx, state)
	elapsed := time.Since(start)

	report := domain.RoundReport{Round: round, Pairing: pairing}
	if candidates, ok := domain.Get(result, domain.KeyCandidates); ok {
		report.Candidates = candidates
	}
	if fallbacks, ok := domain.Get(result, domain.KeyPoetFallbacks); ok {
		report.PoetFallbacks = fallbacks
	}

	if err != nil {
		span.RecordError(err)
		if term := d.classify(ctx, round, err); term != nil {
			span.SetStatus(codes.Error, string(term.Kind))
			return d.terminate(ctx, report, result, term)
		}
		span.SetStatus(codes.Error, "round skipped")
		d.logger.WarnContext(ctx, "round skipped", "round", round, "error", err, "elapsed", elapsed)
		report.Status = domain.RoundSkipped
		report.Cause = err
		return d.finishRound(ctx, report, result), nil
	}

	judgment, ok := domain.Get(result, domain.KeyJudgment)
	if !ok || judgment == nil || len(report.Candidates) != 2 {
		err := fmt.Errorf("round %d: %w: judgment or candidates missing", round, domain.ErrKeyNotFound)
		d.logger.WarnContext(ctx, "round skipped", "round", round, "error", err)
		report.Status = domain.RoundSkipped
		report.Cause = err
		return d.finishRound(ctx, report, result), nil
	}
	report.JudgeFallback, _ = domain.Get(result, domain.KeyJudgeFallback)

	slot := judgment.AcceptedSlot()
	verse := report.Candidates[slot]
	report.Status = domain.RoundAccepted
	report.Accepted = &verse
	report.Judgment = judgment

	d.mu.Lock()
	d.poem.Append(verse, *judgment)
	d.mu.Unlock()
	d.judge.Record(*judgment)

	span.SetAttributes(
		attribute.String("duel.winner", verse.Author.Name),
		attribute.Float64("duel.total_a", judgment.TotalA),
		attribute.Float64("duel.total_b", judgment.TotalB),
	)
	span.SetStatus(codes.Ok, "")
	d.logger.InfoContext(ctx, "round accepted",
		"round", round,
		"winner", verse.Author.Name,
		"slot", slot.String(),
		"total_a", judgment.TotalA,
		"total_b", judgment.TotalB,
		"judge_fallback", report.JudgeFallback,
		"elapsed", elapsed,
	)
	return d.finishRound(ctx, report, result), nil
}

// classify returns the termination for err, or nil when the round should
// merely be skipped.
func (d *Duel) classify(ctx context.Context, round int, err error) *domain.DuelTerminatedError {
	var budgetErr *domain.BudgetExceededError
	switch {
	case ctx.Err() != nil:
		return &domain.DuelTerminatedError{Kind: domain.TerminationCanceled, Round: round, Err: ctx.Err()}
	case errors.As(err, &budgetErr):
		return &domain.DuelTerminatedError{Kind: domain.TerminationBudget, Round: round, Err: err}
	case ports.IsQuotaExhaustion(err):
		return &domain.DuelTerminatedError{Kind: domain.TerminationQuota, Round: round, Err: err}
	}
	return nil
}

// finishRound records usage, notifies observers and completes the duel
// after its last round.
func (d *Duel) finishRound(ctx context.Context, report domain.RoundReport, result domain.State) domain.RoundReport {
	d.mu.Lock()
	d.attempted++
	d.usage = maxUsage(d.usage, result.GetBudgetUsage())
	last := d.attempted >= d.rounds
	if last {
		d.status = domain.DuelCompleted
	}
	snapshot := d.snapshotLocked()
	d.mu.Unlock()

	d.observers.RoundCompleted(ctx, report, snapshot)
	if last {
		d.logger.InfoContext(ctx, "duel completed", "rounds", snapshot.RoundsAttempted, "verses", len(snapshot.Verses))
		d.observers.DuelFinished(ctx, snapshot, nil)
	}
	return report
}

func (d *Duel) terminate(ctx context.Context, report domain.RoundReport, result domain.State, term *domain.DuelTerminatedError) (domain.RoundReport, error) {
	report.Status = domain.RoundSkipped
	report.Cause = term

	d.mu.Lock()
	d.attempted++
	d.usage = maxUsage(d.usage, result.GetBudgetUsage())
	d.status = domain.DuelTerminated
	d.reason = term.Error()
	snapshot := d.snapshotLocked()
	d.mu.Unlock()

	d.logger.ErrorContext(ctx, "duel terminated",
		"round", term.Round,
		"kind", string(term.Kind),
		"kept_rounds", len(snapshot.Verses),
		"error", term.Err,
	)
	// Observers may outlive a canceled request context.
	d.observers.DuelFinished(context.WithoutCancel(ctx), snapshot, term)
	return report, term
}

// maxUsage keeps the larger of each counter. A stage that fails before
// recording usage returns the seed State, so usage never goes backwards.
func maxUsage(a, b domain.Usage) domain.Usage {
	return domain.Usage{Tokens: max(a.Tokens, b.Tokens), Calls: max(a.Calls, b.Calls)}
}

// Run plays the remaining rounds and returns the final snapshot. The error
// is nil when every round was attempted.
func (d *Duel) Run(ctx context.Context) (domain.Snapshot, error) {
	for {
		_, err := d.Next(ctx)
		if errors.Is(err, domain.ErrDuelFinished) {
			return d.Snapshot(), nil
		}
		if err != nil {
			return d.Snapshot(), err
		}
	}
}

// Snapshot returns a consistent copy of the duel so far.
func (d *Duel) Snapshot() domain.Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshotLocked()
}

func (d *Duel) snapshotLocked() domain.Snapshot {
	judgments := d.poem.Judgments()
	return domain.Snapshot{
		DuelID:            d.id,
		PersonaA:          d.personas.A,
		PersonaB:          d.personas.B,
		RequestedRounds:   d.rounds,
		RoundsAttempted:   d.attempted,
		Verses:            d.poem.Verses(),
		Judgments:         judgments,
		Statistics:        domain.ComputeStatistics(judgments),
		Status:            d.status,
		TerminationReason: d.reason,
	}
}

// Statistics summarizes the judgments of accepted rounds. It is nil before
// the first accepted round.
func (d *Duel) Statistics() *domain.DuelStatistics {
	return d.judge.Statistics()
}
