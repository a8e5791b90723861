package application

import (
	"fmt"
	"log/slog"

	"github.com/ahrav/go-versus/infrastructure/middleware"
	"github.com/ahrav/go-versus/infrastructure/units"
	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

// Stage names used in round pipelines, logs and budget errors.
const (
	StageContest = "contest"
	StageJudge   = "judge"
)

// AgentFactory creates the agents of a duel. Poets and judges are built
// fresh for every duel so their histories and judgment logs stay per duel.
// The shared LLM client is the only state the factory holds.
type AgentFactory struct {
	client         ports.LLMClient
	rubric         domain.Rubric
	poetConfig     units.PoetConfig
	judgeConfig    JudgeConfig
	budget         middleware.Budget
	budgetObserver middleware.BudgetObserver
	logger         *slog.Logger
}

// NewAgentFactory returns a factory using the given client for every agent.
// observer and logger may be nil.
func NewAgentFactory(client ports.LLMClient, loaded *LoadedConfig, observer middleware.BudgetObserver, logger *slog.Logger) (*AgentFactory, error) {
	if client == nil {
		return nil, units.ErrNilClient
	}
	if loaded == nil {
		return nil, fmt.Errorf("loaded configuration cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentFactory{
		client:      client,
		rubric:      loaded.Rubric,
		poetConfig:  loaded.Config.Poet,
		judgeConfig: loaded.Config.Judge,
		budget: middleware.Budget{
			MaxTokens: loaded.Config.Budget.MaxTokens,
			MaxCalls:  loaded.Config.Budget.MaxCalls,
		},
		budgetObserver: observer,
		logger:         logger,
	}, nil
}

// Budget returns the limits applied to every duel.
func (f *AgentFactory) Budget() middleware.Budget { return f.budget }

// NewPoet creates a poet writing as persona.
func (f *AgentFactory) NewPoet(persona domain.Persona) (*units.PoetUnit, error) {
	return units.NewPoetUnit("poet-"+persona.Key, persona, f.client, f.poetConfig, f.logger)
}

// NewJudge creates a judge with an empty log.
func (f *AgentFactory) NewJudge() (*units.JudgeUnit, error) {
	return units.NewJudgeUnit(StageJudge, f.rubric, f.client, f.judgeConfig.JudgeConfig, f.logger)
}

// NewRoundPipeline assembles contest -> judge. Both stages are wrapped in
// the duel budget and the judge optionally in position swapping.
func (f *AgentFactory) NewRoundPipeline(id string, poets units.PoetLookup, judge ports.Unit) (*Pipeline, error) {
	contest, err := units.NewContestUnit(StageContest, poets)
	if err != nil {
		return nil, fmt.Errorf("failed to create contest stage: %w", err)
	}

	judgeStage := judge
	if f.judgeConfig.PositionSwap {
		judgeStage = middleware.NewPositionSwapMiddleware(judge, f.rubric)
	}

	wrap := middleware.WrapUnit(f.budget, f.budgetObserver)
	pipeline := NewPipeline(id)
	for _, stage := range []ports.Unit{wrap(contest), wrap(judgeStage)} {
		if err := pipeline.Add(stage); err != nil {
			return nil, err
		}
	}
	return pipeline, nil
}
