// Package middleware provides cross-cutting concerns for duel rounds.
// It wraps round stages to enforce the duel budget and exports metrics
// without touching the stages themselves.
package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

var _ ports.Unit = (*BudgetManager)(nil)

// Budget defines resource consumption limits for a whole duel.
type Budget struct {
	// MaxTokens limits the total number of tokens a duel can consume.
	// Zero means unlimited token usage.
	MaxTokens int64

	// MaxCalls limits the total number of generation calls a duel can make.
	// Zero means unlimited calls.
	MaxCalls int64
}

// Unlimited reports whether neither limit is set.
func (b Budget) Unlimited() bool { return b.MaxTokens == 0 && b.MaxCalls == 0 }

// BudgetObserver provides observability hooks for budget checks.
type BudgetObserver interface {
	// PreCheck is called before the wrapped stage runs. The returned context
	// is passed to the stage and to PostCheck.
	PreCheck(ctx context.Context, usage domain.Usage, budget Budget) context.Context

	// PostCheck is called after the stage with its usage, timing and error.
	PostCheck(ctx context.Context, usage domain.Usage, budget Budget, elapsed time.Duration, err error)
}

// BudgetManager enforces token and call limits around one round stage. It
// reads the duel's cumulative usage from State, so it holds no mutable
// state and can be shared by concurrent duels.
type BudgetManager struct {
	budget   Budget
	next     ports.Unit
	observer BudgetObserver
}

// NewBudgetManager wraps next with budget enforcement. observer may be nil.
func NewBudgetManager(budget Budget, next ports.Unit, observer BudgetObserver) *BudgetManager {
	if next == nil {
		panic("budget manager: next unit is required")
	}
	return &BudgetManager{
		budget:   budget,
		next:     next,
		observer: observer,
	}
}

// WrapUnit returns a function that decorates units with the same budget.
func WrapUnit(budget Budget, observer BudgetObserver) func(ports.Unit) ports.Unit {
	return func(u ports.Unit) ports.Unit {
		return NewBudgetManager(budget, u, observer)
	}
}

// Name reports the wrapped unit's name so logs and errors point at the stage.
func (bm *BudgetManager) Name() string { return bm.next.Name() }

// Execute refuses to start a stage once the budget is spent. A stage that
// was allowed to start keeps its results even when it overspends; the
// overrun is charged to the state and the following stage is refused.
func (bm *BudgetManager) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	usage := state.GetBudgetUsage()
	if err := bm.checkBudgetLimits(usage); err != nil {
		return state, err
	}

	if bm.observer != nil {
		ctx = bm.observer.PreCheck(ctx, usage, bm.budget)
	}

	start := time.Now()
	newState, err := bm.next.Execute(ctx, state)
	elapsed := time.Since(start)

	finalUsage := newState.GetBudgetUsage()
	if bm.observer != nil {
		bm.observer.PostCheck(ctx, finalUsage, bm.budget, elapsed, err)
	}
	return newState, err
}

// Validate checks the limits and the wrapped unit.
func (bm *BudgetManager) Validate() error {
	if bm.budget.MaxTokens < 0 {
		return fmt.Errorf("budget manager: max_tokens cannot be negative, got %d", bm.budget.MaxTokens)
	}
	if bm.budget.MaxCalls < 0 {
		return fmt.Errorf("budget manager: max_calls cannot be negative, got %d", bm.budget.MaxCalls)
	}
	return bm.next.Validate()
}

// checkBudgetLimits returns a BudgetExceededError once usage has reached a
// limit: the stage would need at least one more call.
func (bm *BudgetManager) checkBudgetLimits(usage domain.Usage) error {
	over := func(used, limit int64) bool {
		return limit > 0 && used >= limit
	}

	if over(usage.Tokens, bm.budget.MaxTokens) {
		return domain.NewBudgetExceededError("tokens", bm.budget.MaxTokens, usage.Tokens, bm.next.Name())
	}
	if over(usage.Calls, bm.budget.MaxCalls) {
		return domain.NewBudgetExceededError("calls", bm.budget.MaxCalls, usage.Calls, bm.next.Name())
	}
	return nil
}
