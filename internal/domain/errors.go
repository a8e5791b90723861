package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain sentinels.
var (
	// ErrInvalidConfiguration is matched by every ConfigurationError.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrIdenticalPersonas rejects a duel whose two contestants are the same persona.
	ErrIdenticalPersonas = errors.New("personas must differ")

	// ErrRoundsOutOfRange rejects a round count outside the configured bounds.
	ErrRoundsOutOfRange = errors.New("round count out of range")

	// ErrUnknownPersona is returned when a persona key is not in the catalog.
	ErrUnknownPersona = errors.New("unknown persona")

	// ErrEmptyDocument rejects a duel without source text.
	ErrEmptyDocument = errors.New("document text is empty")

	// ErrDuelFinished is returned by Duel.Next once every round has been played.
	ErrDuelFinished = errors.New("duel finished")

	// ErrKeyNotFound indicates that a unit could not find a required State key.
	ErrKeyNotFound = errors.New("key not found")
)

// ConfigurationError is fatal and raised before any round runs.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes the cause.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is makes every ConfigurationError match ErrInvalidConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrInvalidConfiguration }

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(field, reason string, err error) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason, Err: err}
}

// ValidationError collects several validation failures for one entity.
type ValidationError struct {
	Entity string
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %s", e.Entity, strings.Join(e.Errors, "; "))
}

// AddError records one failure.
func (e *ValidationError) AddError(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// HasErrors reports whether any failure was recorded.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// Is lets a ValidationError be matched as an invalid configuration.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidConfiguration }

// NewValidationError starts an empty ValidationError.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{Entity: entity, Errors: make([]string, 0)}
}

// BudgetExceededError reports that a duel spent more than its budget.
type BudgetExceededError struct {
	LimitType string
	Limit     int64
	Used      int64
	Unit      string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded in %s: %s used %d of %d", e.Unit, e.LimitType, e.Used, e.Limit)
}

// NewBudgetExceededError creates a BudgetExceededError.
func NewBudgetExceededError(limitType string, limit, used int64, unit string) *BudgetExceededError {
	return &BudgetExceededError{LimitType: limitType, Limit: limit, Used: used, Unit: unit}
}

// TerminationKind names why a duel stopped early.
type TerminationKind string

const (
	// TerminationQuota means the generation backend refused further requests
	// because of rate limiting or exhausted quota.
	TerminationQuota TerminationKind = "quota"
	// TerminationBudget means the duel's own token or call budget ran out.
	TerminationBudget TerminationKind = "budget"
	// TerminationCanceled means the caller canceled the duel.
	TerminationCanceled TerminationKind = "canceled"
)

// DuelTerminatedError is returned when a duel stops before its last round.
// Completed rounds are preserved; Round is the round that could not finish.
type DuelTerminatedError struct {
	Kind  TerminationKind
	Round int
	Err   error
}

func (e *DuelTerminatedError) Error() string {
	return fmt.Sprintf("duel terminated in round %d (%s): %v", e.Round, e.Kind, e.Err)
}

// Unwrap exposes the cause.
func (e *DuelTerminatedError) Unwrap() error { return e.Err }

// Remediation returns a user-facing hint for the termination kind.
func (e *DuelTerminatedError) Remediation() string {
	switch e.Kind {
	case TerminationQuota:
		return "The generation provider rejected the request for rate limit or quota reasons. Check the account's billing and usage limits, then retry."
	case TerminationBudget:
		return "The duel reached its configured token or call budget. Raise budget.max_tokens or budget.max_calls to play more rounds."
	default:
		return ""
	}
}
