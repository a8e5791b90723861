// Package units implements the agents of a poetry duel: poets that write
// candidate verses, the judge that scores them, and the contest stage that
// runs both poets of a round concurrently. Every agent also satisfies
// ports.Unit so a round can be executed as a pipeline over domain.State.
package units

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

// Common errors returned when constructing units.
var (
	// ErrEmptyUnitName is returned when attempting to create a unit with an empty name.
	ErrEmptyUnitName = errors.New("unit name cannot be empty")

	// ErrNilClient is returned when a unit is created without an LLM client.
	ErrNilClient = errors.New("LLM client cannot be nil")
)

// Fallback reasons recorded on soft-failed outcomes.
const (
	ReasonTimeout        = "timeout"
	ReasonMissingMarkers = "missing LINE/SOURCE markers"
	ReasonNoJSON         = "no JSON object in response"
	ReasonInvalidJSON    = "invalid JSON"
	ReasonInvalidScores  = "invalid scores"
)

// Package-level validator instance for configuration and response validation.
var validate = validator.New()

// usageClient is implemented by clients that report provider token counts.
type usageClient interface {
	CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (string, int, int, error)
}

// complete calls the client and reports what the call cost. Clients that
// do not report usage are charged an estimate of prompt plus response.
func complete(ctx context.Context, client ports.LLMClient, prompt string, options map[string]any) (string, domain.Usage, error) {
	if uc, ok := client.(usageClient); ok {
		response, in, out, err := uc.CompleteWithUsage(ctx, prompt, options)
		return response, domain.Usage{Tokens: int64(in + out), Calls: 1}, err
	}

	response, err := client.Complete(ctx, prompt, options)
	usage := domain.Usage{Calls: 1}
	if tokens, terr := client.EstimateTokens(prompt + response); terr == nil {
		usage.Tokens = int64(tokens)
	}
	return response, usage, err
}

// timedOut reports whether callCtx expired on its own while parent is still
// live. Only then is a failure a per-call timeout rather than cancellation.
func timedOut(parent, callCtx context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ports.ErrTimeout) ||
		errors.Is(callCtx.Err(), context.DeadlineExceeded)
}
