package domain

import (
	"math"
	"slices"
	"strings"
)

// WeightTolerance is the slack allowed when checking that weights sum to 1.
const WeightTolerance = 1e-9

// Score bounds for a single criterion.
const (
	MinScore      = 1
	MaxScore      = 10
	NeutralScore  = 5
	totalDecimals = 100
)

// Criterion is one weighted dimension of the judging rubric.
type Criterion struct {
	Key         string  `json:"key"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// Rubric is the immutable, ordered set of criteria a judge scores against.
type Rubric struct {
	criteria []Criterion
	weights  map[string]float64
}

// NewRubric validates the criteria: keys unique and non-empty, every weight
// in (0,1] and the weights summing to 1 within WeightTolerance.
func NewRubric(criteria []Criterion) (Rubric, error) {
	verr := NewValidationError("rubric")
	if len(criteria) == 0 {
		verr.AddError("at least one criterion is required")
	}

	weights := make(map[string]float64, len(criteria))
	sum := 0.0
	for i, c := range criteria {
		key := strings.TrimSpace(c.Key)
		if key == "" {
			verr.AddError("criterion %d: key is required", i)
			continue
		}
		if _, dup := weights[key]; dup {
			verr.AddError("duplicate criterion %q", key)
		}
		if c.Weight <= 0 || c.Weight > 1 {
			verr.AddError("criterion %q: weight %.4f outside (0,1]", key, c.Weight)
		}
		weights[key] = c.Weight
		sum += c.Weight
	}
	if len(criteria) > 0 && math.Abs(sum-1) > WeightTolerance {
		verr.AddError("weights sum to %.6f, want 1.0", sum)
	}
	if verr.HasErrors() {
		return Rubric{}, verr
	}

	return Rubric{criteria: slices.Clone(criteria), weights: weights}, nil
}

// Criteria returns the criteria in configuration order.
func (r Rubric) Criteria() []Criterion { return slices.Clone(r.criteria) }

// Keys returns the criterion keys in configuration order.
func (r Rubric) Keys() []string {
	keys := make([]string, len(r.criteria))
	for i, c := range r.criteria {
		keys[i] = c.Key
	}
	return keys
}

// Weight returns the weight of a criterion and whether it exists.
func (r Rubric) Weight(key string) (float64, bool) {
	w, ok := r.weights[key]
	return w, ok
}

// WeightSum returns the sum of all weights.
func (r Rubric) WeightSum() float64 {
	sum := 0.0
	for _, c := range r.criteria {
		sum += c.Weight
	}
	return sum
}

// WeightedTotal computes Σ score[c]·weight[c] rounded to two decimals.
// Missing criteria contribute nothing; unknown keys are ignored.
func (r Rubric) WeightedTotal(scores map[string]int) float64 {
	total := 0.0
	for _, c := range r.criteria {
		total += float64(scores[c.Key]) * c.Weight
	}
	return RoundTotal(total)
}

// UniformScores returns a score map with every criterion set to score.
func (r Rubric) UniformScores(score int) map[string]int {
	scores := make(map[string]int, len(r.criteria))
	for _, c := range r.criteria {
		scores[c.Key] = score
	}
	return scores
}

// RoundTotal rounds half away from zero to two decimal places.
func RoundTotal(v float64) float64 {
	return math.Round(v*totalDecimals) / totalDecimals
}
