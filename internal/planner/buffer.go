// Package planner sizes a run's intake and splits large requests into
// geographic chunks.
package planner

import "math"

// Step maps request sizes up to and including Limit to a buffer multiplier.
type Step struct {
	Limit      int     `mapstructure:"limit" yaml:"limit"`
	Multiplier float64 `mapstructure:"multiplier" yaml:"multiplier"`
}

// DefaultSteps is the production multiplier schedule. Small requests carry
// proportionally more overhead because one lost company dominates.
var DefaultSteps = []Step{
	{Limit: 3, Multiplier: 4.0},
	{Limit: 10, Multiplier: 3.0},
	{Limit: 25, Multiplier: 2.3},
	{Limit: 50, Multiplier: 1.9},
	{Limit: 80, Multiplier: 1.6},
	{Limit: 120, Multiplier: 1.5},
}

// DefaultFallbackMultiplier applies above the last step.
const DefaultFallbackMultiplier = 1.4

// DefaultMaxIntake caps the buffer target of a run.
const DefaultMaxIntake = 500

// BufferPlanner converts a requested quantity into an oversized intake target.
type BufferPlanner struct {
	Steps     []Step
	Fallback  float64
	MaxIntake int
}

// NewBufferPlanner returns a planner using the default schedule and the given
// intake cap.
func NewBufferPlanner(maxIntake int) *BufferPlanner {
	return &BufferPlanner{Steps: DefaultSteps, Fallback: DefaultFallbackMultiplier, MaxIntake: maxIntake}
}

// Multiplier returns the step multiplier for requested.
func (p *BufferPlanner) Multiplier(requested int) float64 {
	requested = max(1, requested)
	steps := p.Steps
	if steps == nil {
		steps = DefaultSteps
	}
	for _, s := range steps {
		if requested <= s.Limit {
			return s.Multiplier
		}
	}
	if p.Fallback > 0 {
		return p.Fallback
	}
	return DefaultFallbackMultiplier
}

// Target returns the buffer target for requested and the multiplier used.
// The target is ceil(requested*multiplier), at least requested+1, and at most
// MaxIntake.
func (p *BufferPlanner) Target(requested int) (int, float64) {
	requested = max(1, requested)
	mult := p.Multiplier(requested)
	// Round before ceil so 5*1.9 lands on 10, not 10.000000000000002.
	raw := math.Round(float64(requested)*mult*1e6) / 1e6
	target := max(requested+1, int(math.Ceil(raw)))
	limit := p.MaxIntake
	if limit <= 0 {
		limit = DefaultMaxIntake
	}
	return min(target, limit), mult
}
