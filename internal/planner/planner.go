// Package planner converts a workflow's dependency graph into an ordered
// sequence of waves: batches of steps with no dependencies on each other,
// safe to execute concurrently.
package planner

import (
	"sort"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// ExecutionPlan is the immutable wave ordering for one execution.
// Every step appears in exactly one wave, and a step's wave index is strictly
// greater than the wave index of every step it depends on.
type ExecutionPlan struct {
	WorkflowID string
	Waves      [][]string
	waveIndex  map[string]int
}

// WaveOf returns the wave index a step was scheduled into, or -1 if the step
// is not part of the plan.
func (p *ExecutionPlan) WaveOf(stepID string) int {
	if idx, ok := p.waveIndex[stepID]; ok {
		return idx
	}
	return -1
}

// StepCount returns the total number of planned steps.
func (p *ExecutionPlan) StepCount() int {
	return len(p.waveIndex)
}

// CreatePlan validates the workflow's dependency graph and computes its
// execution waves. In-degrees are computed per step; all steps with zero
// remaining in-degree form the next wave, then their dependents' in-degrees
// are decremented. If unscheduled steps remain but none has zero in-degree,
// the graph contains a cycle.
//
// Steps within a wave are sorted by ID for stable plan output only; the
// engine treats each wave as an unordered set.
func CreatePlan(def *schema.WorkflowDefinition) (*ExecutionPlan, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	if len(def.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no steps")
	}

	// The map key is the authoritative step ID; an explicit id must match.
	// The definition itself is left untouched.
	for key, step := range def.Steps {
		if step == nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %q is null", key)
		}
		if step.ID != "" && step.ID != key {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"step keyed %q declares mismatched id %q", key, step.ID)
		}
		if step.Type == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s has no type", key).WithStep(key)
		}
	}

	// Build dependency edges and in-degrees, validating references.
	inDegree := make(map[string]int, len(def.Steps))
	dependents := make(map[string][]string, len(def.Steps))
	for id, step := range def.Steps {
		inDegree[id] = 0
		seen := make(map[string]bool, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			if dep == id {
				return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
					"step %s depends on itself", id).WithStep(id)
			}
			if _, ok := def.Steps[dep]; !ok {
				return nil, schema.NewErrorf(schema.ErrCodeUnknownDependency,
					"step %s depends on undefined step %q", id, dep).WithStep(id)
			}
			if seen[dep] {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"step %s has duplicate dependency %q", id, dep).WithStep(id)
			}
			seen[dep] = true
			dependents[dep] = append(dependents[dep], id)
		}
		inDegree[id] = len(step.DependsOn)
	}

	plan := &ExecutionPlan{
		WorkflowID: def.ID,
		waveIndex:  make(map[string]int, len(def.Steps)),
	}

	scheduled := 0
	for scheduled < len(def.Steps) {
		var wave []string
		for id, deg := range inDegree {
			if deg == 0 {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
				"workflow contains a cycle: %d of %d steps unschedulable",
				len(def.Steps)-scheduled, len(def.Steps))
		}
		sort.Strings(wave)

		for _, id := range wave {
			plan.waveIndex[id] = len(plan.Waves)
			delete(inDegree, id)
			for _, dep := range dependents[id] {
				inDegree[dep]--
			}
		}
		plan.Waves = append(plan.Waves, wave)
		scheduled += len(wave)
	}

	return plan, nil
}
