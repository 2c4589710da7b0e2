package validation

import (
	"time"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// validateSemantics applies the rules JSON Schema cannot express: ID
// consistency between map key and declared id, dependency references, and
// parseable durations. Graph-shape errors (cycles) are the planner's job.
func validateSemantics(def *schema.WorkflowDefinition) error {
	if def.Timeout != "" {
		if _, err := time.ParseDuration(def.Timeout); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"workflow timeout %q is not a valid duration", def.Timeout)
		}
	}

	for key, step := range def.Steps {
		if step == nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "step %q is null", key)
		}
		if step.ID != "" && step.ID != key {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"step keyed %q declares mismatched id %q", key, step.ID)
		}
		if step.Timeout != "" {
			if _, err := time.ParseDuration(step.Timeout); err != nil {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %s timeout %q is not a valid duration", key, step.Timeout).WithStep(key)
			}
		}
		if step.Retry != nil {
			if err := validateRetryPolicy(key, step.Retry); err != nil {
				return err
			}
		}

		seen := make(map[string]bool, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			if dep == key {
				return schema.NewErrorf(schema.ErrCodeCycleDetected,
					"step %s depends on itself", key).WithStep(key)
			}
			if _, ok := def.Steps[dep]; !ok {
				return schema.NewErrorf(schema.ErrCodeUnknownDependency,
					"step %s depends on undefined step %q", key, dep).WithStep(key)
			}
			if seen[dep] {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %s has duplicate dependency %q", key, dep).WithStep(key)
			}
			seen[dep] = true
		}
	}
	return nil
}

func validateRetryPolicy(stepID string, policy *schema.RetryPolicy) error {
	if policy.BaseDelay != "" {
		if _, err := time.ParseDuration(policy.BaseDelay); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"step %s retry base_delay %q is not a valid duration", stepID, policy.BaseDelay).WithStep(stepID)
		}
	}
	if policy.MaxDelay != "" {
		if _, err := time.ParseDuration(policy.MaxDelay); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"step %s retry max_delay %q is not a valid duration", stepID, policy.MaxDelay).WithStep(stepID)
		}
	}
	for _, kind := range policy.NonRetryableKinds {
		for _, allow := range policy.RetryableKinds {
			if kind == allow {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %s lists error kind %q as both retryable and non-retryable", stepID, kind).WithStep(stepID)
			}
		}
	}
	return nil
}
