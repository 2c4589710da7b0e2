// Package expressions provides the two small languages embedded in workflow
// definitions: CEL conditions that gate step execution, and {{...}} variable
// interpolation in step inputs.
package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// ConditionScope is the data visible to a step condition.
type ConditionScope struct {
	Vars  map[string]any // execution variables (includes namespaced step outputs)
	Steps map[string]any // completed step outputs keyed by step ID
	Input map[string]any // the execution's initial input
}

// ConditionEvaluator evaluates step conditions using CEL. The environment is
// sandboxed: only the three scope variables exist, there is no I/O and no
// arbitrary code execution. Compiled programs are cached and reused across
// goroutines.
type ConditionEvaluator struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewConditionEvaluator creates a ConditionEvaluator exposing three top-level
// variables: vars, steps, and input, each a map(string, dyn).
func NewConditionEvaluator() (*ConditionEvaluator, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("vars", mapType),
		cel.Variable("steps", mapType),
		cel.Variable("input", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &ConditionEvaluator{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Evaluate compiles (or retrieves from cache) a condition and evaluates it
// against the scope. The result must be a boolean; anything else is a
// validation error, not a skipped step.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, expression string, scope ConditionScope) (bool, error) {
	if expression == "" {
		return true, nil
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	activation := map[string]any{
		"vars":  orEmpty(scope.Vars),
		"steps": orEmpty(scope.Steps),
		"input": orEmpty(scope.Input),
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"condition evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q evaluated to %T, want bool", expression, out.Value()).
			WithDetails(map[string]any{"expression": expression})
	}
	return result, nil
}

func (e *ConditionEvaluator) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"condition compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"condition program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
