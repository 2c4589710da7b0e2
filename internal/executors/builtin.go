package executors

import (
	"context"
	"encoding/json"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// InputExecutor handles "input" steps: it surfaces the execution's initial
// input (optionally merged with the step's own payload) as a step output so
// dependents can reference it by step ID.
type InputExecutor struct{}

func (InputExecutor) Type() string { return "input" }

func (InputExecutor) Execute(ctx context.Context, input json.RawMessage, state ExecutionState) (json.RawMessage, error) {
	out := make(map[string]any, len(state.Input()))
	for k, v := range state.Input() {
		out[k] = v
	}
	if len(input) > 0 {
		var extra map[string]any
		if err := json.Unmarshal(input, &extra); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"input step payload must be a JSON object: %s", err.Error())
		}
		for k, v := range extra {
			out[k] = v
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "marshal input step output: %s", err.Error())
	}
	return b, nil
}

// OutputExecutor handles "output" steps: its interpolated payload becomes the
// step output, which the engine treats as the workflow's output data. With no
// payload it collects every completed step's result.
type OutputExecutor struct{}

func (OutputExecutor) Type() string { return "output" }

func (OutputExecutor) Execute(ctx context.Context, input json.RawMessage, state ExecutionState) (json.RawMessage, error) {
	if len(input) > 0 {
		return input, nil
	}
	out := make(map[string]any)
	vars := state.Variables()
	for k, v := range vars {
		out[k] = v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "marshal output step result: %s", err.Error())
	}
	return b, nil
}
