package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// transformInput is the payload shape for "transform" steps.
type transformInput struct {
	Query string          `json:"query"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TransformExecutor runs a jq query over the step's data (or, absent an
// explicit "data" field, over the execution variables). Single-result queries
// return the result directly; multi-result queries return a JSON array.
type TransformExecutor struct{}

func (TransformExecutor) Type() string { return "transform" }

func (TransformExecutor) Execute(ctx context.Context, input json.RawMessage, state ExecutionState) (json.RawMessage, error) {
	var in transformInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"transform step payload must be a JSON object: %s", err.Error())
	}
	if in.Query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "transform step requires a \"query\" field")
	}

	query, err := gojq.Parse(in.Query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid jq query: %s", err.Error())
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "compile jq query: %s", err.Error())
	}

	var data any
	if len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "transform data is not valid JSON: %s", err.Error())
		}
	} else {
		m := make(map[string]any, len(state.Variables()))
		for k, v := range state.Variables() {
			m[k] = v
		}
		data = m
	}

	var results []any
	iter := code.RunWithContext(ctx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "jq evaluation failed: %s", err.Error())
		}
		results = append(results, v)
	}

	var out any
	switch len(results) {
	case 0:
		out = nil
	case 1:
		out = results[0]
	default:
		out = results
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, fmt.Sprintf("marshal jq result: %s", err.Error()))
	}
	return b, nil
}
