package executors

import (
	"context"
	"encoding/json"

	"github.com/expr-lang/expr"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

type exprInput struct {
	Expression string `json:"expression"`
}

// ExprExecutor evaluates an expr-lang expression against the execution
// variables and initial input. Useful for small computations between steps
// where a full transform is overkill.
type ExprExecutor struct{}

func (ExprExecutor) Type() string { return "expr" }

func (ExprExecutor) Execute(ctx context.Context, input json.RawMessage, state ExecutionState) (json.RawMessage, error) {
	var in exprInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr step payload must be a JSON object: %s", err.Error())
	}
	if in.Expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "expr step requires an \"expression\" field")
	}

	env := map[string]any{
		"vars":  state.Variables(),
		"input": state.Input(),
	}
	program, err := expr.Compile(in.Expression, expr.Env(env))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid expression: %s", err.Error())
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "expression evaluation failed: %s", err.Error())
	}

	b, err := json.Marshal(map[string]any{"result": result})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "marshal expression result: %s", err.Error())
	}
	return b, nil
}
