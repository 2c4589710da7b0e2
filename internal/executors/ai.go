package executors

import (
	"context"
	"encoding/json"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// CompletionClient abstracts the model backend used by ai_process steps.
// Implementations wrap whatever provider the deployment talks to; tests
// supply a stub.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)
}

type aiInput struct {
	Prompt  string         `json:"prompt"`
	Options map[string]any `json:"options,omitempty"`
}

// AIExecutor handles "ai_process" steps by delegating the interpolated prompt
// to a CompletionClient. Provider failures are retryable; a missing prompt is
// a definition error.
type AIExecutor struct {
	client CompletionClient
}

func NewAIExecutor(client CompletionClient) *AIExecutor {
	return &AIExecutor{client: client}
}

func (e *AIExecutor) Type() string { return "ai_process" }

func (e *AIExecutor) Execute(ctx context.Context, input json.RawMessage, state ExecutionState) (json.RawMessage, error) {
	var in aiInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"ai_process step payload must be a JSON object: %s", err.Error())
	}
	if in.Prompt == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "ai_process step requires a \"prompt\" field")
	}

	text, err := e.client.Complete(ctx, in.Prompt, in.Options)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "completion request failed: %s", err.Error()).
			WithRetryable(true).
			WithCause(err)
	}

	b, err := json.Marshal(map[string]any{"response": text})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "marshal completion result: %s", err.Error())
	}
	return b, nil
}
