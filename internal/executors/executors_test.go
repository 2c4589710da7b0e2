package executors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// fakeState is a minimal ExecutionState for executor tests.
type fakeState struct {
	vars    map[string]any
	input   map[string]any
	results map[string]json.RawMessage
}

func (s *fakeState) ExecutionID() string { return "exec-test" }
func (s *fakeState) WorkflowID() string  { return "wf-test" }
func (s *fakeState) Variables() map[string]any {
	if s.vars == nil {
		return map[string]any{}
	}
	return s.vars
}
func (s *fakeState) Input() map[string]any {
	if s.input == nil {
		return map[string]any{}
	}
	return s.input
}
func (s *fakeState) StepResult(stepID string) (json.RawMessage, bool) {
	out, ok := s.results[stepID]
	return out, ok
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, code, engErr.Code)
}

// --- registry ---

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(InputExecutor{}))

	exec, err := r.Resolve("input")
	require.NoError(t, err)
	assert.Equal(t, "input", exec.Type())
	assert.True(t, r.Has("input"))
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(InputExecutor{}))

	err := r.Register(InputExecutor{})
	assertCode(t, err, schema.ErrCodeConflict)
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(InputExecutor{}))
	require.NoError(t, r.Register(OutputExecutor{}))

	_, err := r.Resolve("nope")
	assertCode(t, err, schema.ErrCodeUnsupportedStep)
	assert.Contains(t, err.Error(), "input")
}

func TestRegistry_TypesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(OutputExecutor{}))
	require.NoError(t, r.Register(InputExecutor{}))
	require.NoError(t, r.Register(TransformExecutor{}))

	assert.Equal(t, []string{"input", "output", "transform"}, r.Types())
}

// --- input / output ---

func TestInputExecutor_SurfacesExecutionInput(t *testing.T) {
	state := &fakeState{input: map[string]any{"message": "hello"}}

	out, err := InputExecutor{}.Execute(context.Background(), nil, state)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"hello"}`, string(out))
}

func TestInputExecutor_PayloadOverridesInput(t *testing.T) {
	state := &fakeState{input: map[string]any{"a": 1, "b": 2}}

	out, err := InputExecutor{}.Execute(context.Background(), json.RawMessage(`{"b": 99}`), state)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":99}`, string(out))
}

func TestOutputExecutor_PassthroughPayload(t *testing.T) {
	out, err := OutputExecutor{}.Execute(context.Background(), json.RawMessage(`{"result":42}`), &fakeState{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":42}`, string(out))
}

func TestOutputExecutor_CollectsVariablesWithoutPayload(t *testing.T) {
	state := &fakeState{vars: map[string]any{"step1": map[string]any{"x": 1}}}

	out, err := OutputExecutor{}.Execute(context.Background(), nil, state)
	require.NoError(t, err)
	assert.JSONEq(t, `{"step1":{"x":1}}`, string(out))
}

// --- transform ---

func TestTransformExecutor_Query(t *testing.T) {
	input := json.RawMessage(`{"query": ".items | length", "data": {"items": [1, 2, 3]}}`)

	out, err := TransformExecutor{}.Execute(context.Background(), input, &fakeState{})
	require.NoError(t, err)
	assert.JSONEq(t, `3`, string(out))
}

func TestTransformExecutor_DefaultsToVariables(t *testing.T) {
	state := &fakeState{vars: map[string]any{"count": float64(7)}}
	input := json.RawMessage(`{"query": ".count * 2"}`)

	out, err := TransformExecutor{}.Execute(context.Background(), input, state)
	require.NoError(t, err)
	assert.JSONEq(t, `14`, string(out))
}

func TestTransformExecutor_MultipleResultsBecomeArray(t *testing.T) {
	input := json.RawMessage(`{"query": ".[] | . + 1", "data": [1, 2]}`)

	out, err := TransformExecutor{}.Execute(context.Background(), input, &fakeState{})
	require.NoError(t, err)
	assert.JSONEq(t, `[2,3]`, string(out))
}

func TestTransformExecutor_MissingQuery(t *testing.T) {
	_, err := TransformExecutor{}.Execute(context.Background(), json.RawMessage(`{}`), &fakeState{})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestTransformExecutor_InvalidQuery(t *testing.T) {
	_, err := TransformExecutor{}.Execute(context.Background(), json.RawMessage(`{"query": ".[invalid"}`), &fakeState{})
	assertCode(t, err, schema.ErrCodeValidation)
}

// --- expr ---

func TestExprExecutor_RegistersAsExpr(t *testing.T) {
	assert.Equal(t, "expr", ExprExecutor{}.Type())
}

func TestExprExecutor_Evaluates(t *testing.T) {
	state := &fakeState{vars: map[string]any{"n": 6}}
	input := json.RawMessage(`{"expression": "vars.n * 7"}`)

	out, err := ExprExecutor{}.Execute(context.Background(), input, state)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":42}`, string(out))
}

func TestExprExecutor_ReadsInput(t *testing.T) {
	state := &fakeState{input: map[string]any{"name": "ada"}}
	input := json.RawMessage(`{"expression": "upper(input.name)"}`)

	out, err := ExprExecutor{}.Execute(context.Background(), input, state)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"ADA"}`, string(out))
}

func TestExprExecutor_MissingExpression(t *testing.T) {
	_, err := ExprExecutor{}.Execute(context.Background(), json.RawMessage(`{}`), &fakeState{})
	assertCode(t, err, schema.ErrCodeValidation)
}

// --- http ---

func TestHTTPExecutor_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.Client())
	input, _ := json.Marshal(map[string]any{"url": srv.URL})

	out, err := exec.Execute(context.Background(), input, &fakeState{})
	require.NoError(t, err)

	var resp httpOutput
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, map[string]any{"ok": true}, resp.Body)
}

func TestHTTPExecutor_PostBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hi", body["msg"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.Client())
	input, _ := json.Marshal(map[string]any{
		"method": "post",
		"url":    srv.URL,
		"body":   map[string]any{"msg": "hi"},
	})

	out, err := exec.Execute(context.Background(), input, &fakeState{})
	require.NoError(t, err)

	var resp httpOutput
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, 201, resp.Status)
}

func TestHTTPExecutor_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.Client())
	input, _ := json.Marshal(map[string]any{"url": srv.URL})

	_, err := exec.Execute(context.Background(), input, &fakeState{})
	require.Error(t, err)

	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.True(t, engErr.IsRetryable())
}

func TestHTTPExecutor_ClientErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.Client())
	input, _ := json.Marshal(map[string]any{"url": srv.URL})

	_, err := exec.Execute(context.Background(), input, &fakeState{})
	require.Error(t, err)

	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.False(t, engErr.IsRetryable())
}

func TestHTTPExecutor_MissingURL(t *testing.T) {
	exec := NewHTTPExecutor(nil)
	_, err := exec.Execute(context.Background(), json.RawMessage(`{"method":"GET"}`), &fakeState{})
	assertCode(t, err, schema.ErrCodeValidation)
}

// --- ai ---

type stubCompletion struct {
	response string
	err      error
	prompt   string
}

func (s *stubCompletion) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	s.prompt = prompt
	return s.response, s.err
}

func TestAIExecutor_DelegatesToClient(t *testing.T) {
	client := &stubCompletion{response: "summary text"}
	exec := NewAIExecutor(client)

	input := json.RawMessage(`{"prompt": "summarize this"}`)
	out, err := exec.Execute(context.Background(), input, &fakeState{})
	require.NoError(t, err)

	assert.JSONEq(t, `{"response":"summary text"}`, string(out))
	assert.Equal(t, "summarize this", client.prompt)
}

func TestAIExecutor_ProviderErrorIsRetryable(t *testing.T) {
	client := &stubCompletion{err: errors.New("rate limited")}
	exec := NewAIExecutor(client)

	_, err := exec.Execute(context.Background(), json.RawMessage(`{"prompt":"x"}`), &fakeState{})
	require.Error(t, err)

	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.True(t, engErr.IsRetryable())
}

func TestAIExecutor_MissingPrompt(t *testing.T) {
	exec := NewAIExecutor(&stubCompletion{})
	_, err := exec.Execute(context.Background(), json.RawMessage(`{}`), &fakeState{})
	assertCode(t, err, schema.ErrCodeValidation)
}
