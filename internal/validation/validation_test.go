package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

func newValidator(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func validDef() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:   "wf",
		Name: "Test",
		Steps: map[string]*schema.StepSpec{
			"fetch": {Type: "http", Input: json.RawMessage(`{"url":"https://example.com"}`)},
			"shape": {Type: "transform", DependsOn: []string{"fetch"}},
		},
	}
}

func assertValidationCode(t *testing.T, err error, code string) {
	t.Helper()
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, code, engErr.Code)
}

func TestValidateDefinition_Valid(t *testing.T) {
	v := newValidator(t)
	assert.NoError(t, v.ValidateDefinition(validDef()))
}

func TestValidateDefinition_Nil(t *testing.T) {
	v := newValidator(t)
	assertValidationCode(t, v.ValidateDefinition(nil), schema.ErrCodeValidation)
}

func TestValidateDefinition_NoSteps(t *testing.T) {
	v := newValidator(t)
	def := &schema.WorkflowDefinition{ID: "wf", Steps: map[string]*schema.StepSpec{}}
	assertValidationCode(t, v.ValidateDefinition(def), schema.ErrCodeValidation)
}

func TestValidateDefinition_MissingStepType(t *testing.T) {
	v := newValidator(t)
	def := &schema.WorkflowDefinition{
		ID:    "wf",
		Steps: map[string]*schema.StepSpec{"a": {}},
	}
	assertValidationCode(t, v.ValidateDefinition(def), schema.ErrCodeValidation)
}

func TestValidateDefinition_BadTimeout(t *testing.T) {
	v := newValidator(t)
	def := validDef()
	def.Timeout = "five minutes"
	assertValidationCode(t, v.ValidateDefinition(def), schema.ErrCodeValidation)
}

func TestValidateDefinition_MismatchedID(t *testing.T) {
	v := newValidator(t)
	def := &schema.WorkflowDefinition{
		ID: "wf",
		Steps: map[string]*schema.StepSpec{
			"a": {ID: "not-a", Type: "http"},
		},
	}
	assertValidationCode(t, v.ValidateDefinition(def), schema.ErrCodeValidation)
}

func TestValidateDefinition_UnknownDependency(t *testing.T) {
	v := newValidator(t)
	def := &schema.WorkflowDefinition{
		ID: "wf",
		Steps: map[string]*schema.StepSpec{
			"a": {Type: "http", DependsOn: []string{"missing"}},
		},
	}
	assertValidationCode(t, v.ValidateDefinition(def), schema.ErrCodeUnknownDependency)
}

func TestValidateDefinition_SelfDependency(t *testing.T) {
	v := newValidator(t)
	def := &schema.WorkflowDefinition{
		ID: "wf",
		Steps: map[string]*schema.StepSpec{
			"a": {Type: "http", DependsOn: []string{"a"}},
		},
	}
	assertValidationCode(t, v.ValidateDefinition(def), schema.ErrCodeCycleDetected)
}

func TestValidateDefinition_BadRetryDelay(t *testing.T) {
	v := newValidator(t)
	def := &schema.WorkflowDefinition{
		ID: "wf",
		Steps: map[string]*schema.StepSpec{
			"a": {Type: "http", Retry: &schema.RetryPolicy{BaseDelay: "soon"}},
		},
	}
	assertValidationCode(t, v.ValidateDefinition(def), schema.ErrCodeValidation)
}

func TestValidateDefinition_ConflictingErrorKinds(t *testing.T) {
	v := newValidator(t)
	def := &schema.WorkflowDefinition{
		ID: "wf",
		Steps: map[string]*schema.StepSpec{
			"a": {Type: "http", Retry: &schema.RetryPolicy{
				RetryableKinds:    []string{"STEP_FAILED"},
				NonRetryableKinds: []string{"STEP_FAILED"},
			}},
		},
	}
	assertValidationCode(t, v.ValidateDefinition(def), schema.ErrCodeValidation)
}

func TestValidateDefinition_CompensationRequiresType(t *testing.T) {
	v := newValidator(t)
	def := &schema.WorkflowDefinition{
		ID: "wf",
		Steps: map[string]*schema.StepSpec{
			"a": {Type: "http", Compensation: &schema.CompensationSpec{}},
		},
	}
	assertValidationCode(t, v.ValidateDefinition(def), schema.ErrCodeValidation)
}

func TestValidateInput_NoSchemaIsNoop(t *testing.T) {
	v := newValidator(t)
	assert.NoError(t, v.ValidateInput(map[string]any{"anything": true}, nil))
}

func TestValidateInput_SchemaEnforced(t *testing.T) {
	v := newValidator(t)
	inputSchema := []byte(`{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string"}}
	}`)

	assert.NoError(t, v.ValidateInput(map[string]any{"name": "ok"}, inputSchema))

	err := v.ValidateInput(map[string]any{}, inputSchema)
	assertValidationCode(t, err, schema.ErrCodeValidation)
}

func TestValidateInput_CachesCompiledSchemas(t *testing.T) {
	v := newValidator(t)
	inputSchema := []byte(`{"type": "object"}`)

	require.NoError(t, v.ValidateInput(map[string]any{}, inputSchema))
	require.NoError(t, v.ValidateInput(map[string]any{}, inputSchema))

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}
