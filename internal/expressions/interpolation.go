package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// Interpolate resolves {{...}} placeholders in raw step input against the
// execution variables before the executor is invoked. References use dotted
// paths into the variable map (e.g. {{fetch.body.url}} reads the namespaced
// output of step "fetch"). A reference to an absent key fails fast with
// MISSING_VARIABLE rather than substituting an empty string.
func Interpolate(raw json.RawMessage, vars map[string]any) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}

	input := string(raw)
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "{{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + 2

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeValidation, "unclosed {{ placeholder")
		}
		end += start

		ref := strings.TrimSpace(input[start:end])
		if ref == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "empty placeholder: {{ }}")
		}
		if strings.Contains(ref, "{{") {
			return nil, schema.NewError(schema.ErrCodeValidation,
				"nested placeholders are not allowed")
		}

		val, err := resolvePath(vars, ref)
		if err != nil {
			return nil, err
		}
		result.WriteString(marshalInline(val))

		i = end + 2
	}

	return json.RawMessage(result.String()), nil
}

// HasPlaceholders checks whether a JSON blob contains any {{...}} references.
func HasPlaceholders(raw json.RawMessage) bool {
	return strings.Contains(string(raw), "{{")
}

// resolvePath navigates a dotted path through nested maps, starting from the
// variable bindings.
func resolvePath(vars map[string]any, ref string) (any, error) {
	if vars == nil {
		return nil, missingVarErr(ref, ref, nil)
	}

	// Direct key lookup first, so keys containing dots still resolve.
	if val, ok := vars[ref]; ok {
		return val, nil
	}

	segments := strings.Split(ref, ".")
	var current any = vars
	for i, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"empty segment in placeholder {{%s}}", ref)
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeMissingVariable,
				"cannot traverse into non-object at %q in {{%s}} (type %T)", seg, ref, current)
		}
		val, ok := obj[seg]
		if !ok {
			if i == 0 {
				return nil, missingVarErr(ref, seg, vars)
			}
			return nil, missingVarErr(ref, seg, obj)
		}
		current = val
	}
	return current, nil
}

func missingVarErr(ref, key string, scope map[string]any) *schema.EngineError {
	available := sortedKeys(scope)
	return schema.NewErrorf(schema.ErrCodeMissingVariable,
		"variable %q not found in {{%s}}; available: [%s]", key, ref, strings.Join(available, ", ")).
		WithDetails(map[string]any{"reference": ref, "available": available})
}

// marshalInline converts a resolved value into its inline JSON representation.
// Strings are embedded without surrounding quotes so "{{name}}" inside a JSON
// string stays a string fragment, but their content is JSON-escaped: a value
// holding quotes or newlines must not corrupt the surrounding document.
// Complex values are JSON-encoded inline.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return string(b[1 : len(b)-1])
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func sortedKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
