package tools

import (
	"fmt"
	"strings"
)

// ValidationError reports arguments that do not satisfy a tool's schema.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidateParams checks params against a JSON-schema object definition.
// Required fields must be present, declared primitive types must match and
// enums must contain the value. Fields the schema does not declare are dropped.
func ValidateParams(schema map[string]any, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	properties, _ := schema["properties"].(map[string]any)

	for _, field := range requiredFields(schema["required"]) {
		if _, ok := params[field]; !ok {
			return nil, &ValidationError{Field: field, Reason: "missing required parameter"}
		}
	}

	if properties == nil {
		return map[string]any{}, nil
	}

	cleaned := make(map[string]any, len(params))
	for key, value := range params {
		raw, ok := properties[key]
		if !ok {
			continue
		}
		prop, _ := raw.(map[string]any)
		if err := checkType(key, prop, value); err != nil {
			return nil, err
		}
		cleaned[key] = value
	}
	return cleaned, nil
}

func requiredFields(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, f := range r {
			if s, ok := f.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func checkType(key string, prop map[string]any, value any) error {
	if prop == nil || value == nil {
		return nil
	}
	want, _ := prop["type"].(string)

	ok := true
	switch want {
	case "string":
		_, ok = value.(string)
	case "boolean":
		_, ok = value.(bool)
	case "integer":
		switch n := value.(type) {
		case int, int64:
		case float64:
			ok = n == float64(int64(n))
		default:
			ok = false
		}
	case "number":
		switch value.(type) {
		case int, int64, float64:
		default:
			ok = false
		}
	case "array":
		_, ok = value.([]any)
	case "object":
		_, ok = value.(map[string]any)
	}
	if !ok {
		return &ValidationError{Field: key, Reason: fmt.Sprintf("expected %s, got %T", want, value)}
	}

	if enum := enumValues(prop["enum"]); len(enum) > 0 {
		s := fmt.Sprint(value)
		for _, e := range enum {
			if e == s {
				return nil
			}
		}
		return &ValidationError{Field: key, Reason: fmt.Sprintf("must be one of %s", strings.Join(enum, ", "))}
	}
	return nil
}

func enumValues(v any) []string {
	switch e := v.(type) {
	case []string:
		return e
	case []any:
		out := make([]string, 0, len(e))
		for _, x := range e {
			out = append(out, fmt.Sprint(x))
		}
		return out
	}
	return nil
}
