package tool

import (
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validate checks tool arguments against a JSON schema and returns
// human-readable problems. An empty slice means the arguments are
// valid. Only the schema keywords the built-in tools use are checked:
// type, enum, required, properties, items, minimum, maximum,
// minLength, maxLength.
func Validate(args map[string]any, schema *jsonschema.Schema) []string {
	if schema == nil {
		return nil
	}
	return validateValue(args, schema, "$")
}

func validateValue(value any, schema *jsonschema.Schema, path string) []string {
	var problems []string

	if schema.Type != "" && !matchesType(value, schema.Type) {
		problems = append(problems,
			fmt.Sprintf("%s: expected %s, got %s", path, schema.Type, typeName(value)))
		return problems
	}

	if len(schema.Enum) > 0 {
		found := false
		for _, allowed := range schema.Enum {
			if reflect.DeepEqual(normalizeNumber(value), normalizeNumber(allowed)) {
				found = true
				break
			}
		}
		if !found {
			problems = append(problems,
				fmt.Sprintf("%s: value %v is not one of the allowed values", path, value))
		}
	}

	switch v := value.(type) {
	case string:
		if schema.MinLength != nil && len(v) < *schema.MinLength {
			problems = append(problems,
				fmt.Sprintf("%s: length %d is below minimum %d", path, len(v), *schema.MinLength))
		}
		if schema.MaxLength != nil && len(v) > *schema.MaxLength {
			problems = append(problems,
				fmt.Sprintf("%s: length %d exceeds maximum %d", path, len(v), *schema.MaxLength))
		}

	case map[string]any:
		for _, req := range schema.Required {
			if _, ok := v[req]; !ok {
				problems = append(problems,
					fmt.Sprintf("%s: missing required property %q", path, req))
			}
		}
		for name, propSchema := range schema.Properties {
			if propValue, ok := v[name]; ok {
				problems = append(problems,
					validateValue(propValue, propSchema, path+"."+name)...)
			}
		}

	case []any:
		if schema.Items != nil {
			for i, item := range v {
				problems = append(problems,
					validateValue(item, schema.Items, fmt.Sprintf("%s[%d]", path, i))...)
			}
		}
	}

	if f, ok := asNumber(value); ok {
		if schema.Minimum != nil && f < *schema.Minimum {
			problems = append(problems,
				fmt.Sprintf("%s: %v is below minimum %v", path, f, *schema.Minimum))
		}
		if schema.Maximum != nil && f > *schema.Maximum {
			problems = append(problems,
				fmt.Sprintf("%s: %v exceeds maximum %v", path, f, *schema.Maximum))
		}
	}

	return problems
}

func matchesType(value any, schemaType string) bool {
	switch schemaType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := asNumber(value)
		return ok
	case "integer":
		f, ok := asNumber(value)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "null":
		return value == nil
	}
	return true
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// normalizeNumber makes enum comparison work across int and float64
// representations of the same number.
func normalizeNumber(value any) any {
	if f, ok := asNumber(value); ok {
		return f
	}
	return value
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case float64, float32, int, int64:
		return "number"
	}
	return fmt.Sprintf("%T", value)
}
