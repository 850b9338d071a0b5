package notes

import (
	"fmt"
	"sort"

	"github.com/kuitang/persona-notes/internal/errs"
)

type fieldRule func(value any) error

func stringRule(value any) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("must be a string, got %s", typeName(value))
	}
	return nil
}

// noteSchema is closed: a payload key without a rule is rejected.
var noteSchema = map[string]fieldRule{
	FieldTitle:   stringRule,
	FieldContent: stringRule,
}

// Validate checks a note payload against the note schema. It does not
// enforce required fields, so it accepts partial payloads. Keys are checked
// in sorted order and the first failure is returned as a validation error
// naming the field.
func Validate(payload Payload) error {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rule, ok := noteSchema[key]
		if !ok {
			return errs.Invalid(key, "unknown field")
		}
		if err := rule(payload[key]); err != nil {
			return errs.Invalid(key, err.Error())
		}
	}
	return nil
}

// Project returns a new payload holding only the allowed keys present in
// input. Everything else is dropped.
func Project(input Payload, allowed ...string) Payload {
	out := make(Payload, len(allowed))
	for _, key := range allowed {
		if v, ok := input[key]; ok {
			out[key] = v
		}
	}
	return out
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
