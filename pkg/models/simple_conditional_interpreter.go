package models

import (
	"fmt"
	"strconv"
	"strings"
)

// SimpleConditionalInterpreter converts rendered condition output to a bool.
// Boolean-looking strings parse, other non-empty strings are truthy.
type SimpleConditionalInterpreter struct{}

func (s SimpleConditionalInterpreter) Evaluate(exp any) (bool, error) {
	if exp == nil {
		return false, nil
	}

	switch v := exp.(type) {
	case bool:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" || v == "<no value>" {
			return false, nil
		}

		if result, err := strconv.ParseBool(v); err == nil {
			return result, nil
		}

		return true, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case map[string]any:
		return len(v) > 0, nil
	case []any:
		return len(v) > 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", exp)
	}
}
