package rules

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"predixaai-alert-engine/internal/pattern"
)

var operatorAliases = buildAliases(map[string][]string{
	"eq":           {"equals", "==", "="},
	"ne":           {"not_equals", "!="},
	"gt":           {"greater_than", ">"},
	"gte":          {"greater_than_or_equal", ">="},
	"lt":           {"less_than", "<"},
	"lte":          {"less_than_or_equal", "<="},
	"contains":     nil,
	"not_contains": nil,
	"starts_with":  nil,
	"ends_with":    nil,
	"regex":        nil,
	"in":           nil,
	"not_in":       nil,
	"exists":       nil,
})

func buildAliases(m map[string][]string) map[string]string {
	out := map[string]string{}
	for canonical, aliases := range m {
		out[canonical] = canonical
		for _, alias := range aliases {
			out[alias] = canonical
		}
	}
	return out
}

// CanonicalOperator maps an operator alias to its canonical name.
func CanonicalOperator(op string) (string, bool) {
	canonical, ok := operatorAliases[strings.ToLower(strings.TrimSpace(op))]
	return canonical, ok
}

// matchLeaf compares an existing field value against a leaf's operand. Type
// mismatches and unknown operators are non-matches.
func matchLeaf(actual any, op string, expected any) bool {
	canonical, ok := CanonicalOperator(op)
	if !ok {
		return false
	}
	switch canonical {
	case "exists":
		return actual != nil
	case "eq":
		return valuesEqual(actual, expected)
	case "ne":
		return !valuesEqual(actual, expected)
	case "gt", "gte", "lt", "lte":
		return compareNumbers(actual, canonical, expected)
	case "contains":
		return containsValue(actual, expected)
	case "not_contains":
		return !containsValue(actual, expected)
	case "starts_with":
		return strings.HasPrefix(toString(actual), toString(expected))
	case "ends_with":
		return strings.HasSuffix(toString(actual), toString(expected))
	case "regex":
		expr, ok := expected.(string)
		if !ok {
			return false
		}
		return pattern.Search(expr, toString(actual))
	case "in":
		return inList(actual, expected)
	case "not_in":
		list := reflect.ValueOf(expected)
		if list.Kind() != reflect.Slice && list.Kind() != reflect.Array {
			return false
		}
		return !inList(actual, expected)
	default:
		return false
	}
}

func valuesEqual(actual, expected any) bool {
	a, errA := toFloat(actual)
	b, errB := toFloat(expected)
	if errA == nil && errB == nil {
		return a == b
	}
	ab, okA := actual.(bool)
	bb, okB := expected.(bool)
	if okA && okB {
		return ab == bb
	}
	return toString(actual) == toString(expected)
}

func compareNumbers(actual any, op string, expected any) bool {
	a, err := toFloat(actual)
	if err != nil {
		return false
	}
	b, err := toFloat(expected)
	if err != nil {
		return false
	}
	switch op {
	case "gt":
		return a > b
	case "gte":
		return a >= b
	case "lt":
		return a < b
	case "lte":
		return a <= b
	}
	return false
}

func containsValue(actual, expected any) bool {
	if items, ok := actual.([]any); ok {
		for _, item := range items {
			if valuesEqual(item, expected) {
				return true
			}
		}
		return false
	}
	if items, ok := actual.([]string); ok {
		for _, item := range items {
			if item == toString(expected) {
				return true
			}
		}
		return false
	}
	return strings.Contains(toString(actual), toString(expected))
}

func inList(actual, expected any) bool {
	list := reflect.ValueOf(expected)
	if list.Kind() != reflect.Slice && list.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < list.Len(); i++ {
		if valuesEqual(actual, list.Index(i).Interface()) {
			return true
		}
	}
	return false
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(val any) (float64, error) {
	switch t := val.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", val)
	}
}
