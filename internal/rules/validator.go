package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"predixaai-alert-engine/internal/pattern"
)

var requiredRuleKeys = []string{"rule_id", "name", "conditions", "actions"}

// ValidateRule checks a decoded rule document and returns one message per
// problem. Validation is advisory: Evaluate never calls it.
func ValidateRule(doc map[string]any) []string {
	var problems []string
	for _, key := range requiredRuleKeys {
		if _, ok := doc[key]; !ok {
			if key == "rule_id" {
				if _, ok := doc["id"]; ok {
					continue
				}
			}
			problems = append(problems, fmt.Sprintf("missing required key %q", key))
		}
	}
	if enabled, ok := doc["enabled"]; ok {
		if _, isBool := enabled.(bool); !isBool {
			problems = append(problems, "enabled: must be a boolean")
		}
	}
	if cond, ok := doc["conditions"]; ok {
		problems = append(problems, validateCondition(cond, "conditions")...)
	}
	if raw, ok := doc["actions"]; ok {
		actions, isList := raw.([]any)
		if !isList {
			problems = append(problems, "actions: must be a list")
		}
		for i, item := range actions {
			problems = append(problems, validateAction(item, fmt.Sprintf("actions[%d]", i))...)
		}
	}
	return problems
}

// ValidateRuleJSON decodes data and validates it.
func ValidateRuleJSON(data []byte) []string {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []string{fmt.Sprintf("invalid json: %v", err)}
	}
	return ValidateRule(doc)
}

func validateCondition(v any, path string) []string {
	switch t := v.(type) {
	case nil:
		return []string{path + ": condition is null"}
	case []any:
		if len(t) == 0 {
			return []string{path + ": AND group needs at least one condition"}
		}
		var problems []string
		for i, child := range t {
			problems = append(problems, validateCondition(child, fmt.Sprintf("%s[%d]", path, i))...)
		}
		return problems
	case map[string]any:
		if _, ok := t["field"]; ok {
			return validateLeaf(t, path)
		}
		op := strings.ToUpper(strings.TrimSpace(stringValue(t, "operator", "op")))
		children, _ := firstPresent(t, "conditions", "children").([]any)
		var problems []string
		switch GroupOp(op) {
		case OpAnd, OpOr:
			if len(children) < 1 {
				problems = append(problems, fmt.Sprintf("%s: %s group needs at least one condition", path, op))
			}
		case OpNot:
			if len(children) != 1 {
				problems = append(problems, fmt.Sprintf("%s: NOT group needs exactly one condition, got %d", path, len(children)))
			}
		default:
			return []string{fmt.Sprintf("%s: unknown condition node (operator %q, no field)", path, op)}
		}
		for i, child := range children {
			problems = append(problems, validateCondition(child, fmt.Sprintf("%s.conditions[%d]", path, i))...)
		}
		return problems
	default:
		return []string{fmt.Sprintf("%s: unsupported condition type %T", path, v)}
	}
}

func validateLeaf(leaf map[string]any, path string) []string {
	var problems []string
	if field, _ := leaf["field"].(string); strings.TrimSpace(field) == "" {
		problems = append(problems, path+".field: must be a non-empty string")
	}
	op := stringValue(leaf, "operator", "op")
	canonical, ok := CanonicalOperator(op)
	if !ok {
		problems = append(problems, fmt.Sprintf("%s.operator: unknown operator %q", path, op))
		return problems
	}
	value, hasValue := leaf["value"]
	switch canonical {
	case "exists":
	case "in", "not_in":
		if _, isList := value.([]any); !isList {
			problems = append(problems, fmt.Sprintf("%s.value: %s needs a list", path, canonical))
		}
	case "regex":
		expr, isString := value.(string)
		if !isString {
			problems = append(problems, path+".value: regex needs a string")
		} else if _, err := pattern.Compile(expr); err != nil {
			problems = append(problems, fmt.Sprintf("%s.value: invalid regex: %v", path, err))
		}
	default:
		if !hasValue {
			problems = append(problems, path+".value: missing")
		}
	}
	return problems
}

func validateAction(v any, path string) []string {
	m, ok := v.(map[string]any)
	if !ok {
		return []string{path + ": action must be an object"}
	}
	kind, _ := m["type"].(string)
	if strings.TrimSpace(kind) == "" {
		return []string{path + ".type: missing"}
	}
	switch ActionType(strings.ToLower(kind)) {
	case ActionSuppress:
		return nil
	case ActionSendAlert:
		if stringValue(m, "message_template", "message") == "" {
			return []string{path + ".message_template: missing"}
		}
	case ActionCreateIssue:
		if stringValue(m, "title_template", "title") == "" {
			return []string{path + ".title_template: missing"}
		}
	case ActionWebhook:
		if stringValue(m, "url") == "" {
			return []string{path + ".url: missing"}
		}
	default:
		return []string{fmt.Sprintf("%s.type: unknown action type %q", path, kind)}
	}
	return nil
}
