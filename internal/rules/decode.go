package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DecodeCondition converts a generic JSON/YAML value into a condition tree.
// A map with a "field" key is a leaf, a map whose operator is AND/OR/NOT is a
// group (children under "conditions" or "children"), and a bare list is an
// implicit AND. Anything else decodes to Unknown.
func DecodeCondition(v any) Condition {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return Group{Operator: OpAnd, Children: decodeChildren(t)}
	case map[string]any:
		if _, ok := t["field"]; ok {
			return Leaf{
				Field:    stringValue(t, "field"),
				Operator: stringValue(t, "operator", "op"),
				Value:    t["value"],
			}
		}
		op := GroupOp(strings.ToUpper(strings.TrimSpace(stringValue(t, "operator", "op"))))
		switch op {
		case OpAnd, OpOr, OpNot:
			children, _ := firstPresent(t, "conditions", "children").([]any)
			return Group{Operator: op, Children: decodeChildren(children)}
		}
		return Unknown{Raw: t}
	default:
		return Unknown{Raw: t}
	}
}

func decodeChildren(items []any) []Condition {
	children := make([]Condition, 0, len(items))
	for _, item := range items {
		children = append(children, DecodeCondition(item))
	}
	return children
}

func DecodeAction(m map[string]any) Action {
	kind := strings.ToLower(strings.TrimSpace(stringValue(m, "type")))
	switch ActionType(kind) {
	case ActionSuppress:
		return Suppress{}
	case ActionSendAlert:
		return SendAlert{
			Channel:         stringValue(m, "channel"),
			MessageTemplate: stringValue(m, "message_template", "message"),
			MaxLength:       intValue(m["max_length"]),
		}
	case ActionCreateIssue:
		return CreateIssue{
			TitleTemplate: stringValue(m, "title_template", "title"),
			BodyTemplate:  stringValue(m, "body_template", "body"),
			Labels:        stringList(m["labels"]),
		}
	case ActionWebhook:
		return Webhook{
			URL:             stringValue(m, "url"),
			PayloadTemplate: firstPresent(m, "payload_template", "payload"),
			Headers:         stringMap(m["headers"]),
		}
	default:
		return UnknownAction{Kind: kind, Raw: m}
	}
}

// FromMap builds a Rule from a decoded document. Decoding is lenient: a
// malformed document still yields a rule that evaluates deterministically.
func FromMap(m map[string]any) Rule {
	rule := Rule{
		ID:          stringValue(m, "rule_id", "id"),
		Name:        stringValue(m, "name"),
		Description: stringValue(m, "description"),
		Enabled:     true,
		Conditions:  DecodeCondition(m["conditions"]),
	}
	if enabled, ok := m["enabled"].(bool); ok {
		rule.Enabled = enabled
	}
	if actions, ok := m["actions"].([]any); ok {
		for _, item := range actions {
			am, ok := item.(map[string]any)
			if !ok {
				rule.Actions = append(rule.Actions, UnknownAction{Raw: map[string]any{"value": item}})
				continue
			}
			rule.Actions = append(rule.Actions, DecodeAction(am))
		}
	}
	return rule
}

func (r Rule) ToMap() map[string]any {
	actions := make([]any, 0, len(r.Actions))
	for _, a := range r.Actions {
		actions = append(actions, actionToMap(a))
	}
	m := map[string]any{
		"rule_id":    r.ID,
		"name":       r.Name,
		"enabled":    r.Enabled,
		"conditions": conditionToMap(r.Conditions),
		"actions":    actions,
	}
	if r.Description != "" {
		m["description"] = r.Description
	}
	return m
}

func conditionToMap(c Condition) any {
	switch t := c.(type) {
	case Leaf:
		return map[string]any{"field": t.Field, "operator": t.Operator, "value": t.Value}
	case Group:
		children := make([]any, 0, len(t.Children))
		for _, child := range t.Children {
			children = append(children, conditionToMap(child))
		}
		return map[string]any{"operator": string(t.Operator), "conditions": children}
	case Unknown:
		return t.Raw
	default:
		return nil
	}
}

func actionToMap(a Action) map[string]any {
	switch t := a.(type) {
	case Suppress:
		return map[string]any{"type": string(ActionSuppress)}
	case SendAlert:
		m := map[string]any{"type": string(ActionSendAlert), "channel": t.Channel, "message_template": t.MessageTemplate}
		if t.MaxLength > 0 {
			m["max_length"] = t.MaxLength
		}
		return m
	case CreateIssue:
		return map[string]any{"type": string(ActionCreateIssue), "title_template": t.TitleTemplate, "body_template": t.BodyTemplate, "labels": t.Labels}
	case Webhook:
		return map[string]any{"type": string(ActionWebhook), "url": t.URL, "payload_template": t.PayloadTemplate, "headers": t.Headers}
	case UnknownAction:
		return t.Raw
	default:
		return map[string]any{"type": fmt.Sprint(a.Type())}
	}
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*r = FromMap(m)
	return nil
}

func (r Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToMap())
}

func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	var m map[string]any
	if err := node.Decode(&m); err != nil {
		return err
	}
	*r = FromMap(m)
	return nil
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func stringValue(m map[string]any, keys ...string) string {
	v := firstPresent(m, keys...)
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func intValue(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if list, ok := v.([]string); ok {
			return list
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprint(item))
	}
	return out
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprint(val)
	}
	return out
}
