package rules

import (
	"fmt"
	"testing"
	"time"

	"predixaai-alert-engine/internal/alert"
)

func errorRateRule() Rule {
	return FromMap(map[string]any{
		"rule_id":    "r-error-rate",
		"name":       "Error rate",
		"conditions": map[string]any{"field": "error_rate", "operator": "gt", "value": 0.05},
		"actions":    []any{map[string]any{"type": "send_alert", "channel": "default", "message_template": "rate {{error_rate}}"}},
	})
}

func TestEvaluateErrorRateMatches(t *testing.T) {
	result := Evaluate(errorRateRule(), alert.Alert{"error_rate": 0.08})
	if !result.Matched {
		t.Fatalf("expected match")
	}
	if len(result.TriggeredConditions) != 1 || result.TriggeredConditions[0] != "error_rate gt 0.05" {
		t.Fatalf("unexpected triggers: %v", result.TriggeredConditions)
	}
	if len(result.ActionsToExecute) != 1 || result.ActionsToExecute[0].Type() != ActionSendAlert {
		t.Fatalf("expected one send_alert action, got %v", result.ActionsToExecute)
	}
}

func TestEvaluateErrorRateBelowThreshold(t *testing.T) {
	result := Evaluate(errorRateRule(), alert.Alert{"error_rate": 0.02})
	if result.Matched {
		t.Fatalf("expected no match")
	}
	if len(result.ActionsToExecute) != 0 || len(result.TriggeredConditions) != 0 {
		t.Fatalf("unmatched result must not carry actions or triggers")
	}
}

func TestEvaluateDisabledRule(t *testing.T) {
	rule := errorRateRule()
	rule.Enabled = false
	if Evaluate(rule, alert.Alert{"error_rate": 0.9}).Matched {
		t.Fatalf("disabled rule must not match")
	}
}

func TestEvaluateEmptyGroups(t *testing.T) {
	cases := []struct {
		op   GroupOp
		want bool
	}{
		{OpAnd, true},
		{OpOr, false},
		{OpNot, false},
	}
	for _, tc := range cases {
		rule := Rule{ID: "r", Enabled: true, Conditions: Group{Operator: tc.op}}
		if got := Evaluate(rule, alert.Alert{}).Matched; got != tc.want {
			t.Fatalf("%s with no children: got %v, want %v", tc.op, got, tc.want)
		}
	}
}

func TestEvaluateMissingFieldNeverMatches(t *testing.T) {
	for _, op := range []string{"eq", "ne", "gt", "lt", "contains", "not_contains", "regex", "in", "not_in", "exists"} {
		rule := Rule{Enabled: true, Conditions: Leaf{Field: "absent", Operator: op, Value: []any{"x"}}}
		if Evaluate(rule, alert.Alert{"name": "x"}).Matched {
			t.Fatalf("operator %s matched a missing field", op)
		}
	}
}

func TestEvaluateNotTriggers(t *testing.T) {
	inner := Leaf{Field: "severity", Operator: "eq", Value: "info"}
	rule := Rule{Enabled: true, Conditions: Group{Operator: OpNot, Children: []Condition{inner}}}

	satisfied := Evaluate(rule, alert.Alert{"severity": "critical"})
	if !satisfied.Matched || len(satisfied.TriggeredConditions) != 1 || satisfied.TriggeredConditions[0] != "NOT(severity eq info)" {
		t.Fatalf("unexpected NOT result: %+v", satisfied)
	}

	failed := Evaluate(rule, alert.Alert{"severity": "info"})
	if failed.Matched || len(failed.TriggeredConditions) != 0 {
		t.Fatalf("failed NOT must contribute no triggers: %+v", failed)
	}
}

func TestEvaluateNotWithTwoChildren(t *testing.T) {
	rule := Rule{Enabled: true, Conditions: Group{Operator: OpNot, Children: []Condition{
		Leaf{Field: "a", Operator: "eq", Value: 1},
		Leaf{Field: "b", Operator: "eq", Value: 2},
	}}}
	if Evaluate(rule, alert.Alert{}).Matched {
		t.Fatalf("NOT with two children must not match")
	}
}

func TestEvaluateOrOnlyKeepsMatchingBranches(t *testing.T) {
	cond := DecodeCondition(map[string]any{
		"operator": "OR",
		"conditions": []any{
			map[string]any{
				"operator": "AND",
				"conditions": []any{
					map[string]any{"field": "severity", "operator": "eq", "value": "critical"},
					map[string]any{"field": "region", "operator": "eq", "value": "eu"},
				},
			},
			map[string]any{"field": "error_rate", "operator": ">", "value": 0.5},
			map[string]any{"field": "error_rate", "operator": ">", "value": 0.5},
		},
	})
	result := Evaluate(Rule{Enabled: true, Conditions: cond}, alert.Alert{"severity": "critical", "region": "us", "error_rate": 0.9})
	if !result.Matched {
		t.Fatalf("expected match")
	}
	if len(result.TriggeredConditions) != 1 || result.TriggeredConditions[0] != "error_rate > 0.5" {
		t.Fatalf("partial AND triggers leaked or duplicates kept: %v", result.TriggeredConditions)
	}
}

func TestEvaluateAndConcatenatesInOrder(t *testing.T) {
	cond := DecodeCondition([]any{
		map[string]any{"field": "severity", "op": "==", "value": "critical"},
		map[string]any{"field": "metadata.region", "operator": "in", "value": []any{"eu", "us"}},
	})
	result := Evaluate(Rule{Enabled: true, Conditions: cond}, alert.Alert{
		"severity": "critical",
		"metadata": map[string]any{"region": "eu"},
	})
	want := []string{"severity == critical", "metadata.region in [eu us]"}
	if !result.Matched || fmt.Sprint(result.TriggeredConditions) != fmt.Sprint(want) {
		t.Fatalf("got %v, want %v", result.TriggeredConditions, want)
	}
}

func TestEvaluateUnknownNode(t *testing.T) {
	cond := DecodeCondition(map[string]any{"operator": "XOR", "conditions": []any{}})
	if _, ok := cond.(Unknown); !ok {
		t.Fatalf("expected Unknown node, got %T", cond)
	}
	if Evaluate(Rule{Enabled: true, Conditions: cond}, alert.Alert{}).Matched {
		t.Fatalf("unknown node must not match")
	}
	if Evaluate(Rule{Enabled: true}, alert.Alert{}).Matched {
		t.Fatalf("nil conditions must not match")
	}
}

func TestEvaluateLargeTreeIsFast(t *testing.T) {
	children := make([]Condition, 0, 100)
	a := alert.Alert{}
	for i := 0; i < 100; i++ {
		field := fmt.Sprintf("f%d", i)
		a[field] = i
		children = append(children, Leaf{Field: field, Operator: "gte", Value: 0})
	}
	start := time.Now()
	result := Evaluate(Rule{Enabled: true, Conditions: Group{Operator: OpAnd, Children: children}}, a)
	if !result.Matched || len(result.TriggeredConditions) != 100 {
		t.Fatalf("expected all 100 leaves to trigger, got %d", len(result.TriggeredConditions))
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("evaluation too slow: %s", time.Since(start))
	}
}

func TestMatchLeafOperators(t *testing.T) {
	cases := []struct {
		actual   any
		op       string
		expected any
		want     bool
	}{
		{"critical", "equals", "critical", true},
		{"5", "eq", 5, true},
		{true, "eq", true, true},
		{"warning", "!=", "critical", true},
		{"12.5", ">=", 12.5, true},
		{"abc", "gt", 1, false},
		{"Timeout contacting db", "contains", "Timeout", true},
		{[]any{"db", "api"}, "contains", "api", true},
		{"High Latency", "starts_with", "High", true},
		{"High Latency", "ends_with", "Latency", true},
		{"High Latency", "regex", "^High\\s", true},
		{"High Latency", "regex", "(", false},
		{"eu", "not_in", []any{"us", "apac"}, true},
		{"eu", "not_in", "eu", false},
		{"x", "unknown-op", "x", false},
		{nil, "exists", nil, false},
	}
	for _, tc := range cases {
		if got := matchLeaf(tc.actual, tc.op, tc.expected); got != tc.want {
			t.Fatalf("%v %s %v: got %v, want %v", tc.actual, tc.op, tc.expected, got, tc.want)
		}
	}
}
