package rules

import (
	"time"

	"predixaai-alert-engine/internal/alert"
)

// Evaluate walks the rule's condition tree against the alert. Disabled rules
// return an unmatched result without walking. Evaluation is pure and safe to
// run concurrently for different alerts.
func Evaluate(rule Rule, a alert.Alert) EvaluationResult {
	result := EvaluationResult{RuleID: rule.ID, RuleName: rule.Name, TriggeredConditions: []string{}}
	if !rule.Enabled {
		return result
	}
	start := time.Now()
	matched, triggered := walk(rule.Conditions, a)
	result.EvaluationTimeMS = float64(time.Since(start).Microseconds()) / 1000
	result.Matched = matched
	if matched {
		result.TriggeredConditions = append(result.TriggeredConditions, triggered...)
		result.ActionsToExecute = append([]Action(nil), rule.Actions...)
	}
	return result
}

func walk(node Condition, a alert.Alert) (bool, []string) {
	switch n := node.(type) {
	case Leaf:
		return evalLeaf(n, a)
	case Group:
		return evalGroup(n, a)
	default:
		return false, nil
	}
}

func evalLeaf(leaf Leaf, a alert.Alert) (bool, []string) {
	if leaf.Field == "" {
		return false, nil
	}
	actual, ok := a.Lookup(leaf.Field)
	if !ok {
		return false, nil
	}
	if !matchLeaf(actual, leaf.Operator, leaf.Value) {
		return false, nil
	}
	return true, []string{leaf.describe()}
}

func evalGroup(g Group, a alert.Alert) (bool, []string) {
	switch g.Operator {
	case OpAnd:
		var triggered []string
		for _, child := range g.Children {
			matched, t := walk(child, a)
			if !matched {
				return false, nil
			}
			triggered = append(triggered, t...)
		}
		return true, triggered
	case OpOr:
		hit := false
		var triggered []string
		seen := map[string]bool{}
		for _, child := range g.Children {
			matched, t := walk(child, a)
			if !matched {
				continue
			}
			hit = true
			for _, s := range t {
				if !seen[s] {
					seen[s] = true
					triggered = append(triggered, s)
				}
			}
		}
		if !hit {
			return false, nil
		}
		return true, triggered
	case OpNot:
		if len(g.Children) != 1 {
			return false, nil
		}
		matched, _ := walk(g.Children[0], a)
		if matched {
			return false, nil
		}
		return true, []string{g.describe()}
	default:
		return false, nil
	}
}
