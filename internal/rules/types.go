package rules

import (
	"fmt"
	"strings"
)

// Condition is a node of a rule's condition tree: Leaf, Group or Unknown.
type Condition interface {
	describe() string
}

type Leaf struct {
	Field    string
	Operator string
	Value    any
}

type GroupOp string

const (
	OpAnd GroupOp = "AND"
	OpOr  GroupOp = "OR"
	OpNot GroupOp = "NOT"
)

type Group struct {
	Operator GroupOp
	Children []Condition
}

// Unknown holds a node that is neither a leaf nor a known group. It never
// matches.
type Unknown struct {
	Raw any
}

func (l Leaf) describe() string {
	return fmt.Sprintf("%s %s %v", l.Field, l.Operator, l.Value)
}

func (g Group) describe() string {
	parts := make([]string, 0, len(g.Children))
	for _, c := range g.Children {
		if c == nil {
			continue
		}
		parts = append(parts, c.describe())
	}
	if g.Operator == OpNot {
		return "NOT(" + strings.Join(parts, ", ") + ")"
	}
	return "(" + strings.Join(parts, " "+string(g.Operator)+" ") + ")"
}

func (u Unknown) describe() string {
	return fmt.Sprintf("unknown(%v)", u.Raw)
}

type ActionType string

const (
	ActionSuppress    ActionType = "suppress"
	ActionSendAlert   ActionType = "send_alert"
	ActionCreateIssue ActionType = "create_issue"
	ActionWebhook     ActionType = "webhook"
)

type Action interface {
	Type() ActionType
}

type Suppress struct{}

type SendAlert struct {
	Channel         string
	MessageTemplate string
	// MaxLength > 0 truncates each rendered value with an ellipsis.
	MaxLength int
}

type CreateIssue struct {
	TitleTemplate string
	BodyTemplate  string
	Labels        []string
}

type Webhook struct {
	URL             string
	PayloadTemplate any
	Headers         map[string]string
}

type UnknownAction struct {
	Kind string
	Raw  map[string]any
}

func (Suppress) Type() ActionType { return ActionSuppress }

func (SendAlert) Type() ActionType { return ActionSendAlert }

func (CreateIssue) Type() ActionType { return ActionCreateIssue }

func (Webhook) Type() ActionType { return ActionWebhook }

func (u UnknownAction) Type() ActionType { return ActionType(u.Kind) }

type Rule struct {
	ID          string
	Name        string
	Description string
	Enabled     bool
	Conditions  Condition
	Actions     []Action
}

type EvaluationResult struct {
	RuleID              string   `json:"rule_id"`
	RuleName            string   `json:"rule_name"`
	Matched             bool     `json:"matched"`
	TriggeredConditions []string `json:"triggered_conditions"`
	ActionsToExecute    []Action `json:"-"`
	EvaluationTimeMS    float64  `json:"evaluation_time_ms"`
}
