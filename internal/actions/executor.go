// Package actions turns matched rules into side effects: suppression of the
// alert, chat notifications, issues and webhook calls.
package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"predixaai-alert-engine/internal/alert"
	"predixaai-alert-engine/internal/rules"
	"predixaai-alert-engine/internal/security"
)

const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusBlocked = "blocked"
)

type Outcome struct {
	RuleID      string           `json:"rule_id"`
	Action      rules.ActionType `json:"action"`
	Status      string           `json:"status"`
	Error       string           `json:"error,omitempty"`
	IssueNumber int              `json:"issue_number,omitempty"`
}

// Recorder observes action outcomes, typically for metrics.
type Recorder interface {
	ActionDone(action rules.ActionType, status string)
}

// Task is one planned outbound action. Run never panics and never returns
// an error; failures are described by the Outcome.
type Task struct {
	RuleID string
	Action rules.ActionType
	run    func(ctx context.Context) Outcome
}

type Executor struct {
	Notifier Notifier
	Issues   IssueTracker
	Webhooks WebhookSender
	Logger   logrus.FieldLogger
	Recorder Recorder
}

func (e *Executor) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}

// ExecuteMatchedActions plans and runs the actions of a single evaluation in
// the caller's goroutine. Nil or unmatched results are a no-op.
func (e *Executor) ExecuteMatchedActions(ctx context.Context, a alert.Alert, result *rules.EvaluationResult) []Outcome {
	if result == nil || !result.Matched {
		return nil
	}
	tasks, outcomes := e.Plan(a, []rules.EvaluationResult{*result})
	return append(outcomes, e.Run(ctx, tasks)...)
}

// Plan walks matched results in order. Suppress actions are applied to a
// immediately, ahead of the rule's other actions. Once a is silenced, every
// remaining outbound action is skipped. The returned tasks hold a snapshot of
// the alert and are safe to run on another goroutine.
func (e *Executor) Plan(a alert.Alert, results []rules.EvaluationResult) ([]Task, []Outcome) {
	var tasks []Task
	var outcomes []Outcome
	for _, result := range results {
		if !result.Matched {
			continue
		}
		for _, action := range result.ActionsToExecute {
			if _, ok := action.(rules.Suppress); ok {
				a[alert.FieldSilenced] = true
				a[alert.FieldSilencedByRule] = result.RuleID
				outcomes = append(outcomes, e.record(Outcome{RuleID: result.RuleID, Action: rules.ActionSuppress, Status: StatusOK}))
				e.logger().WithFields(logrus.Fields{"rule_id": result.RuleID, "alert": a.Name()}).Info("alert suppressed by rule")
			}
		}
		for _, action := range result.ActionsToExecute {
			if _, ok := action.(rules.Suppress); ok {
				continue
			}
			if a.Bool(alert.FieldSilenced) {
				outcomes = append(outcomes, e.record(Outcome{RuleID: result.RuleID, Action: action.Type(), Status: StatusSkipped, Error: "alert silenced"}))
				continue
			}
			tasks = append(tasks, e.task(action, TemplateData{Alert: a.Clone(), Result: result}))
		}
	}
	return tasks, outcomes
}

// Run executes tasks one after another.
func (e *Executor) Run(ctx context.Context, tasks []Task) []Outcome {
	outcomes := make([]Outcome, 0, len(tasks))
	for _, task := range tasks {
		outcomes = append(outcomes, e.RunTask(ctx, task))
	}
	return outcomes
}

// RunTask executes one task, converting panics and errors into an outcome.
func (e *Executor) RunTask(ctx context.Context, task Task) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{RuleID: task.RuleID, Action: task.Action, Status: StatusFailed, Error: fmt.Sprintf("panic: %v", r)}
		}
		e.record(outcome)
		entry := e.logger().WithFields(logrus.Fields{"rule_id": outcome.RuleID, "action": outcome.Action, "status": outcome.Status})
		switch outcome.Status {
		case StatusFailed, StatusBlocked:
			entry.WithField("error", outcome.Error).Warn("action failed")
		default:
			entry.Debug("action done")
		}
	}()
	return task.run(ctx)
}

func (e *Executor) record(o Outcome) Outcome {
	if e.Recorder != nil {
		e.Recorder.ActionDone(o.Action, o.Status)
	}
	return o
}

func (e *Executor) task(action rules.Action, data TemplateData) Task {
	ruleID := data.Result.RuleID
	t := Task{RuleID: ruleID, Action: action.Type()}
	fail := func(err error) Outcome {
		return Outcome{RuleID: ruleID, Action: t.Action, Status: StatusFailed, Error: err.Error()}
	}
	switch act := action.(type) {
	case rules.SendAlert:
		t.run = func(ctx context.Context) Outcome {
			if e.Notifier == nil {
				return fail(ErrNotConfigured)
			}
			tmpl := act.MessageTemplate
			if tmpl == "" {
				tmpl = DefaultMessageTemplate
			}
			if err := e.Notifier.Send(ctx, act.Channel, Render(tmpl, data, act.MaxLength)); err != nil {
				return fail(err)
			}
			return Outcome{RuleID: ruleID, Action: t.Action, Status: StatusOK}
		}
	case rules.CreateIssue:
		t.run = func(ctx context.Context) Outcome {
			if e.Issues == nil {
				return fail(ErrNotConfigured)
			}
			tmpl := act.TitleTemplate
			if tmpl == "" {
				tmpl = DefaultIssueTitleTemplate
			}
			res := e.Issues.CreateIssue(ctx, Render(tmpl, data, 0), IssueBody(data, act.BodyTemplate), act.Labels)
			if !res.Success {
				return fail(errors.New(res.Error))
			}
			return Outcome{RuleID: ruleID, Action: t.Action, Status: StatusOK, IssueNumber: res.IssueNumber}
		}
	case rules.Webhook:
		t.run = func(ctx context.Context) Outcome {
			if e.Webhooks == nil {
				return fail(ErrNotConfigured)
			}
			err := e.Webhooks.Send(ctx, act.URL, RenderPayload(act.PayloadTemplate, data), act.Headers)
			if errors.Is(err, security.ErrUnsafeURL) {
				return Outcome{RuleID: ruleID, Action: t.Action, Status: StatusBlocked, Error: err.Error()}
			}
			if err != nil {
				return fail(err)
			}
			return Outcome{RuleID: ruleID, Action: t.Action, Status: StatusOK}
		}
	default:
		t.run = func(context.Context) Outcome {
			return Outcome{RuleID: ruleID, Action: t.Action, Status: StatusSkipped, Error: fmt.Sprintf("unsupported action type %q", action.Type())}
		}
	}
	return t
}

const (
	DefaultMessageTemplate    = "🚨 {{name}}\nRule: {{rule_name}}\nTriggered: {{triggered_conditions}}"
	DefaultIssueTitleTemplate = "[{{severity}}] {{name}}"
)
