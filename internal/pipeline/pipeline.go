// Package pipeline wires the engine together for one alert at a time:
// signature enrichment, rule matching, silence check, action planning,
// persistence, event publication and background dispatch.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"predixaai-alert-engine/internal/actions"
	"predixaai-alert-engine/internal/alert"
	"predixaai-alert-engine/internal/bus"
	"predixaai-alert-engine/internal/rules"
	"predixaai-alert-engine/internal/signature"
	"predixaai-alert-engine/internal/silence"
	"predixaai-alert-engine/internal/storage"
)

const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeSilenced  = "silenced"
)

type Pipeline struct {
	Enricher         *signature.Enricher
	Rules            rules.Store
	Matcher          rules.Matcher
	Silences         *silence.Manager
	Executor         *actions.Executor
	AlertLog         storage.AlertLog
	Publisher        bus.EventPublisher
	ProcessedSubject string
	// Dispatcher runs outbound tasks in the background. When nil they run
	// inline before Process returns.
	Dispatcher *Dispatcher
	Metrics    *Metrics
	Logger     logrus.FieldLogger

	now func() time.Time
}

type Report struct {
	Alert         alert.Alert              `json:"alert"`
	SignatureHash string                   `json:"error_signature_hash,omitempty"`
	IsNewError    bool                     `json:"is_new_error"`
	Silenced      bool                     `json:"silenced"`
	SilencedBy    string                   `json:"silenced_by,omitempty"`
	Evaluations   []rules.EvaluationResult `json:"evaluations"`
	MatchedRules  []string                 `json:"matched_rules"`
	Outcomes      []actions.Outcome        `json:"outcomes"`
	Queued        int                      `json:"queued"`
}

var ErrNilAlert = errors.New("alert is nil")

func (p *Pipeline) logger() logrus.FieldLogger {
	if p.Logger == nil {
		return logrus.StandardLogger()
	}
	return p.Logger
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// Process runs a through the engine, mutating it in place. Only a nil alert
// is an error; every stage failure is logged and the pass continues.
func (p *Pipeline) Process(ctx context.Context, a alert.Alert) (*Report, error) {
	if a == nil {
		return nil, ErrNilAlert
	}
	log := p.logger().WithField("alert", a.Name())

	if p.Enricher != nil {
		p.Enricher.Enrich(ctx, a)
	}

	var ruleSet []rules.Rule
	if p.Rules != nil {
		loaded, err := p.Rules.ListRules(ctx)
		if err != nil {
			log.WithError(err).Error("loading rules failed; evaluating with no rules")
		}
		ruleSet = loaded
	}

	start := time.Now()
	matches, evaluations := p.Matcher.Match(ruleSet, a)
	p.Metrics.observeEvaluation(time.Since(start).Seconds())

	report := &Report{Alert: a, Evaluations: evaluations, MatchedRules: []string{}}
	matched := make([]rules.EvaluationResult, 0, len(matches))
	for _, m := range matches {
		matched = append(matched, m.Result)
		report.MatchedRules = append(report.MatchedRules, m.Rule.ID)
		p.Metrics.ruleMatched(m.Rule.ID)
	}

	if p.Silences != nil {
		if ok, rec := p.Silences.IsSilenced(ctx, a.Name(), a.Severity()); ok {
			a[alert.FieldSilenced] = true
			a[alert.FieldSilencedBy] = rec.ID
			if rec.Reason != "" {
				a[alert.FieldSilenceReason] = rec.Reason
			}
			report.SilencedBy = rec.ID
		}
	}

	var tasks []actions.Task
	if p.Executor != nil {
		tasks, report.Outcomes = p.Executor.Plan(a, matched)
	}
	if report.SilencedBy == "" {
		report.SilencedBy = a.String(alert.FieldSilencedByRule)
	}
	a[alert.FieldMatchedRules] = report.MatchedRules
	a[alert.FieldProcessedAtUnix] = p.clock().Unix()

	report.SignatureHash = a.String(alert.FieldSignatureHash)
	report.IsNewError = a.Bool(alert.FieldIsNewError)
	report.Silenced = a.Bool(alert.FieldSilenced)

	if p.AlertLog != nil {
		if err := p.AlertLog.Record(ctx, a); err != nil {
			log.WithError(err).Error("alert log write failed")
		}
	}
	if p.Publisher != nil && p.ProcessedSubject != "" {
		evt := bus.ProcessedEvent{
			Name:          a.Name(),
			Severity:      a.Severity(),
			SignatureHash: report.SignatureHash,
			IsNewError:    report.IsNewError,
			Silenced:      report.Silenced,
			MatchedRules:  report.MatchedRules,
			ProcessedAt:   p.clock().UTC(),
			Alert:         a,
		}
		if err := p.Publisher.Publish(p.ProcessedSubject, evt); err != nil {
			log.WithError(err).Warn("publishing processed alert failed")
		}
	}

	for _, task := range tasks {
		if p.Dispatcher == nil {
			report.Outcomes = append(report.Outcomes, p.Executor.RunTask(ctx, task))
			continue
		}
		if err := p.Dispatcher.Submit(ctx, task); err == nil {
			report.Queued++
		}
	}

	outcome := OutcomeUnmatched
	switch {
	case report.Silenced:
		outcome = OutcomeSilenced
	case len(matches) > 0:
		outcome = OutcomeMatched
	}
	p.Metrics.alertProcessed(outcome)
	log.WithFields(logrus.Fields{
		"outcome":   outcome,
		"matched":   len(matches),
		"queued":    report.Queued,
		"signature": report.SignatureHash,
	}).Info("alert processed")
	return report, nil
}
