package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predixaai-alert-engine/internal/actions"
	"predixaai-alert-engine/internal/alert"
	"predixaai-alert-engine/internal/rules"
	"predixaai-alert-engine/internal/signature"
	"predixaai-alert-engine/internal/silence"
	"predixaai-alert-engine/internal/storage"
)

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) Send(_ context.Context, _ string, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.texts)
}

type capturingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (p *capturingPublisher) Publish(subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return nil
}

type failingStore struct{}

func (failingStore) ListRules(context.Context) ([]rules.Rule, error) {
	return nil, errors.New("database unavailable")
}

func criticalRule(id string, actionDocs ...any) rules.Rule {
	return rules.FromMap(map[string]any{
		"rule_id":    id,
		"name":       "Rule " + id,
		"conditions": map[string]any{"field": "severity", "operator": "eq", "value": "critical"},
		"actions":    actionDocs,
	})
}

func newTestPipeline(t *testing.T, notifier actions.Notifier, ruleSet ...rules.Rule) (*Pipeline, *storage.MemoryAlertLog, *capturingPublisher) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	metrics := NewMetrics()
	alertLog := &storage.MemoryAlertLog{}
	pub := &capturingPublisher{}
	return &Pipeline{
		Enricher:         signature.NewEnricher(signature.NewMemoryDedupStore(), logger),
		Rules:            rules.StaticStore(ruleSet),
		Matcher:          rules.Matcher{Logger: logger},
		Silences:         silence.NewManager(silence.NewMemoryStore(), logger, 7),
		Executor:         &actions.Executor{Notifier: notifier, Logger: logger, Recorder: metrics},
		AlertLog:         alertLog,
		Publisher:        pub,
		ProcessedSubject: "alerts.processed",
		Metrics:          metrics,
		Logger:           logger,
		now:              func() time.Time { return time.Unix(1700000000, 0) },
	}, alertLog, pub
}

func TestProcessNilAlert(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)
	_, err := p.Process(context.Background(), nil)
	require.ErrorIs(t, err, ErrNilAlert)
}

func TestProcessSuppressSkipsNotifications(t *testing.T) {
	notifier := &recordingNotifier{}
	p, alertLog, pub := newTestPipeline(t, notifier,
		criticalRule("mute", map[string]any{"type": "suppress"}, map[string]any{"type": "send_alert", "channel": "ops"}),
		criticalRule("page", map[string]any{"type": "send_alert", "channel": "oncall"}),
	)

	a := alert.Alert{"name": "DB down", "severity": "critical", "error_type": "ConnectionError", "file": "db.py"}
	report, err := p.Process(context.Background(), a)
	require.NoError(t, err)

	assert.True(t, report.Silenced)
	assert.Equal(t, "mute", report.SilencedBy)
	assert.Equal(t, []string{"mute", "page"}, report.MatchedRules)
	assert.Equal(t, 0, report.Queued)
	assert.Equal(t, 0, notifier.count())
	assert.Equal(t, "mute", a[alert.FieldSilencedByRule])
	assert.Equal(t, int64(1700000000), a[alert.FieldProcessedAtUnix])
	assert.NotEmpty(t, report.SignatureHash)
	assert.True(t, report.IsNewError)

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, actions.StatusOK, report.Outcomes[0].Status)
	assert.Equal(t, actions.StatusSkipped, report.Outcomes[1].Status)
	assert.Equal(t, actions.StatusSkipped, report.Outcomes[2].Status)

	require.Len(t, alertLog.Alerts(), 1)
	assert.Equal(t, true, alertLog.Alerts()[0][alert.FieldSilenced])
	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "alerts.processed", pub.subjects[0])

	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.processed.WithLabelValues(OutcomeSilenced)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.actionsTotal.WithLabelValues("send_alert", actions.StatusSkipped)))
}

func TestProcessHonoursSilenceStore(t *testing.T) {
	notifier := &recordingNotifier{}
	p, _, _ := newTestPipeline(t, notifier, criticalRule("page", map[string]any{"type": "send_alert"}))

	rec, err := p.Silences.Create(context.Background(), silence.Request{Pattern: "^disk", DurationSeconds: 3600, Reason: "maintenance"})
	require.NoError(t, err)

	a := alert.Alert{"name": "disk full", "severity": "critical"}
	report, err := p.Process(context.Background(), a)
	require.NoError(t, err)

	assert.True(t, report.Silenced)
	assert.Equal(t, rec.ID, report.SilencedBy)
	assert.Equal(t, "maintenance", a[alert.FieldSilenceReason])
	assert.Equal(t, 0, notifier.count())

	other := alert.Alert{"name": "cpu hot", "severity": "critical"}
	report, err = p.Process(context.Background(), other)
	require.NoError(t, err)
	assert.False(t, report.Silenced)
	assert.Equal(t, 1, notifier.count())
}

func TestProcessRepeatSignatureIsNotNew(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)
	first, err := p.Process(context.Background(), alert.Alert{"name": "x", "error_type": "KeyError", "file": "app.py"})
	require.NoError(t, err)
	second, err := p.Process(context.Background(), alert.Alert{"name": "x", "error_type": "KeyError", "file": "app.py"})
	require.NoError(t, err)

	assert.Equal(t, first.SignatureHash, second.SignatureHash)
	assert.True(t, first.IsNewError)
	assert.False(t, second.IsNewError)
	assert.Equal(t, 2.0, testutil.ToFloat64(p.Metrics.processed.WithLabelValues(OutcomeUnmatched)))
}

func TestProcessRuleStoreFailureStillProcesses(t *testing.T) {
	p, alertLog, _ := newTestPipeline(t, nil)
	p.Rules = failingStore{}

	report, err := p.Process(context.Background(), alert.Alert{"name": "x", "severity": "critical"})
	require.NoError(t, err)
	assert.Empty(t, report.MatchedRules)
	assert.Len(t, alertLog.Alerts(), 1)
}

func TestProcessDispatchesInBackground(t *testing.T) {
	notifier := &recordingNotifier{}
	p, _, _ := newTestPipeline(t, notifier, criticalRule("page", map[string]any{"type": "send_alert", "message_template": "{{name}}"}))
	p.Dispatcher = NewDispatcher(p.Executor, 2, 4, time.Second, p.Logger, p.Metrics)

	report, err := p.Process(context.Background(), alert.Alert{"name": "api slow", "severity": "critical"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Queued)
	assert.Empty(t, report.Outcomes)

	require.NoError(t, p.Dispatcher.Stop(context.Background()))
	require.Equal(t, 1, notifier.count())
	assert.Equal(t, "api slow", notifier.texts[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.actionsTotal.WithLabelValues("send_alert", actions.StatusOK)))
}

type blockingRunner struct{}

func (blockingRunner) RunTask(ctx context.Context, task actions.Task) actions.Outcome {
	<-ctx.Done()
	return actions.Outcome{RuleID: task.RuleID, Action: task.Action, Status: actions.StatusFailed, Error: ctx.Err().Error()}
}

func TestDispatcherTaskTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(blockingRunner{}, 1, 1, 20*time.Millisecond, logger, nil)
	done := make(chan actions.Outcome, 1)
	d.onDone = func(o actions.Outcome) { done <- o }

	require.NoError(t, d.Submit(context.Background(), actions.Task{RuleID: "r1", Action: rules.ActionWebhook}))
	select {
	case o := <-done:
		assert.Equal(t, actions.StatusFailed, o.Status)
		assert.Equal(t, context.DeadlineExceeded.Error(), o.Error)
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not time out")
	}
	require.NoError(t, d.Stop(context.Background()))
}

func TestDispatcherSubmitAfterStop(t *testing.T) {
	logger, hook := test.NewNullLogger()
	metrics := NewMetrics()
	d := NewDispatcher(blockingRunner{}, 1, 1, time.Millisecond, logger, metrics)
	require.NoError(t, d.Stop(context.Background()))
	require.NoError(t, d.Stop(context.Background()))

	err := d.Submit(context.Background(), actions.Task{RuleID: "r1", Action: rules.ActionSendAlert})
	require.ErrorIs(t, err, ErrDispatcherClosed)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dropped))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "action task dropped", hook.LastEntry().Message)
}

func TestDispatcherSubmitHonoursContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(blockingRunner{}, 1, 1, time.Second, logger, nil)
	// one task occupies the worker, one fills the queue
	require.NoError(t, d.Submit(context.Background(), actions.Task{RuleID: "a"}))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, d.Submit(context.Background(), actions.Task{RuleID: "b"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := d.Submit(ctx, actions.Task{RuleID: "c"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, d.Stop(stopCtx))
}
