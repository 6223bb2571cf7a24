package pipeline

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"predixaai-alert-engine/internal/actions"
	"predixaai-alert-engine/internal/rules"
)

type Metrics struct {
	registry       *prometheus.Registry
	processed      *prometheus.CounterVec
	ruleMatches    *prometheus.CounterVec
	actionsTotal   *prometheus.CounterVec
	webhookBlocked prometheus.Counter
	evaluation     prometheus.Histogram
	dropped        prometheus.Counter
}

// NewMetrics registers the engine's collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_alerts_processed_total",
			Help: "Alerts processed, by outcome.",
		}, []string{"outcome"}),
		ruleMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_rule_matches_total",
			Help: "Rule matches, by rule id.",
		}, []string{"rule_id"}),
		actionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_actions_total",
			Help: "Executed actions, by type and outcome.",
		}, []string{"type", "outcome"}),
		webhookBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_webhook_blocked_total",
			Help: "Webhook calls refused by the URL safety gate.",
		}),
		evaluation: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertengine_evaluation_seconds",
			Help:    "Time spent evaluating all rules for one alert.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_tasks_dropped_total",
			Help: "Outbound tasks dropped because the queue was full or closed.",
		}),
	}
}

// ActionDone implements actions.Recorder.
func (m *Metrics) ActionDone(action rules.ActionType, status string) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(string(action), status).Inc()
	if action == rules.ActionWebhook && status == actions.StatusBlocked {
		m.webhookBlocked.Inc()
	}
}

func (m *Metrics) alertProcessed(outcome string) {
	if m != nil {
		m.processed.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ruleMatched(ruleID string) {
	if m != nil {
		m.ruleMatches.WithLabelValues(ruleID).Inc()
	}
}

func (m *Metrics) observeEvaluation(seconds float64) {
	if m != nil {
		m.evaluation.Observe(seconds)
	}
}

func (m *Metrics) taskDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
