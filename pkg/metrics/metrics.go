// Package metrics holds the prometheus collectors of the service. A nil *Metrics
// is valid and records nothing, so components can run without a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry             *prometheus.Registry
	turns                *prometheus.CounterVec
	expertInvocations    *prometheus.CounterVec
	toolOutcomes         *prometheus.CounterVec
	pendingConfirmations prometheus.Gauge
	providerDuration     *prometheus.HistogramVec
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chative_turns_total",
			Help: "Conversation turns by outcome.",
		}, []string{"outcome"}),
		expertInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chative_expert_invocations_total",
			Help: "Expert invocations by expert identity.",
		}, []string{"expert"}),
		toolOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chative_tool_outcomes_total",
			Help: "Tool invocation results by tool and outcome.",
		}, []string{"tool", "outcome"}),
		pendingConfirmations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chative_pending_confirmations",
			Help: "Tool invocations currently waiting for a confirmation decision.",
		}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chative_provider_duration_seconds",
			Help:    "Inference provider call latency by mode.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"mode"}),
	}
	reg.MustRegister(m.turns, m.expertInvocations, m.toolOutcomes, m.pendingConfirmations, m.providerDuration)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ExpertInvoked(expert string) {
	if m == nil {
		return
	}
	m.expertInvocations.WithLabelValues(expert).Inc()
}

func (m *Metrics) ToolOutcome(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolOutcomes.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) ConfirmationPending(delta float64) {
	if m == nil {
		return
	}
	m.pendingConfirmations.Add(delta)
}

func (m *Metrics) ObserveProvider(mode string, started time.Time) {
	if m == nil {
		return
	}
	m.providerDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}
