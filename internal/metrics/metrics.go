// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors, registered on a private registry so tests
// can create as many instances as they like. A nil *Metrics records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	aiRequests  *prometheus.CounterVec
	aiLatency   *prometheus.HistogramVec
	verdicts    *prometheus.CounterVec
	chatReplies *prometheus.CounterVec
}

// New creates the collectors together with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		aiRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foodguard_ai_requests_total",
				Help: "AI backend requests by backend and outcome.",
			},
			[]string{"backend", "outcome"},
		),
		aiLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "foodguard_ai_request_duration_seconds",
				Help:    "Latency of AI backend requests.",
				Buckets: []float64{.25, .5, 1, 2, 4, 8, 15, 30},
			},
			[]string{"backend"},
		),
		verdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foodguard_verdicts_total",
				Help: "Verdicts produced by source and strategy.",
			},
			[]string{"source", "strategy"},
		),
		chatReplies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foodguard_chat_replies_total",
				Help: "Follow-up chat replies by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveAIRequest records one backend call.
func (m *Metrics) ObserveAIRequest(backend, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.aiRequests.WithLabelValues(backend, outcome).Inc()
	m.aiLatency.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordVerdict counts a verdict.
func (m *Metrics) RecordVerdict(source, strategy string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(source, strategy).Inc()
}

// RecordChatReply counts a chat reply; outcome is "answered" or "apology".
func (m *Metrics) RecordChatReply(outcome string) {
	if m == nil {
		return
	}
	m.chatReplies.WithLabelValues(outcome).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
