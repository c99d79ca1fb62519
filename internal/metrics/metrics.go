// Package metrics exposes Prometheus counters for the chat runtime. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the runtime's collectors on a private registry.
type Metrics struct {
	reg           *prometheus.Registry
	chatOutcomes  *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	securityBlock *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	vendorLatency *prometheus.HistogramVec
	tokens        *prometheus.CounterVec
	jobs          *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		chatOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteagent", Name: "chat_turns_total",
			Help: "Chat turns by agent and outcome.",
		}, []string{"agent", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteagent", Name: "cache_lookups_total",
			Help: "Response cache lookups by result.",
		}, []string{"result"}),
		securityBlock: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteagent", Name: "security_blocks_total",
			Help: "Inbound messages rejected by the security filter, by code.",
		}, []string{"code"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteagent", Name: "tool_calls_total",
			Help: "Tool calls by tool and disposition (executed, proposed, error).",
		}, []string{"tool", "disposition"}),
		vendorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "siteagent", Name: "vendor_request_seconds",
			Help:    "Vendor request latency by provider and result.",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"provider", "result"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteagent", Name: "tokens_total",
			Help: "Tokens consumed by agent.",
		}, []string{"agent"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteagent", Name: "jobs_total",
			Help: "Background jobs by processor and final status.",
		}, []string{"processor", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.chatOutcomes, m.cacheLookups, m.securityBlock, m.toolCalls, m.vendorLatency, m.tokens, m.jobs,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ChatOutcome(agent, outcome string) {
	if m == nil {
		return
	}
	m.chatOutcomes.WithLabelValues(agent, outcome).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) SecurityBlock(code string) {
	if m == nil {
		return
	}
	m.securityBlock.WithLabelValues(code).Inc()
}

func (m *Metrics) ToolCall(tool, disposition string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, disposition).Inc()
}

func (m *Metrics) VendorRequest(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.vendorLatency.WithLabelValues(provider, result).Observe(d.Seconds())
}

func (m *Metrics) Tokens(agent string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokens.WithLabelValues(agent).Add(float64(n))
}

func (m *Metrics) JobFinished(processor, status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(processor, status).Inc()
}
