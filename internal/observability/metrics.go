package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveCalls        prometheus.Gauge
	LiveSessions       prometheus.Gauge
	CallEvents         *prometheus.CounterVec
	DialResults        *prometheus.CounterVec
	CorrelationLookups *prometheus.CounterVec
	StartTriggers      *prometheus.CounterVec
	Outcomes           *prometheus.CounterVec
	CampaignRuns       *prometheus.CounterVec
	WebhookEvents      *prometheus.CounterVec
	ConnectLatency     prometheus.Histogram

	latency *latencyWindow
}

// NewMetrics registers the instruments on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the instruments on reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Calls currently holding a dispatch slot.",
		}),
		LiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "correlator_live_sessions",
			Help:      "Sessions currently indexed by the correlator.",
		}),
		CallEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle transitions by target state and reason.",
		}, []string{"state", "reason"}),
		DialResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_results_total",
			Help:      "Outbound dial attempts by result.",
		}, []string{"result"}),
		CorrelationLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_lookups_total",
			Help:      "Session resolutions by matching identifier kind.",
		}, []string{"match"}),
		StartTriggers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_start_triggers_total",
			Help:      "Which trigger moved a call to live, or timed it out.",
		}, []string{"trigger"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_outcomes_total",
			Help:      "Recorded call outcomes by call status.",
		}, []string{"call_status"}),
		CampaignRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaign_runs_total",
			Help:      "Finished campaign runs by final status.",
		}, []string{"status"}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Provider callbacks by endpoint and result.",
		}, []string{"endpoint", "result"}),
		ConnectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_to_live_ms",
			Help:      "Latency from media attach to conversation start in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 15000},
		}),
		latency: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveCallEvent(state, reason string) {
	if m == nil {
		return
	}
	m.CallEvents.WithLabelValues(state, reason).Inc()
}

func (m *Metrics) ObserveDial(result string) {
	if m == nil {
		return
	}
	m.DialResults.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveLookup(match string) {
	if m == nil {
		return
	}
	m.CorrelationLookups.WithLabelValues(match).Inc()
}

func (m *Metrics) ObserveStartTrigger(trigger string, latency time.Duration) {
	if m == nil {
		return
	}
	m.StartTriggers.WithLabelValues(trigger).Inc()
	if latency > 0 {
		m.ConnectLatency.Observe(float64(latency.Milliseconds()))
		m.latency.Observe(StageConnect, latency)
	}
}

// ObserveStage records a call-stage latency in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(stage, d)
}

// LatencySnapshot summarizes recent call-stage latencies.
func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.latency.Snapshot()
}

func (m *Metrics) ObserveOutcome(callStatus string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(callStatus).Inc()
}

func (m *Metrics) ObserveCampaignRun(status string) {
	if m == nil {
		return
	}
	m.CampaignRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveWebhook(endpoint, result string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(endpoint, result).Inc()
}

func (m *Metrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.ActiveCalls.Set(float64(n))
}

func (m *Metrics) SetLiveSessions(n int) {
	if m == nil {
		return
	}
	m.LiveSessions.Set(float64(n))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
