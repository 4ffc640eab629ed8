package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/mode"
)

const namespace = "lurker"

// Metrics holds every collector the engine exports. It observes decisions,
// mode transitions, reply dispatch and focus analyzers.
type Metrics struct {
	registry *prometheus.Registry

	Decisions       *prometheus.CounterVec
	Interest        prometheus.Histogram
	Willingness     *prometheus.HistogramVec
	ModeTransitions *prometheus.CounterVec
	Replies         *prometheus.CounterVec
	Analyzers       *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decisions by kind, mode and reason.",
		}, []string{"kind", "mode", "reason"}),
		Interest: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interest_score",
			Help:      "Composite interest score of evaluated messages.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		Willingness: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "willingness",
			Help:      "Willingness computed per decision.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"mode"}),
		ModeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_transitions_total",
			Help:      "Mode transitions by source, target and reason.",
		}, []string{"from", "to", "reason"}),
		Replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Reply intents by dispatch outcome.",
		}, []string{"outcome", "sender"}),
		Analyzers: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analyzer_duration_seconds",
			Help:      "Focused analyzer latency by analyzer and outcome.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"analyzer", "outcome"}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Decisions,
		m.Interest,
		m.Willingness,
		m.ModeTransitions,
		m.Replies,
		m.Analyzers,
	)
	return m
}

// RegisterGauge exports fn as a gauge sampled at scrape time.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveDecision(decision chat.Decision, score chat.InterestScore) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(string(decision.Kind), string(decision.Mode), decision.Reason).Inc()
	if score.MessageID != "" && score.Breakdown != nil {
		m.Interest.Observe(score.Composite)
	}
	if decision.Mode != "" {
		m.Willingness.WithLabelValues(string(decision.Mode)).Observe(decision.Willingness)
	}
}

func (m *Metrics) ObserveTransition(transition mode.Transition) {
	if m == nil {
		return
	}
	m.ModeTransitions.WithLabelValues(string(transition.From), string(transition.To), transition.Reason).Inc()
}

func (m *Metrics) ObserveAnalyzer(name, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Analyzers.WithLabelValues(name, outcome).Observe(took.Seconds())
}

func (m *Metrics) ReplyQueued(chat.Reply) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues("queued", "").Inc()
}

func (m *Metrics) ReplyDelivered(_ chat.Reply, sender string) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues("delivered", sender).Inc()
}

func (m *Metrics) ReplyFailed(chat.Reply, error) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues("failed", "").Inc()
}
