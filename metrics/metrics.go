// Package metrics exposes the engine's Prometheus instrumentation: turn
// outcomes, per-stage latency, frame volume, model calls and matcher
// behavior. Each Metrics value owns its registry, so tests and embedded
// engines never collide on collector names.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/counselmesh/counselmesh/core"
)

// Metrics bundles the engine's collectors.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal    *prometheus.CounterVec
	turnDuration  prometheus.Histogram
	stageDuration *prometheus.HistogramVec
	stageRetries  *prometheus.CounterVec
	stageDefaults *prometheus.CounterVec
	framesEmitted *prometheus.CounterVec
	modelCalls    *prometheus.CounterVec
	matchOutcomes *prometheus.CounterVec
	handoffs      prometheus.Counter
	activeTurns   prometheus.Gauge
}

// New creates the collector set on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.turnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "counselmesh",
		Name:      "turns_total",
		Help:      "Turns processed, labeled by terminal stage.",
	}, []string{"outcome"})

	m.turnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "counselmesh",
		Name:      "turn_duration_seconds",
		Help:      "End-to-end turn latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "counselmesh",
		Name:      "stage_duration_seconds",
		Help:      "Per-stage latency, labeled by stage and result.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"stage", "result"})

	m.stageRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "counselmesh",
		Name:      "stage_retries_total",
		Help:      "Stage retry attempts after retryable failures.",
	}, []string{"stage"})

	m.stageDefaults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "counselmesh",
		Name:      "stage_defaults_total",
		Help:      "Stages that fell back to their deterministic default.",
	}, []string{"stage"})

	m.framesEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "counselmesh",
		Name:      "frames_emitted_total",
		Help:      "Frames emitted to clients, labeled by type.",
	}, []string{"type"})

	m.modelCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "counselmesh",
		Name:      "model_calls_total",
		Help:      "Language model invocations, labeled by provider.",
	}, []string{"provider"})

	m.matchOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "counselmesh",
		Name:      "match_outcomes_total",
		Help:      "Matcher invocation outcomes: matched, skip reason or degraded.",
	}, []string{"result"})

	m.handoffs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "counselmesh",
		Name:      "specialist_handoffs_total",
		Help:      "Specialist hand-offs consumed across all conversations.",
	})

	m.activeTurns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "counselmesh",
		Name:      "active_turns",
		Help:      "Turns currently in flight.",
	})

	m.registry.MustRegister(
		m.turnsTotal, m.turnDuration, m.stageDuration, m.stageRetries,
		m.stageDefaults, m.framesEmitted, m.modelCalls, m.matchOutcomes,
		m.handoffs, m.activeTurns,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// TurnStarted marks a turn in flight.
func (m *Metrics) TurnStarted() { m.activeTurns.Inc() }

// TurnFinished records a terminal stage and the end-to-end latency.
func (m *Metrics) TurnFinished(outcome core.TurnStage, d time.Duration) {
	m.activeTurns.Dec()
	m.turnsTotal.WithLabelValues(string(outcome)).Inc()
	m.turnDuration.Observe(d.Seconds())
}

// ObserveStage records one stage attempt.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = core.KindOf(err).String()
	}
	m.stageDuration.WithLabelValues(stage, result).Observe(d.Seconds())
}

// StageRetried counts a retry attempt for a stage.
func (m *Metrics) StageRetried(stage string) { m.stageRetries.WithLabelValues(stage).Inc() }

// StageDefaulted counts a deterministic-default substitution.
func (m *Metrics) StageDefaulted(stage string) { m.stageDefaults.WithLabelValues(stage).Inc() }

// FrameEmitted counts one emitted frame.
func (m *Metrics) FrameEmitted(t core.FrameType) { m.framesEmitted.WithLabelValues(string(t)).Inc() }

// ModelCalled counts one model invocation.
func (m *Metrics) ModelCalled(provider string) { m.modelCalls.WithLabelValues(provider).Inc() }

// MatchOutcome records a matcher invocation result.
func (m *Metrics) MatchOutcome(result string) { m.matchOutcomes.WithLabelValues(result).Inc() }

// HandoffsObserved counts specialist hand-offs consumed in a turn.
func (m *Metrics) HandoffsObserved(n int) { m.handoffs.Add(float64(n)) }
