package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a TDD session.
type Metrics struct {
	registry      *prometheus.Registry
	Iterations    *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Extraction    prometheus.Counter
	TestRuns      *prometheus.CounterVec
	TestDuration  prometheus.Histogram
	Tokens        *prometheus.CounterVec
	Sessions      *prometheus.CounterVec
	SessionLength *prometheus.HistogramVec
	ModelUsage    *prometheus.CounterVec
	ModelFailures *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry with session collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	iterations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tdd_agent_iterations_total",
		Help: "Loop iterations consumed, by phase at the start of the iteration",
	}, []string{"phase"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tdd_agent_phase_transitions_total",
		Help: "Phase decisions taken after a test run",
	}, []string{"from", "to", "verdict"})

	extraction := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tdd_agent_extraction_failures_total",
		Help: "Model responses that did not yield a structured turn",
	})

	testRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tdd_agent_test_runs_total",
		Help: "Test harness invocations by result",
	}, []string{"result"})

	testDur := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tdd_agent_test_run_duration_seconds",
		Help:    "Test harness wall time in seconds",
		Buckets: prometheus.DefBuckets,
	})

	tokens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tdd_agent_tokens_total",
		Help: "Model usage units by direction",
	}, []string{"direction"})

	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tdd_agent_sessions_total",
		Help: "Finished sessions by outcome",
	}, []string{"outcome"})

	sessionLen := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tdd_agent_session_duration_seconds",
		Help:    "Session duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"outcome"})

	modelUsage := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tdd_agent_model_usage_total",
		Help: "Successful model calls by model",
	}, []string{"model"})

	modelFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tdd_agent_model_failures_total",
		Help: "Model failures by model",
	}, []string{"model"})

	reg.MustRegister(iterations, transitions, extraction, testRuns, testDur, tokens, sessions, sessionLen, modelUsage, modelFailures)

	return &Metrics{
		registry:      reg,
		Iterations:    iterations,
		Transitions:   transitions,
		Extraction:    extraction,
		TestRuns:      testRuns,
		TestDuration:  testDur,
		Tokens:        tokens,
		Sessions:      sessions,
		SessionLength: sessionLen,
		ModelUsage:    modelUsage,
		ModelFailures: modelFailures,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordIteration counts one loop pass in the given phase.
func (m *Metrics) RecordIteration(phase string) {
	if m == nil {
		return
	}
	m.Iterations.WithLabelValues(orUnknown(phase)).Inc()
}

// RecordTransition counts a phase decision.
func (m *Metrics) RecordTransition(from, to, verdict string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(orUnknown(from), orUnknown(to), orUnknown(verdict)).Inc()
}

// RecordExtractionFailure counts a response that could not be parsed.
func (m *Metrics) RecordExtractionFailure() {
	if m == nil {
		return
	}
	m.Extraction.Inc()
}

// RecordTestRun records a harness result and its duration.
func (m *Metrics) RecordTestRun(passed bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "fail"
	if passed {
		result = "pass"
	}
	m.TestRuns.WithLabelValues(result).Inc()
	m.TestDuration.Observe(duration.Seconds())
}

// RecordTokens adds model usage counters.
func (m *Metrics) RecordTokens(input, output int) {
	if m == nil {
		return
	}
	m.Tokens.WithLabelValues("input").Add(float64(input))
	m.Tokens.WithLabelValues("output").Add(float64(output))
}

// RecordSession records the outcome and length of a finished session.
func (m *Metrics) RecordSession(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	outcome = orUnknown(outcome)
	m.Sessions.WithLabelValues(outcome).Inc()
	m.SessionLength.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordModelUsage increments the usage counter for a model.
func (m *Metrics) RecordModelUsage(model string) {
	if m == nil {
		return
	}
	m.ModelUsage.WithLabelValues(orUnknown(model)).Inc()
}

// RecordModelFailure increments the failure counter for a model.
func (m *Metrics) RecordModelFailure(model string) {
	if m == nil {
		return
	}
	m.ModelFailures.WithLabelValues(orUnknown(model)).Inc()
}

// WriteTextfile dumps the registry in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
