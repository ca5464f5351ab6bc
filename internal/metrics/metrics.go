package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inktranslate"

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the client-side counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	submissions        *prometheus.CounterVec
	submissionDuration *prometheus.HistogramVec
	statusPolls        *prometheus.CounterVec
	pollRuns           *prometheus.CounterVec
	cancellations      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Translation submissions by endpoint and error type.",
		}, []string{"endpoint", "outcome", "error_type"}),
		submissionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "Wall time from dispatch to artifact or error.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"endpoint"}),
		statusPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Status queries by observed stage (or failure).",
		}, []string{"stage"}),
		pollRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_runs_total",
			Help:      "Finished poll loops by stop reason.",
		}, []string{"reason"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Cancel requests sent to the service.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.submissions,
		m.submissionDuration,
		m.statusPolls,
		m.pollRuns,
		m.cancellations,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSubmission records one finished submission
func (m *Metrics) ObserveSubmission(endpoint, errorType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if errorType != "" {
		outcome = OutcomeFailure
	}
	m.submissions.WithLabelValues(endpoint, outcome, errorType).Inc()
	m.submissionDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveStatusPoll records one status query; stage is empty on failure
func (m *Metrics) ObserveStatusPoll(stage string) {
	if m == nil {
		return
	}
	if stage == "" {
		stage = "failed"
	}
	m.statusPolls.WithLabelValues(stage).Inc()
}

// ObservePollRun records why a poll loop stopped
func (m *Metrics) ObservePollRun(reason string) {
	if m == nil {
		return
	}
	m.pollRuns.WithLabelValues(reason).Inc()
}

// ObserveCancellation records a cancel request
func (m *Metrics) ObserveCancellation(err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.cancellations.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes the current values in the node-exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
