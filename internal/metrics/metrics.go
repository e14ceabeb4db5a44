// Package metrics exposes Prometheus instruments for grading and attempts.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/evaluator"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

const namespace = "stagegrade"

// Metrics holds the instruments registered on one registry
type Metrics struct {
	gradingLatency   *prometheus.HistogramVec
	gradingErrors    *prometheus.CounterVec
	submissions      *prometheus.CounterVec
	points           *prometheus.HistogramVec
	checksResolved   prometheus.Counter
	attemptsStarted  prometheus.Counter
	attemptsFinished prometheus.Counter
	activeAttempts   prometheus.Gauge
	transitions      *prometheus.CounterVec
	checkResults     *prometheus.CounterVec
}

// New registers the instruments on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gradingLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grading",
			Name:      "latency_seconds",
			Help:      "Time spent grading one submission, evaluator round trips included",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"kind"}),
		gradingErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grading",
			Name:      "errors_total",
			Help:      "Grading failures by kind and cause",
		}, []string{"kind", "cause"}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grading",
			Name:      "submissions_total",
			Help:      "Graded submissions by kind and whether checks are pending",
		}, []string{"kind", "pending"}),
		points: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grading",
			Name:      "points",
			Help:      "Distribution of awarded points",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}, []string{"kind"}),
		checksResolved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checks",
			Name:      "resolved_total",
			Help:      "Submissions whose last pending check resolved",
		}),
		checkResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checks",
			Name:      "results_total",
			Help:      "Test case results received from checkers",
		}, []string{"passed"}),
		attemptsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attempts",
			Name:      "started_total",
			Help:      "Attempts started",
		}),
		attemptsFinished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attempts",
			Name:      "finished_total",
			Help:      "Attempts that reached the end of their exercise",
		}),
		activeAttempts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "attempts",
			Name:      "active",
			Help:      "Attempts started and not yet finished",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "navigation",
			Name:      "transitions_total",
			Help:      "Stage transitions taken",
		}, []string{"repeat"}),
	}
}

// ObserveGrading records the latency and outcome of one grading pass
func (m *Metrics) ObserveGrading(kind domain.Kind, elapsed time.Duration, err error) {
	m.gradingLatency.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	if err != nil {
		m.gradingErrors.WithLabelValues(string(kind), cause(err)).Inc()
	}
}

// ObserveCheckResult counts one test case result reported by a checker
func (m *Metrics) ObserveCheckResult(passed bool) {
	m.checkResults.WithLabelValues(strconv.FormatBool(passed)).Inc()
}

// Subscribe wires the instruments to the domain event stream
func (m *Metrics) Subscribe(d *domain.EventDispatcher) {
	d.Subscribe(domain.EventAttemptStarted, func(domain.Event) {
		m.attemptsStarted.Inc()
		m.activeAttempts.Inc()
	})
	d.Subscribe(domain.EventAttemptFinished, func(domain.Event) {
		m.attemptsFinished.Inc()
		m.activeAttempts.Dec()
	})
	d.Subscribe(domain.EventSubmissionGraded, func(e domain.Event) {
		ev, ok := e.(domain.SubmissionGradedEvent)
		if !ok {
			return
		}
		m.submissions.WithLabelValues(string(ev.Kind), strconv.FormatBool(ev.Pending)).Inc()
		if !ev.Pending {
			m.points.WithLabelValues(string(ev.Kind)).Observe(float64(ev.Points))
		}
	})
	d.Subscribe(domain.EventChecksResolved, func(domain.Event) {
		m.checksResolved.Inc()
	})
	d.Subscribe(domain.EventStageEntered, func(e domain.Event) {
		ev, ok := e.(domain.StageEnteredEvent)
		if !ok {
			return
		}
		m.transitions.WithLabelValues(strconv.FormatBool(ev.Repeat)).Inc()
	})
}

func cause(err error) string {
	var notDefined *vars.NotDefinedError
	switch {
	case errors.As(err, &notDefined):
		return "undefined_variable"
	case errors.Is(err, evaluator.ErrUnavailable):
		return "evaluator_unavailable"
	case errors.Is(err, domain.ErrKindMismatch):
		return "kind_mismatch"
	default:
		return "other"
	}
}
