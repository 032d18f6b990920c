// Package metrics holds the prometheus collectors for the lifecycle engine.
// A nil *Lifecycle is valid and records nothing, so components can take it optionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "modbot"

type Lifecycle struct {
	reprimandsIssued    *prometheus.CounterVec
	reprimandsEscalated prometheus.Counter
	reprimandsRemoved   prometheus.Counter
	reprimandsExpired   prometheus.Counter

	eventsCreated   prometheus.Counter
	eventsCancelled prometheus.Counter
	eventsCompleted prometheus.Counter

	statsImported *prometheus.CounterVec

	sweepRuns     *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec

	notify *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Lifecycle {
	factory := promauto.With(reg)
	return &Lifecycle{
		reprimandsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reprimands_issued_total",
			Help:      "Reprimands issued, by kind.",
		}, []string{"kind"}),
		reprimandsEscalated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reprimands_escalated_total",
			Help:      "Oral reprimand groups replaced with a strict one.",
		}),
		reprimandsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reprimands_removed_total",
			Help:      "Reprimands removed by moderators.",
		}),
		reprimandsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reprimands_expired_total",
			Help:      "Reprimands deleted by the expiry sweep.",
		}),
		eventsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_created_total",
			Help:      "Events confirmed.",
		}),
		eventsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_cancelled_total",
			Help:      "Events cancelled.",
		}),
		eventsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_completed_total",
			Help:      "Events marked complete by the completion sweep.",
		}),
		statsImported: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_lines_total",
			Help:      "Imported activity report lines, by result.",
		}, []string{"result"}),
		sweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Sweep ticks, by task and result.",
		}, []string{"task", "result"}),
		sweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Sweep tick duration.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"task"}),
		notify: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_total",
			Help:      "Notifications, by result.",
		}, []string{"result"}),
	}
}

func (m *Lifecycle) ReprimandIssued(kind string) {
	if m != nil {
		m.reprimandsIssued.WithLabelValues(kind).Inc()
	}
}

func (m *Lifecycle) ReprimandEscalated() {
	if m != nil {
		m.reprimandsEscalated.Inc()
	}
}

func (m *Lifecycle) ReprimandRemoved() {
	if m != nil {
		m.reprimandsRemoved.Inc()
	}
}

func (m *Lifecycle) ReprimandsExpired(n int) {
	if m != nil && n > 0 {
		m.reprimandsExpired.Add(float64(n))
	}
}

func (m *Lifecycle) EventCreated() {
	if m != nil {
		m.eventsCreated.Inc()
	}
}

func (m *Lifecycle) EventCancelled() {
	if m != nil {
		m.eventsCancelled.Inc()
	}
}

func (m *Lifecycle) EventsCompleted(n int) {
	if m != nil && n > 0 {
		m.eventsCompleted.Add(float64(n))
	}
}

// StatsImported records one import: applied and skipped report lines.
func (m *Lifecycle) StatsImported(applied, skipped int) {
	if m == nil {
		return
	}
	if applied > 0 {
		m.statsImported.WithLabelValues("applied").Add(float64(applied))
	}
	if skipped > 0 {
		m.statsImported.WithLabelValues("skipped").Add(float64(skipped))
	}
}

func (m *Lifecycle) SweepRun(task string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(task, result).Inc()
	m.sweepDuration.WithLabelValues(task).Observe(took.Seconds())
}

// Notify records a notification outcome: "sent", "failed", "dropped" or "deduped".
func (m *Lifecycle) Notify(result string) {
	if m != nil {
		m.notify.WithLabelValues(result).Inc()
	}
}
