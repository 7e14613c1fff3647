// Package metrics holds the Prometheus collectors shared by the api and worker processes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "training"

var (
	// Registrations counts register calls by outcome (ok or an error code).
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Registration attempts by outcome.",
	}, []string{"outcome"})

	// CheckIns counts successful check-ins by path (walk_up, registered, repeat).
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkins_total",
		Help:      "Check-ins by path.",
	}, []string{"path"})

	// Declarations counts declaration submissions by outcome.
	Declarations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "declarations_total",
		Help:      "Declaration submissions by outcome.",
	}, []string{"outcome"})

	// Overrides counts manual attendance marks by resulting status.
	Overrides = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "manual_overrides_total",
		Help:      "Manual attendance marks by resulting status.",
	}, []string{"status"})

	// Notifications counts notifier calls by template and result (sent or failed).
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notifications handed to the notifier by template and result.",
	}, []string{"template", "result"})

	// Deliveries counts queued notification jobs delivered by the worker.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_deliveries_total",
		Help:      "Queued notification jobs processed by the worker by result.",
	}, []string{"result"})

	// QueueWait observes how long notification jobs sat on the queue before delivery.
	QueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "notification_queue_wait_seconds",
		Help:      "Time between publishing a notification job and the worker picking it up.",
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
	})

	// SweepDuration observes reminder sweep runtimes.
	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reminder_sweep_duration_seconds",
		Help:      "Reminder sweep duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sweep"})
)

// RegisterQueueDepth exposes the pending notification count. depth is called on every
// scrape and should return -1 when the backend cannot be reached. Call it once per process.
func RegisterQueueDepth(depth func() float64) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "notification_queue_depth",
		Help:      "Notification jobs waiting on the queue.",
	}, depth)
}

// Outcome labels used across collectors.
const (
	ResultSent   = "sent"
	ResultFailed = "failed"
	OutcomeOK    = "ok"
)
