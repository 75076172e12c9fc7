// Package metrics defines the Prometheus collectors exported by Beacon.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Beacon. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Checks
	ChecksTotal      *prometheus.CounterVec
	CheckErrorsTotal *prometheus.CounterVec
	CheckDuration    *prometheus.HistogramVec
	MonitorUp        *prometheus.GaugeVec
	TransitionsTotal *prometheus.CounterVec

	// Scheduler
	ScheduledJobs    prometheus.Gauge
	InFlight         prometheus.Gauge
	ActiveWorkers    prometheus.Gauge
	JobsProcessed    prometheus.Counter
	OverlapsSkipped  prometheus.Counter
	QueueFull        prometheus.Counter
	MissedTicks      prometheus.Counter
	WorkerPanicTotal prometheus.Counter

	// Persistence and notification
	PersistenceRetries *prometheus.CounterVec
	PersistenceDropped *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec

	// API
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		ChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_checks_total",
				Help: "Total number of monitor checks performed",
			},
			[]string{"kind", "status"},
		),
		CheckErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_check_errors_total",
				Help: "Failed checks by error class",
			},
			[]string{"kind", "class"},
		),
		CheckDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_check_duration_seconds",
				Help:    "Duration of monitor checks in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"kind"},
		),
		MonitorUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "beacon_monitor_up",
				Help: "Whether a monitor is up (1) or down (0)",
			},
			[]string{"monitor_id", "kind"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_transitions_total",
				Help: "Status transitions by target status",
			},
			[]string{"to"},
		),

		ScheduledJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_scheduler_jobs",
			Help: "Number of scheduled jobs",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_scheduler_in_flight",
			Help: "Number of checks currently executing",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_scheduler_active_workers",
			Help: "Number of worker goroutines processing a check",
		}),
		JobsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_scheduler_jobs_processed_total",
			Help: "Total number of executions processed by the worker pool",
		}),
		OverlapsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_scheduler_overlaps_skipped_total",
			Help: "Fires skipped because the previous check was still running",
		}),
		QueueFull: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_scheduler_queue_full_total",
			Help: "Fires skipped because the worker queue was full",
		}),
		MissedTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_scheduler_missed_ticks_total",
			Help: "Ticks dropped because the scheduler fell behind",
		}),
		WorkerPanicTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_scheduler_panics_total",
			Help: "Panics recovered while executing checks",
		}),

		PersistenceRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_persistence_retries_total",
				Help: "Retried persistence operations",
			},
			[]string{"op"},
		),
		PersistenceDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_persistence_dropped_total",
				Help: "Persistence operations dropped after exhausting retries",
			},
			[]string{"op"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_notifications_total",
				Help: "Notification deliveries by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_http_requests_total",
				Help: "API requests by method, route and status",
			},
			[]string{"method", "path", "status"},
		),
	}
}

// RecordCheck records a completed check
func (m *Metrics) RecordCheck(kind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(kind, status).Inc()
	m.CheckDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCheckError records a failed check by error class
func (m *Metrics) RecordCheckError(kind, class string) {
	if m == nil {
		return
	}
	m.CheckErrorsTotal.WithLabelValues(kind, class).Inc()
}

// SetMonitorStatus sets the up/down status of a monitor
func (m *Metrics) SetMonitorStatus(monitorID int64, kind string, up bool) {
	if m == nil {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	m.MonitorUp.WithLabelValues(strconv.FormatInt(monitorID, 10), kind).Set(value)
}

// ForgetMonitor removes per-monitor series for a deleted monitor
func (m *Metrics) ForgetMonitor(monitorID int64, kind string) {
	if m == nil {
		return
	}
	m.MonitorUp.DeleteLabelValues(strconv.FormatInt(monitorID, 10), kind)
}

// RecordTransition records a status change
func (m *Metrics) RecordTransition(to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(to).Inc()
}

// SetScheduledJobs sets the job table size
func (m *Metrics) SetScheduledJobs(n int) {
	if m == nil {
		return
	}
	m.ScheduledJobs.Set(float64(n))
}

// SetInFlight sets the number of executing checks
func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.InFlight.Set(float64(n))
}

// IncrementActiveWorkers marks a worker busy
func (m *Metrics) IncrementActiveWorkers() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Inc()
}

// DecrementActiveWorkers marks a worker idle and counts the processed job
func (m *Metrics) DecrementActiveWorkers() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
	m.JobsProcessed.Inc()
}

// RecordOverlapSkipped counts a fire skipped by the single-flight guard
func (m *Metrics) RecordOverlapSkipped() {
	if m == nil {
		return
	}
	m.OverlapsSkipped.Inc()
}

// RecordQueueFull counts a fire skipped because the worker queue was full
func (m *Metrics) RecordQueueFull() {
	if m == nil {
		return
	}
	m.QueueFull.Inc()
}

// RecordMissedTicks counts ticks dropped by fixed-rate catch-up
func (m *Metrics) RecordMissedTicks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MissedTicks.Add(float64(n))
}

// RecordPanic counts a recovered panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.WorkerPanicTotal.Inc()
}

// RecordRetry counts one retry of op
func (m *Metrics) RecordRetry(op string) {
	if m == nil {
		return
	}
	m.PersistenceRetries.WithLabelValues(op).Inc()
}

// RecordDropped counts one persistence operation abandoned after retries
func (m *Metrics) RecordDropped(op string) {
	if m == nil {
		return
	}
	m.PersistenceDropped.WithLabelValues(op).Inc()
}

// RecordNotification records a channel delivery outcome
func (m *Metrics) RecordNotification(channel string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.NotificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordHTTPRequest records an API request
func (m *Metrics) RecordHTTPRequest(method, path string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
