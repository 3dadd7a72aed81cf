// Package metrics exposes the daemon's Prometheus metrics. A single
// process-wide Registry is created on first use via promauto.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all daemon metrics.
type Registry struct {
	// Reconciliation
	ReconcileTicks    *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	Corrections       *prometheus.CounterVec

	// Collaborators
	CollaboratorErrors    *prometheus.CounterVec
	CollaboratorReachable *prometheus.GaugeVec

	// Subject state
	SubjectAllowed *prometheus.GaugeVec
	ActiveTimers   prometheus.Gauge
	ActiveSkips    prometheus.Gauge
	KnownDevices   *prometheus.GaugeVec

	// Notifications
	Notifications *prometheus.CounterVec

	// System metrics
	Uptime      prometheus.Gauge
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	// Reconciliation
	r.ReconcileTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toggle_reconcile_ticks_total",
		Help: "Total reconciliation ticks by result",
	}, []string{"result"})

	r.ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "toggle_reconcile_duration_seconds",
		Help:    "Duration of reconciliation ticks",
		Buckets: prometheus.DefBuckets,
	})

	r.Corrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toggle_corrections_total",
		Help: "Rule corrections applied by reconciliation",
	}, []string{"subject", "direction"})

	// Collaborators
	r.CollaboratorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toggle_collaborator_errors_total",
		Help: "Errors talking to the packet filter or wireless controller",
	}, []string{"collaborator", "op"})

	r.CollaboratorReachable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "toggle_collaborator_reachable",
		Help: "Whether a collaborator answers probes (1) or not (0)",
	}, []string{"collaborator"})

	// Subject state
	r.SubjectAllowed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "toggle_subject_allowed",
		Help: "Whether a subject's access is currently allowed (1) or blocked (0)",
	}, []string{"subject"})

	r.ActiveTimers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "toggle_active_timers",
		Help: "Number of running timed allow grants",
	})

	r.ActiveSkips = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "toggle_active_skips",
		Help: "Number of active schedule skips",
	})

	r.KnownDevices = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "toggle_known_devices",
		Help: "Size of each subject's known-device cache",
	}, []string{"subject"})

	// Notifications
	r.Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toggle_notifications_total",
		Help: "Notifications dispatched by channel and result",
	}, []string{"channel", "result"})

	// System metrics
	r.Uptime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "toggle_uptime_seconds",
		Help: "Daemon uptime in seconds",
	})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toggle_api_requests_total",
		Help: "Total API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toggle_api_request_duration_seconds",
		Help:    "API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	return r
}

// RecordReconcileTick records one tick and its duration.
func (r *Registry) RecordReconcileTick(err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ReconcileTicks.WithLabelValues(result).Inc()
	r.ReconcileDuration.Observe(duration.Seconds())
}

// RecordCorrection records a reconciliation correction.
func (r *Registry) RecordCorrection(subject string, allowed bool) {
	direction := "block"
	if allowed {
		direction = "allow"
	}
	r.Corrections.WithLabelValues(subject, direction).Inc()
}

// RecordCollaboratorError records a failed collaborator call.
func (r *Registry) RecordCollaboratorError(collaborator, op string) {
	r.CollaboratorErrors.WithLabelValues(collaborator, op).Inc()
}

// SetSubjectAllowed publishes a subject's current access state.
func (r *Registry) SetSubjectAllowed(subject string, allowed bool) {
	v := 0.0
	if allowed {
		v = 1.0
	}
	r.SubjectAllowed.WithLabelValues(subject).Set(v)
}

// SetCollaboratorReachable publishes probe results.
func (r *Registry) SetCollaboratorReachable(collaborator string, reachable bool) {
	v := 0.0
	if reachable {
		v = 1.0
	}
	r.CollaboratorReachable.WithLabelValues(collaborator).Set(v)
}

// RecordNotification records a notification attempt.
func (r *Registry) RecordNotification(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.Notifications.WithLabelValues(channel, result).Inc()
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, statusString(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}

// statusString converts an HTTP status code to string.
func statusString(status int) string {
	return fmt.Sprintf("%d", status)
}
