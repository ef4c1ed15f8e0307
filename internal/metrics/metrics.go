package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	ArmedJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hound_scheduler_armed_jobs",
			Help: "Number of reminder timers currently armed",
		},
	)

	ReminderFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hound_reminder_fires_total",
			Help: "Total number of reminder occurrences fired by reminder type",
		},
		[]string{"type"},
	)

	CatchUpFires = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hound_reminder_catchup_fires_total",
			Help: "Total number of overdue occurrences fired immediately on upsert",
		},
	)

	ReconcileRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hound_reconcile_repairs_total",
			Help: "Total number of registry entries repaired by reconcile, by kind",
		},
		[]string{"kind"},
	)

	// Notification metrics
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hound_notifications_total",
			Help: "Total number of push notifications by result",
		},
		[]string{"result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hound_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hound_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(ArmedJobs)
	prometheus.MustRegister(ReminderFires)
	prometheus.MustRegister(CatchUpFires)
	prometheus.MustRegister(ReconcileRepairs)
	prometheus.MustRegister(Notifications)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
