package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs           *prometheus.CounterVec
	failures       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	overdueOrders  prometheus.Gauge
	overdueAmount  prometheus.Gauge
	recomputeFails prometheus.Counter
	reminders      *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveDueSweep publishes the outcome of a due sweep. overdue is the summed
// overdue amount across orders, mixed currencies included.
func (m *Metrics) ObserveDueSweep(dueOrders, failed int, overdue float64) {
	if m == nil {
		return
	}
	m.overdueOrders.Set(float64(dueOrders))
	m.overdueAmount.Set(overdue)
	if failed > 0 {
		m.recomputeFails.Add(float64(failed))
	}
}

// AddReminders counts reminder e-mails queued for a template.
func (m *Metrics) AddReminders(template string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reminders.WithLabelValues(template).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orbit_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	overdueOrders := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbit_sales_overdue_orders",
		Help: "Orders in the due state after the last sweep.",
	})
	overdueAmount := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbit_sales_overdue_amount",
		Help: "Sum of overdue amounts after the last sweep.",
	})
	recomputeFails := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbit_sales_recompute_failures_total",
		Help: "Orders the due sweep failed to recompute.",
	})
	reminders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_sales_reminders_total",
		Help: "Reminder e-mails queued grouped by template.",
	}, []string{"template"})
	registerer.MustRegister(runs, failures, duration, overdueOrders, overdueAmount, recomputeFails, reminders)
	return &Metrics{
		runs:           runs,
		failures:       failures,
		duration:       duration,
		overdueOrders:  overdueOrders,
		overdueAmount:  overdueAmount,
		recomputeFails: recomputeFails,
		reminders:      reminders,
	}
}
