package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics captures background job health.
type SchedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	evicted     *prometheus.CounterVec
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer)
	})
	return schedulerMetrics
}

func newSchedulerMetrics(registerer prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paydesk_scheduler_job_runs_total",
			Help: "Scheduler job runs by name.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paydesk_scheduler_job_errors_total",
			Help: "Scheduler job failures by name.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paydesk_scheduler_job_duration_seconds",
			Help:    "Scheduler job latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paydesk_snapshot_evictions_total",
			Help: "Expired entries removed by the sweeper.",
		}, []string{"kind"}),
	}
	registerer.MustRegister(m.jobRuns, m.jobErrors, m.jobDuration, m.evicted)
	return m
}

func (m *SchedulerMetrics) ObserveJob(job string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.jobErrors.WithLabelValues(job).Inc()
	}
}

func (m *SchedulerMetrics) AddEvicted(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.evicted.WithLabelValues(kind).Add(float64(count))
}
