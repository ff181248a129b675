package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts job run lifecycle transitions. One instance per process,
// passed to the worker; the registry backs the /metrics endpoint.
type Metrics struct {
	registry *prometheus.Registry

	JobsQueued    prometheus.Counter
	JobsRunning   prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		JobsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_queued_total",
			Help: "Total jobs queued (pending)",
		}),
		JobsRunning: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_running_total",
			Help: "Total jobs marked running",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total jobs completed",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total jobs failed",
		}),
	}
	reg.MustRegister(m.JobsQueued, m.JobsRunning, m.JobsCompleted, m.JobsFailed)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
