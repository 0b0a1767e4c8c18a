package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry         *prometheus.Registry
	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	activeJobs       prometheus.Gauge
	pathsTotal       *prometheus.CounterVec
	outputBytesTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgopt_worker_jobs_total",
			Help: "Total prerender jobs by final status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imgopt_worker_job_duration_seconds",
			Help:    "Duration of each prerender job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imgopt_worker_active_jobs",
			Help: "Prerender jobs currently running.",
		}),
		pathsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgopt_worker_paths_total",
			Help: "Prerendered paths by outcome.",
		}, []string{"outcome"}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgopt_worker_output_bytes_total",
			Help: "Bytes written to the processed bucket by prerender jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.pathsTotal,
		m.outputBytesTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
