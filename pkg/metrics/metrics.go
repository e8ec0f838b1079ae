// Package metrics exposes BRICK2 Prometheus metrics.
//
// All collectors live on a Registry rather than the global default registry,
// so tests and multiple servers in one process never collide. A nil
// *Registry is valid and records nothing.
//
// # Basic Usage
//
//	reg := metrics.New("brick2")
//	reg.RegisterPool(pool.Stats)
//	reg.ObserveDispatch("campaigns.list", "completed", elapsed)
//	http.Handle("/metrics", reg.Handler())
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajitpratap0/brick2/pkg/connpool"
)

// latencyBuckets cover sub-millisecond cache hits through multi-second timeouts
var latencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Registry owns every BRICK2 collector
type Registry struct {
	reg       *prometheus.Registry
	namespace string

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	rejected         prometheus.Counter
	inFlight         prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	loadThroughput   prometheus.Gauge
}

// New creates a registry with the Go runtime and process collectors
func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Registry{
		reg:       reg,
		namespace: namespace,
		dispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "requests_total",
				Help:      "Dispatched operations by final state",
			},
			[]string{"operation", "outcome"},
		),
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "request_duration_seconds",
				Help:      "Time from admission to completion of dispatched operations",
				Buckets:   latencyBuckets,
			},
			[]string{"operation", "outcome"},
		),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "rejected_total",
			Help:      "Requests turned away by admission control",
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "in_flight",
			Help:      "Requests currently admitted",
		}),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   latencyBuckets,
			},
			[]string{"method", "route"},
		),
		loadThroughput: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "loadtest",
			Name:      "throughput_requests_per_second",
			Help:      "Most recent load harness throughput sample",
		}),
	}
}

// Gatherer returns the underlying registry for scraping in tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// RegisterPool exports pool gauges computed from stats at scrape time
func (r *Registry) RegisterPool(stats func() connpool.Stats) {
	if r == nil {
		return
	}
	factory := promauto.With(r.reg)
	gauge := func(name, help string, value func(connpool.Stats) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: r.namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stats()) })
	}
	counter := func(name, help string, value func(connpool.Stats) float64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: r.namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stats()) })
	}

	gauge("leased_connections", "Connections currently leased", func(s connpool.Stats) float64 { return float64(s.Leased) })
	gauge("idle_connections", "Connections idle in the pool", func(s connpool.Stats) float64 { return float64(s.Idle) })
	gauge("total_connections", "Connections open or being dialled", func(s connpool.Stats) float64 { return float64(s.Total) })
	gauge("max_connections", "Configured pool maximum", func(s connpool.Stats) float64 { return float64(s.Max) })
	gauge("waiting_acquires", "Acquires blocked on a connection", func(s connpool.Stats) float64 { return float64(s.Waiting) })
	gauge("utilization_ratio", "Leased connections over maximum", func(s connpool.Stats) float64 { return s.Utilization })
	counter("acquired_total", "Successful acquires", func(s connpool.Stats) float64 { return float64(s.Acquired) })
	counter("created_total", "Connections dialled", func(s connpool.Stats) float64 { return float64(s.Created) })
	counter("discarded_total", "Connections closed after an unhealthy lease", func(s connpool.Stats) float64 { return float64(s.Discarded) })
	counter("reaped_total", "Idle connections closed by the reaper", func(s connpool.Stats) float64 { return float64(s.Reaped) })
	counter("exhausted_total", "Acquires that timed out", func(s connpool.Stats) float64 { return float64(s.Exhausted) })
}

// ObserveDispatch records the final state of one dispatched operation
func (r *Registry) ObserveDispatch(operation, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.dispatchTotal.WithLabelValues(operation, outcome).Inc()
	r.dispatchDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

// ObserveRejected counts one request refused at admission
func (r *Registry) ObserveRejected() {
	if r == nil {
		return
	}
	r.rejected.Inc()
}

// SetInFlight updates the in-flight gauge
func (r *Registry) SetInFlight(n int) {
	if r == nil {
		return
	}
	r.inFlight.Set(float64(n))
}

// ObserveHTTP records one served HTTP request
func (r *Registry) ObserveHTTP(method, route, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, route, status).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ThroughputGauge returns the load harness throughput gauge
func (r *Registry) ThroughputGauge() prometheus.Gauge {
	if r == nil {
		return nil
	}
	return r.loadThroughput
}
