// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the [*Engine].
//
// Hooks run inline with workers and the registry, so implementations
// must be cheap and safe for concurrent use.
type Collector interface {
	// ObserveRequest records a completed record. The kind is "ipp" or
	// "file" and the outcome is "ok", "error" or "canceled".
	ObserveRequest(kind, outcome string, elapsed time.Duration)

	// SetOutstanding reports the number of registered records.
	SetOutstanding(count int)

	// SetConnections reports the number of cached connections.
	SetConnections(count int)

	// SetWorkers reports the number of live worker goroutines.
	SetWorkers(count int)

	// IncConnectionsOpened counts transport handles opened.
	IncConnectionsOpened()

	// AddConnectionsReclaimed counts connections evicted as idle.
	AddConnectionsReclaimed(count int)
}

type noopCollector struct{}

// NoopCollector returns a [Collector] that discards all metrics.
func NoopCollector() Collector {
	return noopCollector{}
}

func (noopCollector) ObserveRequest(string, string, time.Duration) {}
func (noopCollector) SetOutstanding(int)                           {}
func (noopCollector) SetConnections(int)                           {}
func (noopCollector) SetWorkers(int)                               {}
func (noopCollector) IncConnectionsOpened()                        {}
func (noopCollector) AddConnectionsReclaimed(int)                  {}

// PrometheusCollector exposes engine telemetry via Prometheus.
type PrometheusCollector struct {
	requests             *prometheus.CounterVec
	duration             *prometheus.HistogramVec
	outstanding          prometheus.Gauge
	connections          prometheus.Gauge
	workers              prometheus.Gauge
	connectionsOpened    prometheus.Counter
	connectionsReclaimed prometheus.Counter
}

var _ Collector = &PrometheusCollector{}

// NewPrometheusCollector registers the engine metrics with reg.
//
// When reg is nil, [prometheus.DefaultRegisterer] is used. Metrics that
// are already registered, for example by another engine in the same
// process, are shared.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requests, err := registerOrExisting(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gnomecups_requests_total",
		Help: "Number of completed requests by kind and outcome.",
	}, []string{"kind", "outcome"}))
	if err != nil {
		return nil, err
	}
	duration, err := registerOrExisting(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gnomecups_request_duration_seconds",
		Help:    "Time from submission to completion of requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	outstanding, err := registerOrExisting(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gnomecups_outstanding_requests",
		Help: "Number of submitted requests not yet delivered.",
	}))
	if err != nil {
		return nil, err
	}
	connections, err := registerOrExisting(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gnomecups_cached_connections",
		Help: "Number of per-server connections in the cache.",
	}))
	if err != nil {
		return nil, err
	}
	workers, err := registerOrExisting(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gnomecups_workers",
		Help: "Number of live worker goroutines.",
	}))
	if err != nil {
		return nil, err
	}
	opened, err := registerOrExisting(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gnomecups_connections_opened_total",
		Help: "Number of transport connections opened.",
	}))
	if err != nil {
		return nil, err
	}
	reclaimed, err := registerOrExisting(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gnomecups_connections_reclaimed_total",
		Help: "Number of idle connections closed by the reclaimer.",
	}))
	if err != nil {
		return nil, err
	}
	return &PrometheusCollector{
		requests:             requests,
		duration:             duration,
		outstanding:          outstanding,
		connections:          connections,
		workers:              workers,
		connectionsOpened:    opened,
		connectionsReclaimed: reclaimed,
	}, nil
}

// registerOrExisting registers c, or returns the collector already
// registered under the same descriptor.
func registerOrExisting[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// ObserveRequest implements [Collector].
func (p *PrometheusCollector) ObserveRequest(kind, outcome string, elapsed time.Duration) {
	p.requests.WithLabelValues(kind, outcome).Inc()
	p.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// SetOutstanding implements [Collector].
func (p *PrometheusCollector) SetOutstanding(count int) {
	p.outstanding.Set(float64(count))
}

// SetConnections implements [Collector].
func (p *PrometheusCollector) SetConnections(count int) {
	p.connections.Set(float64(count))
}

// SetWorkers implements [Collector].
func (p *PrometheusCollector) SetWorkers(count int) {
	p.workers.Set(float64(count))
}

// IncConnectionsOpened implements [Collector].
func (p *PrometheusCollector) IncConnectionsOpened() {
	p.connectionsOpened.Inc()
}

// AddConnectionsReclaimed implements [Collector].
func (p *PrometheusCollector) AddConnectionsReclaimed(count int) {
	if count <= 0 {
		return
	}
	p.connectionsReclaimed.Add(float64(count))
}
