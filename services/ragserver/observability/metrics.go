// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability records per-request metrics, serves health
// probes, and keeps the log tail for the /logs route.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metrics
// =============================================================================

// Metrics aggregates request counters and latency histograms. Prometheus
// vectors feed external scraping; the internal reservoir backs the
// envelope-shaped /metrics snapshot.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	BytesIn         prometheus.Counter
	BytesOut        prometheus.Counter
	ActiveStreams   prometheus.Gauge

	mu        sync.Mutex
	total     uint64
	errors    uint64
	byRoute   map[string]uint64
	byStatus  map[int]uint64
	latencies []float64 // seconds; bounded reservoir
	started   time.Time
}

// latencyReservoirSize bounds the snapshot percentile sample.
const latencyReservoirSize = 4096

// NewMetrics registers the vectors on a fresh registry-compatible set.
// Using promauto with a private registerer keeps tests from colliding on
// the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragserver_requests_total",
				Help: "HTTP requests by method, route, tier, and status.",
			},
			[]string{"method", "route", "tier", "status"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragserver_errors_total",
				Help: "HTTP error responses by route and error code.",
			},
			[]string{"route", "error_code"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragserver_request_duration_seconds",
				Help:    "Request latency by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		BytesIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "ragserver_bytes_in_total",
			Help: "Request body bytes received.",
		}),
		BytesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "ragserver_bytes_out_total",
			Help: "Response body bytes sent.",
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ragserver_active_streams",
			Help: "SSE streams currently open.",
		}),
		byRoute:  make(map[string]uint64),
		byStatus: make(map[int]uint64),
		started:  time.Now(),
	}
}

// Observe records one completed request.
func (m *Metrics) Observe(method, route, tier string, status int, latency time.Duration, bytesIn, bytesOut int64) {
	statusLabel := statusClass(status)
	m.RequestsTotal.WithLabelValues(method, route, tier, statusLabel).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(latency.Seconds())
	if bytesIn > 0 {
		m.BytesIn.Add(float64(bytesIn))
	}
	if bytesOut > 0 {
		m.BytesOut.Add(float64(bytesOut))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	if status >= 400 {
		m.errors++
	}
	m.byRoute[route]++
	m.byStatus[status]++
	if len(m.latencies) < latencyReservoirSize {
		m.latencies = append(m.latencies, latency.Seconds())
	} else {
		// Overwrite a rotating slot once full; cheap and good enough for
		// snapshot percentiles.
		m.latencies[int(m.total)%latencyReservoirSize] = latency.Seconds()
	}
}

// ObserveError records an error response's code label.
func (m *Metrics) ObserveError(route, errorCode string) {
	m.ErrorsTotal.WithLabelValues(route, errorCode).Inc()
}

// Snapshot renders the envelope view of the counters.
func (m *Metrics) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	sample := append([]float64(nil), m.latencies...)
	sort.Float64s(sample)

	return map[string]any{
		"total_requests": m.total,
		"total_errors":   m.errors,
		"by_route":       copyMap(m.byRoute),
		"by_status":      copyStatusMap(m.byStatus),
		"latency_seconds": map[string]float64{
			"p50": percentile(sample, 0.50),
			"p95": percentile(sample, 0.95),
			"p99": percentile(sample, 0.99),
		},
		"uptime_seconds": time.Since(m.started).Seconds(),
	}
}

func statusClass(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func copyMap(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyStatusMap(in map[int]uint64) map[int]uint64 {
	out := make(map[int]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
