// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tower

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "sentineltower"
	ingestSubsystem  = "ingest"
)

// Metrics holds the tower's Prometheus collectors.
//
// # Fields
//
//   - RequestsTotal: ingestion calls by HTTP status and result
//     (created, duplicate, or the error code)
//   - DurationSeconds: ingestion latency by HTTP status
//   - RateLimitedTotal: requests refused by the rate limiter
//   - FeedClients: connected live-feed websockets
//
// # Thread Safety
//
// All operations are thread-safe. A nil *Metrics is a no-op.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	DurationSeconds  *prometheus.HistogramVec
	RateLimitedTotal prometheus.Counter
	FeedClients      prometheus.Gauge
}

// NewMetrics registers the collectors with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the global
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ingestSubsystem,
				Name:      "requests_total",
				Help:      "Alert ingestion calls by HTTP status and result",
			},
			[]string{"status", "result"},
		),
		DurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: ingestSubsystem,
				Name:      "duration_seconds",
				Help:      "Alert ingestion latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"status"},
		),
		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ingestSubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests refused with SERVICE_UNAVAILABLE by the rate limiter",
			},
		),
		FeedClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "feed",
				Name:      "clients",
				Help:      "Connected live alert feed clients",
			},
		),
	}
}

// ObserveIngest records one Handle call.
func (m *Metrics) ObserveIngest(resp Response, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := strconv.Itoa(resp.Status)
	result := string(resp.Body.Result)
	if resp.Body.Error != nil {
		result = string(resp.Body.Error.Code)
	}
	m.RequestsTotal.WithLabelValues(status, result).Inc()
	m.DurationSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (m *Metrics) rateLimited() {
	if m != nil {
		m.RateLimitedTotal.Inc()
	}
}

func (m *Metrics) feedClients(delta float64) {
	if m != nil {
		m.FeedClients.Add(delta)
	}
}
