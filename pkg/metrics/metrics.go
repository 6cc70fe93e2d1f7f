/*
Copyright 2025 HZeroxium.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics holds the Prometheus instrumentation for the drift
// control plane. Metrics live in a service-owned registry so the /metrics
// endpoint exposes exactly this service's series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// Metrics is the full metric set, registered against a private registry.
type Metrics struct {
	registry *prometheus.Registry

	HeartbeatsReceived prometheus.Counter
	HeartbeatsFailed   prometheus.Counter
	HeartbeatsSkipped  *prometheus.CounterVec
	IngestionLatency   prometheus.Histogram

	BatchSize     prometheus.Histogram
	BatchDuration prometheus.Histogram
	BatchFailures prometheus.Counter

	DriftEventsEmitted prometheus.Counter
	RefreshTriggered   prometheus.Counter
	RefreshFailed      prometheus.Counter
	OrphansCreated     prometheus.Counter

	CacheHits    *prometheus.CounterVec
	CacheMisses  *prometheus.CounterVec
	CacheErrors  *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec

	ConfigHashFetchDuration prometheus.Histogram
	ConfigHashFallbacks     prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates the metric set on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.NewRegistry())
}

// NewMetricsWithRegistry creates the metric set on the given registry.
// Tests pass an isolated registry per suite.
func NewMetricsWithRegistry(namespace string, registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HeartbeatsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "heartbeats_received_total",
			Help: "Heartbeats accepted by the ingestion gateway.",
		}),
		HeartbeatsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "heartbeats_failed_total",
			Help: "Heartbeats that failed asynchronously after producer acceptance.",
		}),
		HeartbeatsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "heartbeats_skipped_total",
			Help: "Heartbeats dropped during batch processing.",
		}, []string{"reason"}),
		IngestionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "ingestion_latency_seconds",
			Help:    "Wall time from gateway entry to producer acceptance.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_size",
			Help:    "Heartbeats per batch cycle.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_duration_seconds",
			Help:    "Duration of one transactional batch cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		BatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "batch_failures_total",
			Help: "Batch cycles aborted by a commit failure.",
		}),
		DriftEventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "drift_events_total",
			Help: "Drift events written (transitions into DRIFT).",
		}),
		RefreshTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "refresh_triggered_total",
			Help: "Refresh broadcasts requested from the config source.",
		}),
		RefreshFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "refresh_failed_total",
			Help: "Refresh broadcasts that returned an error.",
		}),
		OrphansCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orphan_services_created_total",
			Help: "Application services auto-created without an owning team.",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total",
			Help: "Cache hits by tier.",
		}, []string{"tier", "cache"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total",
			Help: "Cache misses by tier.",
		}, []string{"tier", "cache"}),
		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_errors_total",
			Help: "Cache backend errors by tier.",
		}, []string{"tier", "cache"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
		ConfigHashFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "config_hash_fetch_duration_seconds",
			Help:    "Duration of expected-hash fetches from the config source.",
			Buckets: prometheus.DefBuckets,
		}),
		ConfigHashFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "config_hash_fallbacks_total",
			Help: "Expected-hash requests served from the cached fallback payload.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP facade requests.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP facade request duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	registry.MustRegister(
		m.HeartbeatsReceived, m.HeartbeatsFailed, m.HeartbeatsSkipped, m.IngestionLatency,
		m.BatchSize, m.BatchDuration, m.BatchFailures,
		m.DriftEventsEmitted, m.RefreshTriggered, m.RefreshFailed, m.OrphansCreated,
		m.CacheHits, m.CacheMisses, m.CacheErrors, m.BreakerState,
		m.ConfigHashFetchDuration, m.ConfigHashFallbacks,
		m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// Gatherer exposes the private registry for the /metrics handler.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// ObserveBreakerState records a gobreaker state transition.
func (m *Metrics) ObserveBreakerState(name string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateClosed:
		v = 0
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	m.BreakerState.WithLabelValues(name).Set(v)
}
