// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Buffer Metrics
	BufferItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meridian_buffer_items",
			Help: "Current number of buffered items",
		},
		[]string{"tier"}, // "normal", "priority"
	)

	BufferUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_buffer_utilization_ratio",
			Help: "Buffer occupancy as a fraction of max size",
		},
	)

	BufferEnqueueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_buffer_enqueue_total",
			Help: "Total number of enqueue attempts by outcome",
		},
		[]string{"priority", "result"}, // result: "accepted", "rejected"
	)

	BufferEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_buffer_evictions_total",
			Help: "Total number of items removed from the buffer without being flushed",
		},
		[]string{"reason"}, // "stale", "capacity", "restore"
	)

	// Flush Metrics
	FlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_flush_total",
			Help: "Total number of flushes started, by trigger",
		},
		[]string{"trigger"}, // "size", "time", "deadline", "urgent", "memory", "manual", "pending", "shutdown"
	)

	FlushOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_flush_outcomes_total",
			Help: "Total number of completed flushes by result",
		},
		[]string{"result"}, // "success", "failure", "skipped"
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meridian_flush_duration_seconds",
			Help:    "Duration of flush callbacks in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	FlushBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meridian_flush_batch_size",
			Help:    "Number of items per flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	FlushThreshold = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_flush_threshold_items",
			Help: "Current adaptive size threshold",
		},
	)

	FlushAbandonedItems = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_flush_abandoned_items_total",
			Help: "Total number of items abandoned after exhausting flush retries",
		},
	)

	FlushRetryKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_flush_retry_keys",
			Help: "Number of batch keys currently tracked for retry",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Resolver Metrics
	ResolverOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_resolver_outcomes_total",
			Help: "Total number of resolver strategy outcomes",
		},
		[]string{"strategy", "outcome"}, // outcome: "hit", "miss", "timeout", "error"
	)

	ResolverDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meridian_resolver_duration_seconds",
			Help:    "Duration of a full resolution cascade in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Fusion Metrics
	FusionItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_fusion_items_total",
			Help: "Total number of items processed by the fusion engine by result",
		},
		[]string{"result"}, // "duplicate", "merged", "created", "replayed"
	)

	FusionEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_fusion_events",
			Help: "Number of fused events held in memory",
		},
	)

	FusionVerifiedRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_fusion_verified_ratio",
			Help: "Fraction of fused events corroborated by two or more sources",
		},
	)

	// Sink Metrics
	SinkWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_sink_writes_total",
			Help: "Total number of fused-event writes by sink and result",
		},
		[]string{"sink", "result"},
	)

	// Outbound HTTP client metrics (classifier, geocoder, embedder)
	ClientRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_client_requests_total",
			Help: "Total number of outbound requests to downstream services",
		},
		[]string{"client", "result"},
	)

	ClientRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meridian_client_request_duration_seconds",
			Help:    "Duration of outbound requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"client"},
	)

	// Pipeline Metrics
	PipelineQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_pipeline_queue_depth",
			Help: "Items waiting for location resolution",
		},
	)

	PipelineSubmitRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_pipeline_submit_rejected_total",
			Help: "Total number of submissions rejected because the resolver queue was full",
		},
	)

	PipelineSubmitDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_pipeline_submit_dropped_total",
			Help: "Total number of accepted submissions the buffer rejected after location resolution",
		},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Application Info
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// UpdateBufferGauges publishes the current buffer occupancy.
func UpdateBufferGauges(normal, priority int, utilization float64) {
	BufferItems.WithLabelValues("normal").Set(float64(normal))
	BufferItems.WithLabelValues("priority").Set(float64(priority))
	BufferUtilization.Set(utilization)
}

// RecordEnqueue records the outcome of a buffer enqueue.
func RecordEnqueue(priority string, accepted bool) {
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	BufferEnqueueTotal.WithLabelValues(priority, result).Inc()
}

// RecordEviction records items removed from the buffer without being flushed.
func RecordEviction(reason string, count int) {
	if count <= 0 {
		return
	}
	BufferEvictions.WithLabelValues(reason).Add(float64(count))
}

// RecordFlush records a completed flush callback.
func RecordFlush(batchSize int, duration time.Duration, result string) {
	FlushBatchSize.Observe(float64(batchSize))
	FlushDuration.Observe(duration.Seconds())
	FlushOutcomes.WithLabelValues(result).Inc()
}

// RecordAbandoned records items dropped after retry exhaustion.
func RecordAbandoned(count int) {
	FlushAbandonedItems.Add(float64(count))
}

// RecordResolverOutcome records one strategy outcome.
func RecordResolverOutcome(strategy, outcome string) {
	ResolverOutcomes.WithLabelValues(strategy, outcome).Inc()
}

// RecordFusion records per-item fusion results.
func RecordFusion(result string, count int) {
	if count <= 0 {
		return
	}
	FusionItems.WithLabelValues(result).Add(float64(count))
}

// UpdateFusionGauges publishes the in-memory event count and verified ratio.
func UpdateFusionGauges(events int, verifiedRatio float64) {
	FusionEvents.Set(float64(events))
	FusionVerifiedRatio.Set(verifiedRatio)
}

// RecordSinkWrite records a write to a fused-event sink.
func RecordSinkWrite(sink string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	SinkWrites.WithLabelValues(sink, result).Inc()
}

// RecordClientRequest records an outbound request to a downstream service.
func RecordClientRequest(client string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	ClientRequests.WithLabelValues(client, result).Inc()
	ClientRequestDuration.WithLabelValues(client).Observe(duration.Seconds())
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
