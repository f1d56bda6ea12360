// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

/*
Package metrics provides Prometheus metrics for the Meridian ingestion core.

All collectors are registered on the default registry through promauto and are
exposed at /metrics by the API router:

	curl http://localhost:8742/metrics

# Available Metrics

Buffer:
  - meridian_buffer_items: Pending items (gauge). Labels: tier (normal, priority)
  - meridian_buffer_utilization_ratio: size / max size (gauge)
  - meridian_buffer_enqueue_total: Enqueue outcomes (counter). Labels: priority, result
  - meridian_buffer_evictions_total: Removed items (counter). Labels: reason (stale, capacity, restore)

Flush:
  - meridian_flush_total: Flushes by trigger (counter). Labels: trigger
  - meridian_flush_outcomes_total: Flush results (counter). Labels: result
  - meridian_flush_duration_seconds: Callback latency (histogram)
  - meridian_flush_batch_size: Items per flush (histogram)
  - meridian_flush_threshold_items: Adaptive size threshold (gauge)
  - meridian_flush_abandoned_items_total: Items dropped after retry exhaustion (counter)

Circuit Breaker:
  - circuit_breaker_state: 0=closed, 1=half-open, 2=open (gauge). Labels: name
  - circuit_breaker_requests_total: Labels: name, result (success, failure, rejected)
  - circuit_breaker_state_transitions_total: Labels: name, from_state, to_state

Resolver and Fusion:
  - meridian_resolver_outcomes_total: Labels: strategy, outcome (hit, miss, timeout, error)
  - meridian_resolver_duration_seconds: Whole-cascade latency (histogram)
  - meridian_fusion_items_total: Labels: result (duplicate, merged, created, replayed)
  - meridian_fusion_events: Events held in memory (gauge)
  - meridian_fusion_verified_ratio: Share of events with two or more sources (gauge)

# Example Alert

	- alert: MeridianClassifierCircuitOpen
	  expr: circuit_breaker_state{name="classifier"} == 2
	  for: 5m
*/
package metrics
