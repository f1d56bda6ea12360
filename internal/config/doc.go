// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

/*
Package config provides centralized configuration management for Meridian.

Configuration is layered with Koanf v2:

 1. Defaults: built-in values for every setting (defaultConfig)
 2. Config file: optional YAML file found via CONFIG_PATH or DefaultConfigPaths
 3. Environment variables: mapped explicitly by envTransformFunc

# Sections

  - Buffer: capacity and staleness bounds of the event buffer
  - Flush: size/time thresholds, adaptive sizing targets, retry limits
  - Breaker: circuit breaker thresholds and backoff around the classifier
  - Resolver: shared time budget of the location cascade
  - Fusion: embedding similarity threshold, fusion radius, trusted domains
  - Pipeline: resolver worker pool
  - Classifier, Geocoder, Embedder: downstream HTTP endpoints
  - Store: Badger directory for fused events and abandoned items
  - Publisher: in-process fan-out of fused events
  - Server, Security: HTTP listener, CORS and rate limiting
  - Logging: zerolog level and format

# Environment Variables

A selection of the supported variables:

  - BUFFER_MAX_SIZE, BUFFER_MAX_AGE
  - FLUSH_SIZE_THRESHOLD, FLUSH_TIME_THRESHOLD, FLUSH_MAX_RETRIES
  - FLUSH_RETRY_BACKOFF, FLUSH_MAX_RETRY_BACKOFF
  - BREAKER_FAILURE_THRESHOLD, BREAKER_BASE_TIMEOUT, BREAKER_MAX_TIMEOUT
  - RESOLVER_TOTAL_TIMEOUT
  - FUSION_SIMILARITY_THRESHOLD, FUSION_RADIUS_KM, FUSION_TRUSTED_DOMAINS
  - CLASSIFIER_URL, GEOCODER_URL, EMBEDDER_URL
  - STORE_PATH, HTTP_PORT, LOG_LEVEL, LOG_FORMAT

Unmapped environment variables are ignored so unrelated process environment
never leaks into configuration.

# Validation

Validate returns the first problem found, naming the offending environment
variable so operators can fix deployments quickly.
*/
package config
