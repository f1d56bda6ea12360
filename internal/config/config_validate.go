// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package config

import (
	"fmt"
	"net/url"
	"time"
)

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"json": true, "console": true,
}

var validEmbedderProviders = map[string]bool{
	"hashing": true, "http": true,
}

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateBuffer,
		c.validateFlush,
		c.validateBreaker,
		c.validateResolver,
		c.validateFusion,
		c.validatePipeline,
		c.validateDownstream,
		c.validateStore,
		c.validateServer,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateBuffer() error {
	if c.Buffer.MaxSize < 1 {
		return fmt.Errorf("BUFFER_MAX_SIZE must be at least 1, got %d", c.Buffer.MaxSize)
	}
	if c.Buffer.MaxAge <= 0 {
		return fmt.Errorf("BUFFER_MAX_AGE must be positive, got %v", c.Buffer.MaxAge)
	}
	return nil
}

func (c *Config) validateFlush() error {
	f := c.Flush
	if f.MinBatchSize < 1 {
		return fmt.Errorf("FLUSH_MIN_BATCH_SIZE must be at least 1, got %d", f.MinBatchSize)
	}
	if f.MaxBatchSize < f.MinBatchSize {
		return fmt.Errorf("FLUSH_MAX_BATCH_SIZE (%d) must be >= FLUSH_MIN_BATCH_SIZE (%d)", f.MaxBatchSize, f.MinBatchSize)
	}
	if f.SizeThreshold < f.MinBatchSize || f.SizeThreshold > f.MaxBatchSize {
		return fmt.Errorf("FLUSH_SIZE_THRESHOLD (%d) must be within [%d, %d]", f.SizeThreshold, f.MinBatchSize, f.MaxBatchSize)
	}
	if f.TimeThreshold <= 0 {
		return fmt.Errorf("FLUSH_TIME_THRESHOLD must be positive, got %v", f.TimeThreshold)
	}
	if f.AggressiveFlushThreshold <= 0 || f.AggressiveFlushThreshold > 1 {
		return fmt.Errorf("FLUSH_AGGRESSIVE_THRESHOLD must be in (0, 1], got %v", f.AggressiveFlushThreshold)
	}
	if f.FlushTimeout <= 0 {
		return fmt.Errorf("FLUSH_TIMEOUT must be positive, got %v", f.FlushTimeout)
	}
	if f.MaxRetries < 0 {
		return fmt.Errorf("FLUSH_MAX_RETRIES must not be negative, got %d", f.MaxRetries)
	}
	if f.RetryBackoff <= 0 || f.MaxRetryBackoff < f.RetryBackoff {
		return fmt.Errorf("FLUSH_RETRY_BACKOFF (%v) must be positive and <= FLUSH_MAX_RETRY_BACKOFF (%v)", f.RetryBackoff, f.MaxRetryBackoff)
	}
	return nil
}

func (c *Config) validateBreaker() error {
	b := c.Breaker
	if b.FailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1, got %d", b.FailureThreshold)
	}
	if b.SuccessThreshold < 1 {
		return fmt.Errorf("BREAKER_SUCCESS_THRESHOLD must be at least 1, got %d", b.SuccessThreshold)
	}
	if b.BaseTimeout <= 0 || b.MaxTimeout < b.BaseTimeout {
		return fmt.Errorf("BREAKER_BASE_TIMEOUT (%v) must be positive and <= BREAKER_MAX_TIMEOUT (%v)", b.BaseTimeout, b.MaxTimeout)
	}
	if b.BackoffMultiplier < 1 {
		return fmt.Errorf("BREAKER_BACKOFF_MULTIPLIER must be >= 1, got %v", b.BackoffMultiplier)
	}
	if b.JitterFactor < 0 || b.JitterFactor > 1 {
		return fmt.Errorf("BREAKER_JITTER_FACTOR must be in [0, 1], got %v", b.JitterFactor)
	}
	return nil
}

func (c *Config) validateResolver() error {
	if c.Resolver.TotalTimeout <= 0 || c.Resolver.TotalTimeout > time.Minute {
		return fmt.Errorf("RESOLVER_TOTAL_TIMEOUT must be in (0, 1m], got %v", c.Resolver.TotalTimeout)
	}
	if c.Resolver.CacheSize < 1 {
		return fmt.Errorf("RESOLVER_CACHE_SIZE must be at least 1, got %d", c.Resolver.CacheSize)
	}
	return nil
}

func (c *Config) validateFusion() error {
	if c.Fusion.SimilarityThreshold <= 0 || c.Fusion.SimilarityThreshold > 1 {
		return fmt.Errorf("FUSION_SIMILARITY_THRESHOLD must be in (0, 1], got %v", c.Fusion.SimilarityThreshold)
	}
	if c.Fusion.RadiusKm <= 0 {
		return fmt.Errorf("FUSION_RADIUS_KM must be positive, got %v", c.Fusion.RadiusKm)
	}
	if c.Fusion.Retention < 0 {
		return fmt.Errorf("FUSION_RETENTION must not be negative, got %v", c.Fusion.Retention)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("PIPELINE_QUEUE_SIZE must be at least 1, got %d", c.Pipeline.QueueSize)
	}
	return nil
}

func (c *Config) validateDownstream() error {
	switch c.Classifier.Provider {
	case "keyword":
	case "http", "":
		if c.Classifier.URL == "" {
			return fmt.Errorf("CLASSIFIER_URL is required")
		}
		if err := validateHTTPURL(c.Classifier.URL, "CLASSIFIER_URL"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("CLASSIFIER_PROVIDER must be http or keyword, got %q", c.Classifier.Provider)
	}
	if c.Geocoder.Enabled {
		if err := validateHTTPURL(c.Geocoder.URL, "GEOCODER_URL"); err != nil {
			return err
		}
		if c.Geocoder.RateLimit <= 0 {
			return fmt.Errorf("GEOCODER_RATE_LIMIT must be positive when GEOCODER_ENABLED=true")
		}
	}
	if !validEmbedderProviders[c.Embedder.Provider] {
		return fmt.Errorf("EMBEDDER_PROVIDER must be one of: hashing, http")
	}
	if c.Embedder.Provider == "http" {
		if err := validateHTTPURL(c.Embedder.URL, "EMBEDDER_URL"); err != nil {
			return err
		}
	}
	if c.Embedder.Dimensions < 8 {
		return fmt.Errorf("EMBEDDER_DIMENSIONS must be at least 8, got %d", c.Embedder.Dimensions)
	}
	return nil
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required unless STORE_IN_MEMORY=true")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !c.Security.RateLimitDisabled && c.Security.RateLimitReqs < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1 unless DISABLE_RATE_LIMIT=true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

// validateHTTPURL validates that a URL is a well-formed http(s) base URL.
func validateHTTPURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}
	if parsedURL.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters, remove: ?%s", fieldName, parsedURL.RawQuery)
	}
	return nil
}
