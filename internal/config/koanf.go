// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/meridian/config.yaml",
	"/etc/meridian/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Buffer: BufferConfig{
			MaxSize: 10000,
			MaxAge:  time.Hour,
		},
		Flush: FlushConfig{
			SizeThreshold:            100,
			TimeThreshold:            30 * time.Second,
			MinBatchSize:             10,
			MaxBatchSize:             500,
			AggressiveFlushThreshold: 0.85,
			DeadlineCheckInterval:    time.Second,
			OptimizationInterval:     30 * time.Second,
			PerformanceTargetMs:      2000,
			ThroughputTargetEps:      50,
			FlushTimeout:             60 * time.Second,
			MaxRetries:               3,
			RetryBackoff:             time.Second,
			MaxRetryBackoff:          time.Minute,
		},
		Breaker: BreakerConfig{
			FailureThreshold:  5,
			SuccessThreshold:  2,
			BaseTimeout:       30 * time.Second,
			MaxTimeout:        300 * time.Second,
			BackoffMultiplier: 2.0,
			JitterFactor:      0.15,
			HistorySize:       32,
		},
		Resolver: ResolverConfig{
			TotalTimeout: 3 * time.Second,
			CacheSize:    10000,
		},
		Fusion: FusionConfig{
			SimilarityThreshold: 0.92,
			RadiusKm:            10,
			TrustedDomains:      []string{"reuters.com", "apnews.com", "acleddata.com", "bbc.co.uk"},
			Retention:           72 * time.Hour,
			SweepInterval:       10 * time.Minute,
		},
		Pipeline: PipelineConfig{
			Workers:   4,
			QueueSize: 1024,
		},
		Classifier: ClassifierConfig{
			Provider: "http",
			URL:     "http://127.0.0.1:8090",
			Timeout: 30 * time.Second,
		},
		Geocoder: GeocoderConfig{
			Enabled:   false, // Public Nominatim requires attribution and <=1 req/s
			URL:       "https://nominatim.openstreetmap.org",
			UserAgent: "meridian/1.0",
			RateLimit: 1,
			Timeout:   5 * time.Second,
		},
		Embedder: EmbedderConfig{
			Provider:   "hashing",
			URL:        "http://127.0.0.1:11434",
			Model:      "nomic-embed-text",
			Dimensions: 256,
			RateLimit:  20,
			Timeout:    10 * time.Second,
		},
		Store: StoreConfig{
			Path:         "/data/meridian",
			InMemory:     false,
			AbandonedTTL: 7 * 24 * time.Hour,
			SyncWrites:   false,
		},
		Publisher: PublisherConfig{
			Enabled: true,
			Topic:   "meridian.events.fused",
			Buffer:  256,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8742,
			Timeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     600,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults
//  2. Config file (optional YAML)
//  3. Environment variables
//
// Precedence is ENV > File > Defaults. The result is validated before it is returned.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// BUFFER_MAX_SIZE -> buffer.max_size
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "" if none is found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"fusion.trusted_domains",
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars arrive as strings but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
var envMappings = map[string]string{
	// Buffer
	"buffer_max_size": "buffer.max_size",
	"buffer_max_age":  "buffer.max_age",

	// Flush scheduler
	"flush_size_threshold":       "flush.size_threshold",
	"flush_time_threshold":       "flush.time_threshold",
	"flush_min_batch_size":       "flush.min_batch_size",
	"flush_max_batch_size":       "flush.max_batch_size",
	"flush_aggressive_threshold": "flush.aggressive_flush_threshold",
	"flush_deadline_interval":    "flush.deadline_check_interval",
	"flush_optimize_interval":    "flush.optimization_interval",
	"flush_target_ms":            "flush.performance_target_ms",
	"flush_target_eps":           "flush.throughput_target_eps",
	"flush_timeout":              "flush.flush_timeout",
	"flush_max_retries":          "flush.max_retries",
	"flush_retry_backoff":        "flush.retry_backoff",
	"flush_max_retry_backoff":    "flush.max_retry_backoff",

	// Circuit breaker
	"breaker_failure_threshold":  "breaker.failure_threshold",
	"breaker_success_threshold":  "breaker.success_threshold",
	"breaker_base_timeout":       "breaker.base_timeout",
	"breaker_max_timeout":        "breaker.max_timeout",
	"breaker_backoff_multiplier": "breaker.backoff_multiplier",
	"breaker_jitter_factor":      "breaker.jitter_factor",

	// Resolver
	"resolver_total_timeout":  "resolver.total_timeout",
	"resolver_cache_size":     "resolver.cache_size",
	"resolver_gazetteer_path": "resolver.gazetteer_path",

	// Fusion
	"fusion_similarity_threshold": "fusion.similarity_threshold",
	"fusion_radius_km":            "fusion.radius_km",
	"fusion_trusted_domains":      "fusion.trusted_domains",
	"fusion_retention":            "fusion.retention",
	"fusion_sweep_interval":       "fusion.sweep_interval",

	// Pipeline
	"pipeline_workers":    "pipeline.workers",
	"pipeline_queue_size": "pipeline.queue_size",

	// Downstream services
	"classifier_provider": "classifier.provider",
	"classifier_url":      "classifier.url",
	"classifier_api_key":  "classifier.api_key",
	"classifier_timeout":  "classifier.timeout",
	"geocoder_enabled":    "geocoder.enabled",
	"geocoder_url":        "geocoder.url",
	"geocoder_user_agent": "geocoder.user_agent",
	"geocoder_rate_limit": "geocoder.rate_limit",
	"geocoder_timeout":    "geocoder.timeout",
	"embedder_provider":   "embedder.provider",
	"embedder_url":        "embedder.url",
	"embedder_model":      "embedder.model",
	"embedder_dimensions": "embedder.dimensions",
	"embedder_rate_limit": "embedder.rate_limit",
	"embedder_timeout":    "embedder.timeout",

	// Store and publisher
	"store_path":          "store.path",
	"store_in_memory":     "store.in_memory",
	"store_abandoned_ttl": "store.abandoned_ttl",
	"store_sync_writes":   "store.sync_writes",
	"publisher_enabled":   "publisher.enabled",
	"publisher_topic":     "publisher.topic",

	// Server and security
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_timeout":        "server.timeout",
	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - BUFFER_MAX_SIZE -> buffer.max_size
//   - CLASSIFIER_URL -> classifier.url
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	// Unmapped keys are skipped so random environment variables cannot pollute config.
	return ""
}
