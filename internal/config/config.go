// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration loaded from defaults, an optional
// YAML file, and environment variables.
//
// Example:
//
//	cfg, err := config.LoadWithKoanf()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("Failed to load configuration")
//	}
//	buf, err := buffer.New(buffer.Config{MaxSize: cfg.Buffer.MaxSize, MaxAge: cfg.Buffer.MaxAge})
type Config struct {
	Buffer     BufferConfig     `koanf:"buffer"`
	Flush      FlushConfig      `koanf:"flush"`
	Breaker    BreakerConfig    `koanf:"breaker"`
	Resolver   ResolverConfig   `koanf:"resolver"`
	Fusion     FusionConfig     `koanf:"fusion"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Geocoder   GeocoderConfig   `koanf:"geocoder"`
	Embedder   EmbedderConfig   `koanf:"embedder"`
	Store      StoreConfig      `koanf:"store"`
	Publisher  PublisherConfig  `koanf:"publisher"`
	Server     ServerConfig     `koanf:"server"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// BufferConfig bounds the in-memory event buffer.
type BufferConfig struct {
	// MaxSize is the combined capacity of the normal and priority stores.
	// Default: 10000
	MaxSize int `koanf:"max_size"`

	// MaxAge is how long an item may wait before it is pruned as stale.
	// Default: 1h
	MaxAge time.Duration `koanf:"max_age"`
}

// FlushConfig controls when the buffer is drained.
type FlushConfig struct {
	SizeThreshold            int           `koanf:"size_threshold"`
	TimeThreshold            time.Duration `koanf:"time_threshold"`
	MinBatchSize             int           `koanf:"min_batch_size"`
	MaxBatchSize             int           `koanf:"max_batch_size"`
	AggressiveFlushThreshold float64       `koanf:"aggressive_flush_threshold"`
	DeadlineCheckInterval    time.Duration `koanf:"deadline_check_interval"`
	OptimizationInterval     time.Duration `koanf:"optimization_interval"`
	PerformanceTargetMs      float64       `koanf:"performance_target_ms"`
	ThroughputTargetEps      float64       `koanf:"throughput_target_eps"`
	FlushTimeout             time.Duration `koanf:"flush_timeout"`

	// MaxRetries is the number of failed flush attempts a batch may suffer
	// before its items are abandoned.
	// Default: 3
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the pause after a failed flush, doubled per consecutive
	// failure up to MaxRetryBackoff.
	// Default: 1s, 1m
	RetryBackoff    time.Duration `koanf:"retry_backoff"`
	MaxRetryBackoff time.Duration `koanf:"max_retry_backoff"`
}

// BreakerConfig configures the circuit breaker around the batch classifier.
type BreakerConfig struct {
	FailureThreshold  int           `koanf:"failure_threshold"`
	SuccessThreshold  int           `koanf:"success_threshold"`
	BaseTimeout       time.Duration `koanf:"base_timeout"`
	MaxTimeout        time.Duration `koanf:"max_timeout"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	JitterFactor      float64       `koanf:"jitter_factor"`
	HistorySize       int           `koanf:"history_size"`
}

// ResolverConfig configures the location cascade.
type ResolverConfig struct {
	// TotalTimeout is the hard ceiling shared by all strategies.
	// Default: 3s
	TotalTimeout time.Duration `koanf:"total_timeout"`

	CacheSize int `koanf:"cache_size"`

	// GazetteerPath optionally points at a YAML file of place -> [lat, lon].
	GazetteerPath string `koanf:"gazetteer_path"`
}

// FusionConfig configures deduplication and cross-source fusion.
type FusionConfig struct {
	SimilarityThreshold float64       `koanf:"similarity_threshold"`
	RadiusKm            float64       `koanf:"radius_km"`
	TrustedDomains      []string      `koanf:"trusted_domains"`
	Retention           time.Duration `koanf:"retention"`
	SweepInterval       time.Duration `koanf:"sweep_interval"`
}

// PipelineConfig sizes the resolver worker pool used by Submit.
type PipelineConfig struct {
	Workers   int `koanf:"workers"`
	QueueSize int `koanf:"queue_size"`
}

// ClassifierConfig points at the batch classification service.
type ClassifierConfig struct {
	// Provider is "http" (remote batch service) or "keyword" (offline rules).
	// Default: http
	Provider string        `koanf:"provider"`
	URL      string        `koanf:"url"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
}

// GeocoderConfig points at an optional Nominatim-compatible geocoder.
type GeocoderConfig struct {
	Enabled   bool          `koanf:"enabled"`
	URL       string        `koanf:"url"`
	UserAgent string        `koanf:"user_agent"`
	RateLimit float64       `koanf:"rate_limit"`
	Timeout   time.Duration `koanf:"timeout"`
}

// EmbedderConfig selects the embedding backend.
type EmbedderConfig struct {
	// Provider is "hashing" (offline, deterministic) or "http".
	Provider   string        `koanf:"provider"`
	URL        string        `koanf:"url"`
	Model      string        `koanf:"model"`
	Dimensions int           `koanf:"dimensions"`
	RateLimit  float64       `koanf:"rate_limit"`
	Timeout    time.Duration `koanf:"timeout"`
}

// StoreConfig configures the Badger-backed fused-event store.
type StoreConfig struct {
	Path         string        `koanf:"path"`
	InMemory     bool          `koanf:"in_memory"`
	AbandonedTTL time.Duration `koanf:"abandoned_ttl"`
	SyncWrites   bool          `koanf:"sync_writes"`
}

// PublisherConfig configures the in-process fused-event topic.
type PublisherConfig struct {
	Enabled bool   `koanf:"enabled"`
	Topic   string `koanf:"topic"`
	Buffer  int64  `koanf:"buffer"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig holds CORS and rate limit settings for the ingest API.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level"`

	// Format is json (production) or console (development).
	// Default: json
	Format string `koanf:"format"`

	Caller bool `koanf:"caller"`
}
