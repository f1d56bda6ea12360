// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies that defaultConfig() returns the documented defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Buffer.MaxSize != 10000 {
		t.Errorf("Buffer.MaxSize = %d, want 10000", cfg.Buffer.MaxSize)
	}
	if cfg.Flush.AggressiveFlushThreshold != 0.85 {
		t.Errorf("Flush.AggressiveFlushThreshold = %v, want 0.85", cfg.Flush.AggressiveFlushThreshold)
	}
	if cfg.Breaker.BackoffMultiplier != 2.0 {
		t.Errorf("Breaker.BackoffMultiplier = %v, want 2.0", cfg.Breaker.BackoffMultiplier)
	}
	if cfg.Breaker.MaxTimeout != 300*time.Second {
		t.Errorf("Breaker.MaxTimeout = %v, want 300s", cfg.Breaker.MaxTimeout)
	}
	if cfg.Breaker.SuccessThreshold != 2 {
		t.Errorf("Breaker.SuccessThreshold = %d, want 2", cfg.Breaker.SuccessThreshold)
	}
	if cfg.Fusion.SimilarityThreshold != 0.92 {
		t.Errorf("Fusion.SimilarityThreshold = %v, want 0.92", cfg.Fusion.SimilarityThreshold)
	}
	if cfg.Fusion.RadiusKm != 10 {
		t.Errorf("Fusion.RadiusKm = %v, want 10", cfg.Fusion.RadiusKm)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig().Validate() = %v, want nil", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"BUFFER_MAX_SIZE", "buffer.max_size"},
		{"FLUSH_MAX_RETRIES", "flush.max_retries"},
		{"FLUSH_RETRY_BACKOFF", "flush.retry_backoff"},
		{"BREAKER_JITTER_FACTOR", "breaker.jitter_factor"},
		{"HTTP_PORT", "server.port"},
		{"LOG_LEVEL", "logging.level"},
		{"PATH", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.key); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestLoadWithKoanf_EnvOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("BUFFER_MAX_SIZE", "50")
	t.Setenv("BREAKER_BASE_TIMEOUT", "10s")
	t.Setenv("FUSION_TRUSTED_DOMAINS", "a.example, b.example")
	t.Setenv("STORE_IN_MEMORY", "true")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Buffer.MaxSize != 50 {
		t.Errorf("Buffer.MaxSize = %d, want 50", cfg.Buffer.MaxSize)
	}
	if cfg.Breaker.BaseTimeout != 10*time.Second {
		t.Errorf("Breaker.BaseTimeout = %v, want 10s", cfg.Breaker.BaseTimeout)
	}
	if got := strings.Join(cfg.Fusion.TrustedDomains, "|"); got != "a.example|b.example" {
		t.Errorf("Fusion.TrustedDomains = %q", got)
	}
	if !cfg.Store.InMemory {
		t.Error("Store.InMemory should be true")
	}
}

func TestLoadWithKoanf_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
flush:
  size_threshold: 20
  max_retries: 7
fusion:
  radius_km: 25
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Flush.SizeThreshold != 20 || cfg.Flush.MaxRetries != 7 {
		t.Errorf("Flush = %+v, want file values", cfg.Flush)
	}
	if cfg.Fusion.RadiusKm != 25 {
		t.Errorf("Fusion.RadiusKm = %v, want 25", cfg.Fusion.RadiusKm)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want env override warn", cfg.Logging.Level)
	}
	if cfg.Buffer.MaxSize != 10000 {
		t.Errorf("Buffer.MaxSize = %d, want default 10000", cfg.Buffer.MaxSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"zero buffer", func(c *Config) { c.Buffer.MaxSize = 0 }, "BUFFER_MAX_SIZE"},
		{"threshold outside batch bounds", func(c *Config) { c.Flush.SizeThreshold = 5000 }, "FLUSH_SIZE_THRESHOLD"},
		{"aggressive > 1", func(c *Config) { c.Flush.AggressiveFlushThreshold = 1.5 }, "FLUSH_AGGRESSIVE_THRESHOLD"},
		{"retry backoff above max", func(c *Config) { c.Flush.RetryBackoff = time.Hour }, "FLUSH_RETRY_BACKOFF"},
		{"base > max timeout", func(c *Config) { c.Breaker.BaseTimeout = time.Hour }, "BREAKER_BASE_TIMEOUT"},
		{"multiplier < 1", func(c *Config) { c.Breaker.BackoffMultiplier = 0.5 }, "BREAKER_BACKOFF_MULTIPLIER"},
		{"similarity > 1", func(c *Config) { c.Fusion.SimilarityThreshold = 1.2 }, "FUSION_SIMILARITY_THRESHOLD"},
		{"bad classifier url", func(c *Config) { c.Classifier.URL = "ftp://x" }, "CLASSIFIER_URL"},
		{"unknown classifier", func(c *Config) { c.Classifier.Provider = "llm" }, "CLASSIFIER_PROVIDER"},
		{"unknown embedder", func(c *Config) { c.Embedder.Provider = "magic" }, "EMBEDDER_PROVIDER"},
		{"store without path", func(c *Config) { c.Store.Path = "" }, "STORE_PATH"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %s", err, tt.wantErr)
			}
		})
	}
}
