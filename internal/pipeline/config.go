// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package pipeline

import (
	"time"

	"github.com/tomtom215/meridian/internal/breaker"
	"github.com/tomtom215/meridian/internal/buffer"
	"github.com/tomtom215/meridian/internal/config"
	"github.com/tomtom215/meridian/internal/flush"
	"github.com/tomtom215/meridian/internal/fusion"
	"github.com/tomtom215/meridian/internal/perf"
)

// Config holds the settings of every core component owned by a Manager.
type Config struct {
	Buffer  buffer.Config
	Flush   flush.Config
	Breaker breaker.Config
	Fusion  fusion.Config
	Perf    perf.Config

	// Workers and QueueSize size the Submit worker pool.
	Workers   int
	QueueSize int

	// Retention is how long fused events stay in memory for fusion.
	// Zero disables the retention sweep.
	Retention     time.Duration
	SweepInterval time.Duration
}

// FromConfig maps application configuration onto component configs.
func FromConfig(cfg *config.Config) Config {
	fl := flush.DefaultConfig()
	fl.SizeThreshold = cfg.Flush.SizeThreshold
	fl.TimeThreshold = cfg.Flush.TimeThreshold
	fl.MinBatchSize = cfg.Flush.MinBatchSize
	fl.MaxBatchSize = cfg.Flush.MaxBatchSize
	fl.AggressiveFlushThreshold = cfg.Flush.AggressiveFlushThreshold
	fl.DeadlineCheckInterval = cfg.Flush.DeadlineCheckInterval
	fl.OptimizationInterval = cfg.Flush.OptimizationInterval
	fl.PerformanceTargetMs = cfg.Flush.PerformanceTargetMs
	fl.ThroughputTargetEps = cfg.Flush.ThroughputTargetEps
	fl.FlushTimeout = cfg.Flush.FlushTimeout
	fl.MaxRetries = cfg.Flush.MaxRetries
	fl.RetryBackoff = cfg.Flush.RetryBackoff
	fl.MaxRetryBackoff = cfg.Flush.MaxRetryBackoff
	fl.LedgerTTL = cfg.Buffer.MaxAge

	br := breaker.DefaultConfig("classifier")
	br.FailureThreshold = cfg.Breaker.FailureThreshold
	br.SuccessThreshold = cfg.Breaker.SuccessThreshold
	br.BaseTimeout = cfg.Breaker.BaseTimeout
	br.MaxTimeout = cfg.Breaker.MaxTimeout
	br.BackoffMultiplier = cfg.Breaker.BackoffMultiplier
	br.JitterFactor = cfg.Breaker.JitterFactor
	br.HistorySize = cfg.Breaker.HistorySize

	return Config{
		Buffer: buffer.Config{
			MaxSize: cfg.Buffer.MaxSize,
			MaxAge:  cfg.Buffer.MaxAge,
		},
		Flush:   fl,
		Breaker: br,
		Fusion: fusion.Config{
			SimilarityThreshold: cfg.Fusion.SimilarityThreshold,
			RadiusKm:            cfg.Fusion.RadiusKm,
			TrustedDomains:      cfg.Fusion.TrustedDomains,
		},
		Workers:       cfg.Pipeline.Workers,
		QueueSize:     cfg.Pipeline.QueueSize,
		Retention:     cfg.Fusion.Retention,
		SweepInterval: cfg.Fusion.SweepInterval,
	}
}
