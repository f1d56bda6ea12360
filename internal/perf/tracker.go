// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

// Package perf keeps rolling performance figures (flush latency, throughput,
// buffer occupancy) that the flush scheduler uses for adaptive batch sizing.
package perf

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/meridian/internal/cache"
)

// Config controls the rolling windows.
type Config struct {
	// LatencySamples is how many recent flush durations are averaged.
	// Default: 20
	LatencySamples int

	// ThroughputWindow is the trailing window used for items/second.
	// Default: 1m
	ThroughputWindow time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Snapshot is a point-in-time copy of the tracker's figures.
type Snapshot struct {
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	AvgProcessingMs   float64       `json:"avg_processing_ms"`
	ThroughputEps     float64       `json:"throughput_eps"`
	ItemsEnqueued     int64         `json:"items_enqueued"`
	ItemsFlushed      int64         `json:"items_flushed"`
	Flushes           int64         `json:"flushes"`
	FailedFlushes     int64         `json:"failed_flushes"`
	BufferSize        int           `json:"buffer_size"`
	BufferPeak        int           `json:"buffer_peak"`
	Utilization       float64       `json:"utilization"`
	LastFlushAt       time.Time     `json:"last_flush_at"`
}

// Tracker accumulates performance figures. It has its own lock and never
// touches the buffer's lock.
type Tracker struct {
	mu        sync.Mutex
	samples   []time.Duration
	next      int
	filled    int
	lastFlush time.Time

	bufferSize  int
	bufferPeak  int
	utilization float64

	flushedWindow *cache.SlidingWindowCounter

	enqueued atomic.Int64
	flushed  atomic.Int64
	flushes  atomic.Int64
	failures atomic.Int64

	now func() time.Time
}

// NewTracker creates a Tracker, applying defaults for zero values.
func NewTracker(cfg Config) *Tracker {
	if cfg.LatencySamples <= 0 {
		cfg.LatencySamples = 20
	}
	if cfg.ThroughputWindow <= 0 {
		cfg.ThroughputWindow = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		samples:       make([]time.Duration, cfg.LatencySamples),
		flushedWindow: cache.NewSlidingWindowCounter(cfg.ThroughputWindow, 12, cfg.Now),
		now:           cfg.Now,
	}
}

// RecordEnqueue counts one accepted item.
func (t *Tracker) RecordEnqueue() {
	t.enqueued.Add(1)
}

// RecordFlush records a completed flush of items that took d.
// Failed flushes still contribute latency but not throughput.
func (t *Tracker) RecordFlush(items int, d time.Duration, success bool) {
	t.flushes.Add(1)
	if success {
		t.flushed.Add(int64(items))
		t.flushedWindow.Add(int64(items))
	} else {
		t.failures.Add(1)
	}

	t.mu.Lock()
	t.samples[t.next] = d
	t.next = (t.next + 1) % len(t.samples)
	if t.filled < len(t.samples) {
		t.filled++
	}
	t.lastFlush = t.now()
	t.mu.Unlock()
}

// ObserveBuffer records the current buffer occupancy.
func (t *Tracker) ObserveBuffer(size, capacity int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.bufferSize = size
	if size > t.bufferPeak {
		t.bufferPeak = size
	}
	if capacity > 0 {
		t.utilization = float64(size) / float64(capacity)
	}
}

// AvgProcessingTime returns the mean of the recent flush durations, or 0
// before the first flush.
func (t *Tracker) AvgProcessingTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.avgUnlocked()
}

func (t *Tracker) avgUnlocked() time.Duration {
	if t.filled == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < t.filled; i++ {
		total += t.samples[i]
	}
	return total / time.Duration(t.filled)
}

// Throughput returns successfully flushed items per second over the trailing window.
func (t *Tracker) Throughput() float64 {
	return t.flushedWindow.PerSecond()
}

// HasSamples reports whether any flush has been recorded.
func (t *Tracker) HasSamples() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filled > 0
}

// Snapshot returns the current figures.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	avg := t.avgUnlocked()
	s := Snapshot{
		AvgProcessingTime: avg,
		AvgProcessingMs:   float64(avg) / float64(time.Millisecond),
		BufferSize:        t.bufferSize,
		BufferPeak:        t.bufferPeak,
		Utilization:       t.utilization,
		LastFlushAt:       t.lastFlush,
	}
	t.mu.Unlock()

	s.ThroughputEps = t.Throughput()
	s.ItemsEnqueued = t.enqueued.Load()
	s.ItemsFlushed = t.flushed.Load()
	s.Flushes = t.flushes.Load()
	s.FailedFlushes = t.failures.Load()
	return s
}
