// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package cache

import (
	"sync"
	"time"
)

// SlidingWindowCounter sums values over a trailing window split into buckets.
//
// Complexity:
//   - Add: O(1) amortized
//   - Sum: O(k) where k = number of buckets
type SlidingWindowCounter struct {
	mu         sync.Mutex
	buckets    []int64
	bucketSize time.Duration
	windowSize time.Duration
	current    int
	lastTick   time.Time
	now        func() time.Time
}

// NewSlidingWindowCounter creates a counter over windowSize split into numBuckets.
// now may be nil, in which case time.Now is used.
func NewSlidingWindowCounter(windowSize time.Duration, numBuckets int, now func() time.Time) *SlidingWindowCounter {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if windowSize <= 0 {
		windowSize = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	bucketSize := windowSize / time.Duration(numBuckets)
	return &SlidingWindowCounter{
		buckets:    make([]int64, numBuckets),
		bucketSize: bucketSize,
		windowSize: windowSize,
		lastTick:   now().Truncate(bucketSize),
		now:        now,
	}
}

// Add adds delta to the current bucket.
func (sw *SlidingWindowCounter) Add(delta int64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.advance()
	sw.buckets[sw.current] += delta
}

// Sum returns the total over the window.
func (sw *SlidingWindowCounter) Sum() int64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.advance()
	var total int64
	for _, v := range sw.buckets {
		total += v
	}
	return total
}

// PerSecond returns Sum divided by the window length in seconds.
func (sw *SlidingWindowCounter) PerSecond() float64 {
	return float64(sw.Sum()) / sw.windowSize.Seconds()
}

// Window returns the window length.
func (sw *SlidingWindowCounter) Window() time.Duration {
	return sw.windowSize
}

// advance rotates past buckets whose time has elapsed. Caller must hold mu.
func (sw *SlidingWindowCounter) advance() {
	tick := sw.now().Truncate(sw.bucketSize)
	elapsed := int(tick.Sub(sw.lastTick) / sw.bucketSize)
	if elapsed <= 0 {
		return
	}
	if elapsed >= len(sw.buckets) {
		for i := range sw.buckets {
			sw.buckets[i] = 0
		}
		sw.current = 0
	} else {
		for i := 0; i < elapsed; i++ {
			sw.current = (sw.current + 1) % len(sw.buckets)
			sw.buckets[sw.current] = 0
		}
	}
	sw.lastTick = tick
}
