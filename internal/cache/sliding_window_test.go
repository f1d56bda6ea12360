// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package cache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSlidingWindowCounter_Expiry(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	sw := NewSlidingWindowCounter(10*time.Second, 10, clk.Now)

	sw.Add(5)
	clk.Advance(3 * time.Second)
	sw.Add(2)
	if got := sw.Sum(); got != 7 {
		t.Errorf("Sum() = %d, want 7", got)
	}

	clk.Advance(8 * time.Second)
	if got := sw.Sum(); got != 2 {
		t.Errorf("Sum() after first bucket expired = %d, want 2", got)
	}

	clk.Advance(time.Minute)
	if got := sw.Sum(); got != 0 {
		t.Errorf("Sum() after whole window = %d, want 0", got)
	}
}

func TestSlidingWindowCounter_PerSecond(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	sw := NewSlidingWindowCounter(10*time.Second, 5, clk.Now)
	sw.Add(50)
	if got := sw.PerSecond(); got != 5 {
		t.Errorf("PerSecond() = %v, want 5", got)
	}
}

func TestSlidingWindowCounter_Defaults(t *testing.T) {
	sw := NewSlidingWindowCounter(0, 0, nil)
	if sw.Window() != time.Minute {
		t.Errorf("Window() = %v, want 1m", sw.Window())
	}
	sw.Add(1)
	if sw.Sum() != 1 {
		t.Errorf("Sum() = %d, want 1", sw.Sum())
	}
}
