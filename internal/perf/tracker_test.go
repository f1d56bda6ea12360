// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package perf

import (
	"sync"
	"testing"
	"time"
)

func TestTracker_AverageUsesRecentSamples(t *testing.T) {
	tr := NewTracker(Config{LatencySamples: 3})

	if tr.AvgProcessingTime() != 0 {
		t.Errorf("AvgProcessingTime() before any flush = %v, want 0", tr.AvgProcessingTime())
	}
	if tr.HasSamples() {
		t.Error("HasSamples() = true before any flush")
	}

	tr.RecordFlush(10, 100*time.Millisecond, true)
	tr.RecordFlush(10, 200*time.Millisecond, true)
	if got := tr.AvgProcessingTime(); got != 150*time.Millisecond {
		t.Errorf("AvgProcessingTime() = %v, want 150ms", got)
	}

	// Ring of 3: the 100ms sample falls out after two more.
	tr.RecordFlush(10, 300*time.Millisecond, true)
	tr.RecordFlush(10, 400*time.Millisecond, false)
	if got := tr.AvgProcessingTime(); got != 300*time.Millisecond {
		t.Errorf("AvgProcessingTime() = %v, want 300ms", got)
	}
}

func TestTracker_ThroughputCountsSuccessOnly(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tr := NewTracker(Config{ThroughputWindow: 10 * time.Second, Now: func() time.Time { return now }})

	tr.RecordFlush(100, time.Millisecond, true)
	tr.RecordFlush(50, time.Millisecond, false)

	if got := tr.Throughput(); got != 10 {
		t.Errorf("Throughput() = %v, want 10", got)
	}
	snap := tr.Snapshot()
	if snap.ItemsFlushed != 100 || snap.Flushes != 2 || snap.FailedFlushes != 1 {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestTracker_ObserveBuffer(t *testing.T) {
	tr := NewTracker(Config{})
	tr.ObserveBuffer(80, 100)
	tr.ObserveBuffer(20, 100)

	snap := tr.Snapshot()
	if snap.BufferSize != 20 || snap.BufferPeak != 80 {
		t.Errorf("BufferSize/Peak = %d/%d, want 20/80", snap.BufferSize, snap.BufferPeak)
	}
	if snap.Utilization != 0.2 {
		t.Errorf("Utilization = %v, want 0.2", snap.Utilization)
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker(Config{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.RecordEnqueue()
				tr.RecordFlush(1, time.Millisecond, true)
				_ = tr.Snapshot()
			}
		}()
	}
	wg.Wait()
	if got := tr.Snapshot().ItemsEnqueued; got != 1000 {
		t.Errorf("ItemsEnqueued = %d, want 1000", got)
	}
}
