// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package flush

import (
	"sync"
	"time"
)

// RetryLedger counts failed flush attempts per BatchKey.
//
// A key enters the ledger when first assigned to a batch and leaves it
// exactly once: on success (Resolve), on exhausting MaxRetries
// (RecordFailure reports exhausted), or when untouched for longer than the
// buffer's max age (Expire), by which point all of its items are gone.
type RetryLedger struct {
	mu         sync.Mutex
	maxRetries int
	entries    map[string]*ledgerEntry
}

type ledgerEntry struct {
	attempts int
	touched  time.Time
}

// NewRetryLedger creates a ledger that allows maxRetries failed attempts per key.
func NewRetryLedger(maxRetries int) *RetryLedger {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryLedger{
		maxRetries: maxRetries,
		entries:    make(map[string]*ledgerEntry),
	}
}

// Track registers key if it is not already tracked.
func (l *RetryLedger) Track(key string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok {
		e.touched = now
		return
	}
	l.entries[key] = &ledgerEntry{touched: now}
}

// RecordFailure increments the attempt count for key. When the count exceeds
// MaxRetries the key is removed and exhausted is true.
func (l *RetryLedger) RecordFailure(key string, now time.Time) (attempts int, exhausted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &ledgerEntry{}
		l.entries[key] = e
	}
	e.attempts++
	e.touched = now
	if e.attempts > l.maxRetries {
		delete(l.entries, key)
		return e.attempts, true
	}
	return e.attempts, false
}

// Resolve removes key after a successful flush. It reports whether the key was tracked.
func (l *RetryLedger) Resolve(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[key]; !ok {
		return false
	}
	delete(l.entries, key)
	return true
}

// Expire removes keys not touched since before cutoff and returns how many were removed.
func (l *RetryLedger) Expire(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, e := range l.entries {
		if e.touched.Before(cutoff) {
			delete(l.entries, key)
			n++
		}
	}
	return n
}

// Attempts returns the failed attempts recorded for key.
func (l *RetryLedger) Attempts(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		return e.attempts
	}
	return 0
}

// Len returns the number of tracked keys.
func (l *RetryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
