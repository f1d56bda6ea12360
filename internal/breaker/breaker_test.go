// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package breaker

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

var errDownstream = errors.New("downstream unavailable")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

func newTestBreaker(t *testing.T, clk *fakeClock) *CircuitBreaker {
	t.Helper()
	cfg := DefaultConfig("test-" + t.Name())
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.BaseTimeout = 10 * time.Second
	cfg.MaxTimeout = 35 * time.Second
	cfg.Now = clk.Now
	cfg.Rand = func() float64 { return 0.5 }
	cb, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cb
}

func fail(cb *CircuitBreaker) error {
	return cb.Do(func() error { return errDownstream })
}

func succeed(cb *CircuitBreaker) error {
	return cb.Do(func() error { return nil })
}

func TestStateMachine_FailureThresholdThree(t *testing.T) {
	clk := newFakeClock()
	cb := newTestBreaker(t, clk)

	for i := 0; i < 2; i++ {
		if err := fail(cb); !errors.Is(err, errDownstream) {
			t.Fatalf("error = %v, want errDownstream", err)
		}
		if cb.State() != StateClosed {
			t.Errorf("cb.State() = %v, want %v", cb.State(), StateClosed)
		}
	}
	if err := fail(cb); !errors.Is(err, errDownstream) {
		t.Fatalf("error = %v, want errDownstream", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("cb.State() = %v, want %v", cb.State(), StateOpen)
	}

	// Rejected without invoking fn.
	clk.Advance(4 * time.Second)
	invoked := false
	err := cb.Do(func() error { invoked = true; return nil })
	if invoked {
		t.Error("invoked = true, want false")
	}
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("error = %v, want ErrOpen", err)
	}

	var open *OpenError
	if !errors.As(err, &open) {
		t.Fatalf("error = %v, want *OpenError", err)
	}
	// remaining 6s + 0.5 * 0.15 * 6s jitter
	if open.RetryAfter != 6*time.Second+450*time.Millisecond {
		t.Errorf("open.RetryAfter = %v, want %v", open.RetryAfter, 6*time.Second+450*time.Millisecond)
	}

	// Cooldown elapsed: the next call is a half-open trial.
	clk.Advance(6 * time.Second)
	if err := succeed(cb); err != nil {
		t.Fatalf("succeed() error = %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("cb.State() = %v, want %v", cb.State(), StateHalfOpen)
	}
	if err := succeed(cb); err != nil {
		t.Fatalf("succeed() error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("cb.State() = %v, want %v", cb.State(), StateClosed)
	}
	if cb.CurrentTimeout() != 10*time.Second {
		t.Errorf("cb.CurrentTimeout() = %v, want %v", cb.CurrentTimeout(), 10*time.Second)
	}

	m := cb.Metrics()
	if len(m.Transitions) != 3 {
		t.Fatalf("len(m.Transitions) = %d, want 3", len(m.Transitions))
	}
	if m.Transitions[0].To != StateOpen {
		t.Errorf("m.Transitions[0].To = %v, want %v", m.Transitions[0].To, StateOpen)
	}
	if m.Transitions[1].To != StateHalfOpen {
		t.Errorf("m.Transitions[1].To = %v, want %v", m.Transitions[1].To, StateHalfOpen)
	}
	if m.Transitions[2].To != StateClosed {
		t.Errorf("m.Transitions[2].To = %v, want %v", m.Transitions[2].To, StateClosed)
	}
	if m.TotalCalls != int64(5) {
		t.Errorf("m.TotalCalls = %v, want %v", m.TotalCalls, int64(5))
	}
	if m.TotalFailures != int64(3) {
		t.Errorf("m.TotalFailures = %v, want %v", m.TotalFailures, int64(3))
	}
	if m.TotalRejected != int64(1) {
		t.Errorf("m.TotalRejected = %v, want %v", m.TotalRejected, int64(1))
	}
}

func TestHalfOpenFailureBacksOff(t *testing.T) {
	clk := newFakeClock()
	cb := newTestBreaker(t, clk)
	for i := 0; i < 3; i++ {
		_ = fail(cb)
	}

	want := []time.Duration{20 * time.Second, 35 * time.Second, 35 * time.Second}
	timeout := 10 * time.Second
	for _, w := range want {
		clk.Advance(timeout)
		if err := fail(cb); !errors.Is(err, errDownstream) {
			t.Fatalf("error = %v, want errDownstream", err)
		}
		if cb.State() != StateOpen {
			t.Errorf("cb.State() = %v, want %v", cb.State(), StateOpen)
		}
		if cb.CurrentTimeout() != w {
			t.Errorf("cb.CurrentTimeout() = %v, want %v", cb.CurrentTimeout(), w)
		}

		// Still open just before the new cooldown ends.
		clk.Advance(w - time.Millisecond)
		if err := succeed(cb); !errors.Is(err, ErrOpen) {
			t.Fatalf("error = %v, want ErrOpen", err)
		}
		clk.Advance(-(w - time.Millisecond))
		timeout = w
	}
}

func TestClosedSuccessResetsConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock())
	_ = fail(cb)
	_ = fail(cb)
	if err := succeed(cb); err != nil {
		t.Fatalf("succeed() error = %v", err)
	}
	_ = fail(cb)
	_ = fail(cb)
	if cb.State() != StateClosed {
		t.Errorf("cb.State() = %v, want %v", cb.State(), StateClosed)
	}
	if cb.Metrics().ConsecutiveFailures != 2 {
		t.Errorf("cb.Metrics().ConsecutiveFailures = %v, want %v", cb.Metrics().ConsecutiveFailures, 2)
	}
}

func TestCallReturnsResultUnchanged(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock())
	got, err := Call(cb, func() (map[string]int, error) {
		return map[string]int{"a": 1}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, map[string]int{"a": 1}) {
		t.Errorf("got = %v, want %v", got, map[string]int{"a": 1})
	}

	got, err = Call(cb, func() (map[string]int, error) {
		return map[string]int{"partial": 1}, errDownstream
	})
	if !errors.Is(err, errDownstream) {
		t.Errorf("error = %v, want errDownstream", err)
	}
	if !reflect.DeepEqual(got, map[string]int{"partial": 1}) {
		t.Errorf("got = %v, want %v", got, map[string]int{"partial": 1})
	}
}

func TestHalfOpenTrialLimit(t *testing.T) {
	clk := newFakeClock()
	cb := newTestBreaker(t, clk)
	for i := 0; i < 3; i++ {
		_ = fail(cb)
	}
	clk.Advance(10 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Do(func() error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	err := succeed(cb)
	var open *OpenError
	if !errors.As(err, &open) {
		t.Fatalf("error = %v, want *OpenError", err)
	}
	if open.State != StateHalfOpen {
		t.Errorf("open.State = %v, want %v", open.State, StateHalfOpen)
	}

	close(release)
	wg.Wait()
	if cb.State() != StateClosed {
		t.Errorf("cb.State() = %v, want %v", cb.State(), StateClosed)
	}
}

func TestStaleGenerationIgnored(t *testing.T) {
	clk := newFakeClock()
	cb := newTestBreaker(t, clk)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Do(func() error {
			close(started)
			<-release
			return errDownstream
		})
	}()
	<-started

	// Open the circuit while the slow call is in flight.
	for i := 0; i < 3; i++ {
		_ = fail(cb)
	}
	clk.Advance(10 * time.Second)
	// half-open, one success
	if err := succeed(cb); err != nil {
		t.Fatalf("succeed() error = %v", err)
	}

	close(release)
	if err := <-done; !errors.Is(err, errDownstream) {
		t.Fatalf("error = %v, want errDownstream", err)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("cb.State() = %v, want %v", cb.State(), StateHalfOpen)
	}
	if cb.CurrentTimeout() != 10*time.Second {
		t.Errorf("cb.CurrentTimeout() = %v, want %v", cb.CurrentTimeout(), 10*time.Second)
	}
}

func TestIsFailureFilter(t *testing.T) {
	cfg := DefaultConfig("filtered")
	cfg.FailureThreshold = 1
	cfg.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	cb, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := cb.Do(func() error { return context.Canceled }); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("cb.State() = %v, want %v", cb.State(), StateClosed)
	}
	_ = fail(cb)
	if cb.State() != StateOpen {
		t.Errorf("cb.State() = %v, want %v", cb.State(), StateOpen)
	}
}

func TestPanicCountsAsFailure(t *testing.T) {
	cfg := DefaultConfig("panicky")
	cfg.FailureThreshold = 1
	cb, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Do() did not re-panic")
			}
		}()
		_ = cb.Do(func() error { panic("boom") })
	}()
	if cb.State() != StateOpen {
		t.Errorf("cb.State() = %v, want %v", cb.State(), StateOpen)
	}
}

func TestOnStateChange(t *testing.T) {
	var got []string
	cfg := DefaultConfig("observed")
	cfg.FailureThreshold = 1
	cfg.OnStateChange = func(name string, from, to State) {
		got = append(got, name+":"+from.String()+"->"+to.String())
	}
	cb, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = fail(cb)
	if !reflect.DeepEqual(got, []string{"observed:closed->open"}) {
		t.Errorf("got = %v, want %v", got, []string{"observed:closed->open"})
	}
}

func TestTransitionHistoryBounded(t *testing.T) {
	clk := newFakeClock()
	cfg := DefaultConfig("ring")
	cfg.FailureThreshold = 1
	cfg.SuccessThreshold = 1
	cfg.BaseTimeout = time.Second
	cfg.MaxTimeout = time.Second
	cfg.HistorySize = 4
	cfg.Now = clk.Now
	cb, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 5; i++ {
		_ = fail(cb)
		clk.Advance(time.Second)
		_ = succeed(cb)
	}
	m := cb.Metrics()
	if len(m.Transitions) != 4 {
		t.Fatalf("len(m.Transitions) = %d, want 4", len(m.Transitions))
	}
	last := m.Transitions[3]
	if last.From != StateHalfOpen {
		t.Errorf("last.From = %v, want %v", last.From, StateHalfOpen)
	}
	if last.To != StateClosed {
		t.Errorf("last.To = %v, want %v", last.To, StateClosed)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"missing name", func(c *Config) { c.Name = "" }},
		{"max below base", func(c *Config) { c.MaxTimeout = time.Second }},
		{"jitter out of range", func(c *Config) { c.JitterFactor = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("x")
			tt.mod(&cfg)
			_, err := New(cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateHalfOpen, "half-open"},
		{StateOpen, "open"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
