// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

// Package resolver tries an ordered list of lookup strategies under one
// shared deadline and returns the first hit.
//
// Each strategy receives the cascade's context, so its effective timeout is
// whatever budget remains when it starts. A strategy that ignores its context
// is abandoned at the deadline: it reports on a buffered channel and its
// goroutine exits as soon as the lookup returns.
//
// A timeout is not an error. Resolve returns Result{Found: false} and the
// caller carries on with an unknown value.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tomtom215/meridian/internal/logging"
	"github.com/tomtom215/meridian/internal/metrics"
)

// Kind classifies a strategy for the cascade counters.
type Kind string

const (
	KindCache         Kind = "cache"
	KindDeterministic Kind = "deterministic"
	KindExternal      Kind = "external"
)

// ErrInvalidConfig is returned by New for unusable settings.
var ErrInvalidConfig = errors.New("invalid resolver configuration")

// LookupFunc looks up key. found=false with a nil error is a miss.
type LookupFunc[V any] func(ctx context.Context, key string) (value V, found bool, err error)

// Strategy is one step of a cascade.
type Strategy[V any] struct {
	Name       string
	Kind       Kind
	Confidence float64
	Lookup     LookupFunc[V]
}

// Result is the outcome of Resolve. Method names the strategy that hit.
type Result[V any] struct {
	Value      V             `json:"value"`
	Found      bool          `json:"found"`
	Method     string        `json:"method,omitempty"`
	Kind       Kind          `json:"kind,omitempty"`
	Confidence float64       `json:"confidence"`
	Elapsed    time.Duration `json:"-"`
	ElapsedMs  float64       `json:"elapsed_ms"`
	TimedOut   bool          `json:"timed_out"`
}

// StrategyStats counts outcomes for one strategy.
type StrategyStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Timeouts int64 `json:"timeouts"`
	Errors   int64 `json:"errors"`
}

// Stats summarizes all resolutions.
type Stats struct {
	Resolutions   int64                    `json:"resolutions"`
	Found         int64                    `json:"found"`
	CacheHits     int64                    `json:"cache_hits"`
	ExternalCalls int64                    `json:"external_calls"`
	Timeouts      int64                    `json:"timeouts"`
	TotalElapsed  time.Duration            `json:"total_elapsed"`
	Strategies    map[string]StrategyStats `json:"strategies"`
}

type strategyCounters struct {
	hits, misses, timeouts, errors atomic.Int64
}

// Cascade resolves keys through ordered strategies under a shared timeout.
type Cascade[V any] struct {
	strategies []Strategy[V]
	timeout    time.Duration
	writeBack  func(key string, v V)

	counters      []*strategyCounters
	resolutions   atomic.Int64
	found         atomic.Int64
	cacheHits     atomic.Int64
	externalCalls atomic.Int64
	timeouts      atomic.Int64
	totalElapsed  atomic.Int64
}

// New creates a Cascade. Strategies run in the order given.
func New[V any](timeout time.Duration, strategies ...Strategy[V]) (*Cascade[V], error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %v", ErrInvalidConfig, timeout)
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("%w: at least one strategy required", ErrInvalidConfig)
	}
	c := &Cascade[V]{
		strategies: strategies,
		timeout:    timeout,
		counters:   make([]*strategyCounters, len(strategies)),
	}
	for i, s := range strategies {
		if s.Name == "" || s.Lookup == nil {
			return nil, fmt.Errorf("%w: strategy %d needs a name and a lookup", ErrInvalidConfig, i)
		}
		c.counters[i] = &strategyCounters{}
	}
	return c, nil
}

// WithWriteBack registers fn to receive hits from non-cache strategies,
// typically to populate the cache tier.
func (c *Cascade[V]) WithWriteBack(fn func(key string, v V)) *Cascade[V] {
	c.writeBack = fn
	return c
}

// Timeout returns the shared budget.
func (c *Cascade[V]) Timeout() time.Duration {
	return c.timeout
}

type outcome[V any] struct {
	value V
	found bool
	err   error
}

// Resolve runs the strategies in order until one finds key or the budget is
// spent. It returns within the timeout plus scheduling overhead regardless of
// how strategies behave.
func (c *Cascade[V]) Resolve(ctx context.Context, key string) (res Result[V]) {
	start := time.Now()
	c.resolutions.Add(1)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	defer func() {
		res.Elapsed = time.Since(start)
		res.ElapsedMs = float64(res.Elapsed.Microseconds()) / 1000
		c.totalElapsed.Add(int64(res.Elapsed))
		metrics.ResolverDuration.Observe(res.Elapsed.Seconds())
	}()

	for i, s := range c.strategies {
		if ctx.Err() != nil {
			res.TimedOut = c.onTimeout(ctx, key, s.Name, i)
			return res
		}
		if s.Kind == KindExternal {
			c.externalCalls.Add(1)
		}

		ch := make(chan outcome[V], 1)
		go func(s Strategy[V]) {
			v, found, err := s.Lookup(ctx, key)
			ch <- outcome[V]{value: v, found: found, err: err}
		}(s)

		select {
		case o := <-ch:
			switch {
			case o.err != nil && ctx.Err() != nil:
				res.TimedOut = c.onTimeout(ctx, key, s.Name, i)
				return res
			case o.err != nil:
				c.counters[i].errors.Add(1)
				metrics.RecordResolverOutcome(s.Name, "error")
				logging.Debug().Err(o.err).Str("strategy", s.Name).Str("key", key).Msg("Resolver strategy failed")
			case o.found:
				c.counters[i].hits.Add(1)
				c.found.Add(1)
				if s.Kind == KindCache {
					c.cacheHits.Add(1)
				} else if c.writeBack != nil {
					c.writeBack(key, o.value)
				}
				metrics.RecordResolverOutcome(s.Name, "hit")
				res.Value = o.value
				res.Found = true
				res.Method = s.Name
				res.Kind = s.Kind
				res.Confidence = s.Confidence
				return res
			default:
				c.counters[i].misses.Add(1)
				metrics.RecordResolverOutcome(s.Name, "miss")
			}
		case <-ctx.Done():
			res.TimedOut = c.onTimeout(ctx, key, s.Name, i)
			return res
		}
	}
	return res
}

// onTimeout records an abandoned strategy and reports whether the budget,
// rather than the caller, ended the resolution.
func (c *Cascade[V]) onTimeout(ctx context.Context, key, strategy string, i int) bool {
	c.counters[i].timeouts.Add(1)
	metrics.RecordResolverOutcome(strategy, "timeout")
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return false
	}
	c.timeouts.Add(1)
	logging.Debug().
		Str("strategy", strategy).
		Str("key", key).
		Dur("budget", c.timeout).
		Msg("Resolution budget exhausted")
	return true
}

// Stats returns a snapshot of the cascade counters.
func (c *Cascade[V]) Stats() Stats {
	st := Stats{
		Resolutions:   c.resolutions.Load(),
		Found:         c.found.Load(),
		CacheHits:     c.cacheHits.Load(),
		ExternalCalls: c.externalCalls.Load(),
		Timeouts:      c.timeouts.Load(),
		TotalElapsed:  time.Duration(c.totalElapsed.Load()),
		Strategies:    make(map[string]StrategyStats, len(c.strategies)),
	}
	for i, s := range c.strategies {
		st.Strategies[s.Name] = StrategyStats{
			Hits:     c.counters[i].hits.Load(),
			Misses:   c.counters[i].misses.Load(),
			Timeouts: c.counters[i].timeouts.Load(),
			Errors:   c.counters[i].errors.Load(),
		}
	}
	return st
}
