// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

// Package flush decides when the event buffer is drained and runs the flush
// callback, at most one at a time, with bounded retries per batch.
package flush

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/meridian/internal/buffer"
	"github.com/tomtom215/meridian/internal/logging"
	"github.com/tomtom215/meridian/internal/metrics"
	"github.com/tomtom215/meridian/internal/models"
	"github.com/tomtom215/meridian/internal/perf"
)

var (
	// ErrSkipRetry marks a flush failure that should not consume a retry,
	// such as an open circuit breaker. Wrap it with %w.
	ErrSkipRetry = errors.New("flush deferred")

	// ErrClosed is returned by FlushNow after Close.
	ErrClosed = errors.New("flush scheduler closed")

	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("invalid flush configuration")
)

// FlushFunc processes one extracted batch. A non-nil error restores the batch.
type FlushFunc func(ctx context.Context, items []buffer.BufferedItem) error

// AbandonFunc is called with the items of a BatchKey that exhausted its retries.
type AbandonFunc func(ctx context.Context, key string, items []buffer.BufferedItem, cause error)

// Trigger names the condition that started a flush.
type Trigger string

const (
	TriggerSize     Trigger = "size"
	TriggerTime     Trigger = "time"
	TriggerDeadline Trigger = "deadline"
	TriggerUrgent   Trigger = "urgent"
	TriggerMemory   Trigger = "memory"
	TriggerManual   Trigger = "manual"
	TriggerPending  Trigger = "pending"
	TriggerRetry    Trigger = "retry"
	TriggerShutdown Trigger = "shutdown"
)

// Config configures a Scheduler.
type Config struct {
	SizeThreshold            int
	MinBatchSize             int
	MaxBatchSize             int
	TimeThreshold            time.Duration
	AggressiveFlushThreshold float64
	DeadlineCheckInterval    time.Duration
	OptimizationInterval     time.Duration
	PerformanceTargetMs      float64
	ThroughputTargetEps      float64
	FlushTimeout             time.Duration
	MaxRetries               int

	// RetryBackoff is the pause after the first failed flush; it doubles on
	// each consecutive failure up to MaxRetryBackoff. A deferred flush waits
	// for the delay reported by its error, or RetryBackoff when there is none.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// LedgerTTL bounds how long an untouched BatchKey is tracked. Use the
	// buffer's max age.
	LedgerTTL time.Duration

	OnAbandon AbandonFunc

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		SizeThreshold:            100,
		MinBatchSize:             10,
		MaxBatchSize:             500,
		TimeThreshold:            30 * time.Second,
		AggressiveFlushThreshold: 0.85,
		DeadlineCheckInterval:    time.Second,
		OptimizationInterval:     30 * time.Second,
		PerformanceTargetMs:      2000,
		ThroughputTargetEps:      50,
		FlushTimeout:             60 * time.Second,
		MaxRetries:               3,
		RetryBackoff:             time.Second,
		MaxRetryBackoff:          time.Minute,
		LedgerTTL:                time.Hour,
	}
}

// Stats holds scheduler counters.
type Stats struct {
	Threshold      int       `json:"threshold"`
	InFlight       bool      `json:"in_flight"`
	Flushes        int64     `json:"flushes"`
	Failures       int64     `json:"failures"`
	Skipped        int64     `json:"skipped"`
	ItemsFlushed   int64     `json:"items_flushed"`
	ItemsAbandoned int64     `json:"items_abandoned"`
	RetryKeys      int       `json:"retry_keys"`
	LastFlushAt    time.Time `json:"last_flush_at"`
	LastError      string    `json:"last_error,omitempty"`
	BackoffUntil   time.Time `json:"backoff_until"`
}

// Scheduler drains an EventBuffer through a FlushFunc.
//
// Triggers: size threshold after an enqueue, a periodic timer, an expired
// urgent deadline, an urgent enqueue, and memory pressure. Only one flush
// runs at a time; a trigger that arrives while one is in flight is recorded
// and its condition is re-evaluated when the flush completes successfully.
//
// A failed or deferred flush starts a backoff during which automatic
// triggers are ignored. Run retries the restored batch once it ends.
// FlushNow and Close are not subject to the backoff.
type Scheduler struct {
	buf     *buffer.EventBuffer
	tracker *perf.Tracker
	fn      FlushFunc
	cfg     Config
	ledger  *RetryLedger
	now     func() time.Time

	threshold    atomic.Int64
	lastOptimize atomic.Int64 // unix nanos

	inFlight atomic.Bool
	closed   atomic.Bool

	notBefore           atomic.Int64 // unix nanos; zero when not backing off
	consecutiveFailures atomic.Int64

	pendingMu sync.Mutex
	pending   Trigger

	flushes        atomic.Int64
	failures       atomic.Int64
	skipped        atomic.Int64
	itemsFlushed   atomic.Int64
	itemsAbandoned atomic.Int64
	lastFlushAt    atomic.Value // time.Time
	lastError      atomic.Value // string
}

// New creates a Scheduler. tracker may be nil, in which case adaptive sizing is disabled.
func New(buf *buffer.EventBuffer, tracker *perf.Tracker, fn FlushFunc, cfg Config) (*Scheduler, error) {
	if buf == nil {
		return nil, fmt.Errorf("%w: buffer required", ErrInvalidConfig)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: flush func required", ErrInvalidConfig)
	}
	if cfg.MinBatchSize < 1 || cfg.MaxBatchSize < cfg.MinBatchSize {
		return nil, fmt.Errorf("%w: batch bounds [%d, %d]", ErrInvalidConfig, cfg.MinBatchSize, cfg.MaxBatchSize)
	}
	if cfg.TimeThreshold <= 0 || cfg.FlushTimeout <= 0 {
		return nil, fmt.Errorf("%w: time threshold and flush timeout must be positive", ErrInvalidConfig)
	}
	if cfg.AggressiveFlushThreshold <= 0 || cfg.AggressiveFlushThreshold > 1 {
		cfg.AggressiveFlushThreshold = 0.85
	}
	if cfg.DeadlineCheckInterval <= 0 {
		cfg.DeadlineCheckInterval = time.Second
	}
	if cfg.OptimizationInterval <= 0 {
		cfg.OptimizationInterval = 30 * time.Second
	}
	if cfg.LedgerTTL <= 0 {
		cfg.LedgerTTL = time.Hour
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		cfg.MaxRetryBackoff = max(time.Minute, cfg.RetryBackoff)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Scheduler{
		buf:     buf,
		tracker: tracker,
		fn:      fn,
		cfg:     cfg,
		ledger:  NewRetryLedger(cfg.MaxRetries),
		now:     cfg.Now,
	}
	s.threshold.Store(int64(s.clamp(cfg.SizeThreshold)))
	s.lastOptimize.Store(cfg.Now().UnixNano())
	s.lastFlushAt.Store(time.Time{})
	s.lastError.Store("")
	metrics.FlushThreshold.Set(float64(s.threshold.Load()))
	return s, nil
}

// Ledger exposes the retry ledger for inspection.
func (s *Scheduler) Ledger() *RetryLedger {
	return s.ledger
}

// Threshold returns the current adaptive size threshold.
func (s *Scheduler) Threshold() int {
	return int(s.threshold.Load())
}

// AfterEnqueue evaluates the enqueue-driven triggers. Call it after every
// accepted Enqueue on the buffer.
func (s *Scheduler) AfterEnqueue(priority models.Priority) {
	if priority == models.PriorityUrgent {
		// The signal is handled here; drop the coalesced copy for Run.
		select {
		case <-s.buf.Urgent():
		default:
		}
		s.trigger(TriggerUrgent)
		return
	}
	s.maybeAdapt()
	if reason, ok := s.conditionMet(); ok {
		s.trigger(reason)
	}
}

// conditionMet checks the size, memory and deadline conditions.
func (s *Scheduler) conditionMet() (Trigger, bool) {
	if s.buf.HasExpiredDeadline(s.now()) {
		return TriggerDeadline, true
	}
	if s.buf.Utilization() > s.cfg.AggressiveFlushThreshold {
		return TriggerMemory, true
	}
	if s.buf.Len() >= s.Threshold() {
		return TriggerSize, true
	}
	return "", false
}

// trigger starts an asynchronous flush unless one is in flight, in which case
// the trigger is remembered. It reports whether a flush was started.
func (s *Scheduler) trigger(reason Trigger) bool {
	if s.closed.Load() || s.backingOff() {
		return false
	}
	for !s.inFlight.CompareAndSwap(false, true) {
		s.setPending(reason)
		if s.inFlight.Load() {
			return false
		}
		// The flush finished between the CAS and setPending, so nobody will
		// read the pending trigger. Take it back and try again unless another
		// finisher already consumed it.
		if s.takePending() == "" {
			return false
		}
	}

	items := s.extract()
	if len(items) == 0 {
		s.inFlight.Store(false)
		return false
	}

	metrics.FlushTotal.WithLabelValues(string(reason)).Inc()
	logging.Debug().
		Str("trigger", string(reason)).
		Int("count", len(items)).
		Int("threshold", s.Threshold()).
		Msg("Flush triggered")

	go func() {
		// The flush owns its deadline; callers' contexts only signal shutdown.
		ctx, cancel := context.WithTimeout(logging.ContextWithNewCorrelationID(context.Background()), s.cfg.FlushTimeout)
		err := s.execute(ctx, items)
		cancel()
		s.finish(err == nil)
	}()
	return true
}

// extract drains the buffer and assigns a BatchKey to items that lack one.
// Caller must own the in-flight flag.
func (s *Scheduler) extract() []buffer.BufferedItem {
	items := s.buf.ExtractAll()
	if len(items) == 0 {
		return items
	}
	now := s.now()
	key := ""
	for i := range items {
		if items[i].BatchKey == "" {
			if key == "" {
				key = uuid.New().String()
			}
			items[i].BatchKey = key
		}
		s.ledger.Track(items[i].BatchKey, now)
	}
	return items
}

// finish clears the in-flight flag and, after a successful flush,
// re-evaluates deferred triggers. After a failure the restored batch waits
// for the backoff to end.
func (s *Scheduler) finish(ok bool) {
	s.inFlight.Store(false)
	s.maybeAdapt()

	pending := s.takePending()
	if s.closed.Load() || !ok {
		return
	}
	switch pending {
	case TriggerTime, TriggerUrgent, TriggerManual:
		if s.buf.Len() > 0 {
			s.trigger(TriggerPending)
			return
		}
	}
	if _, ok := s.conditionMet(); ok {
		s.trigger(TriggerPending)
	}
}

// execute runs the callback for items and applies the retry policy.
func (s *Scheduler) execute(ctx context.Context, items []buffer.BufferedItem) error {
	start := time.Now()
	err := s.fn(ctx, items)
	elapsed := time.Since(start)

	s.flushes.Add(1)
	s.lastFlushAt.Store(s.now())

	switch {
	case err == nil:
		s.onSuccess(ctx, items, elapsed)
	case errors.Is(err, ErrSkipRetry):
		s.onSkip(ctx, items, elapsed, err)
	default:
		s.onFailure(ctx, items, elapsed, err)
	}
	metrics.FlushRetryKeys.Set(float64(s.ledger.Len()))
	return err
}

func (s *Scheduler) onSuccess(ctx context.Context, items []buffer.BufferedItem, elapsed time.Duration) {
	s.consecutiveFailures.Store(0)
	s.notBefore.Store(0)
	for key := range batchKeys(items) {
		s.ledger.Resolve(key)
	}
	s.itemsFlushed.Add(int64(len(items)))
	s.lastError.Store("")
	if s.tracker != nil {
		s.tracker.RecordFlush(len(items), elapsed, true)
	}
	metrics.RecordFlush(len(items), elapsed, "success")
	logging.Ctx(ctx).Debug().Int("count", len(items)).Dur("elapsed", elapsed).Msg("Flush succeeded")
}

func (s *Scheduler) onSkip(ctx context.Context, items []buffer.BufferedItem, elapsed time.Duration, err error) {
	s.skipped.Add(1)
	s.lastError.Store(err.Error())
	delay := s.cfg.RetryBackoff
	var ra interface{ RetryDelay() time.Duration }
	if errors.As(err, &ra) && ra.RetryDelay() > 0 {
		delay = ra.RetryDelay()
	}
	s.backoff(delay)

	dropped := s.buf.Restore(items)
	metrics.RecordFlush(len(items), elapsed, "skipped")
	logging.Ctx(ctx).Info().
		Err(err).
		Int("restored", len(items)-dropped).
		Dur("retry_in", delay).
		Msg("Flush deferred, batch returned to buffer")
}

func (s *Scheduler) onFailure(ctx context.Context, items []buffer.BufferedItem, elapsed time.Duration, err error) {
	s.failures.Add(1)
	s.lastError.Store(err.Error())
	delay := s.failureBackoff(s.consecutiveFailures.Add(1))
	s.backoff(delay)
	if s.tracker != nil {
		s.tracker.RecordFlush(len(items), elapsed, false)
	}
	metrics.RecordFlush(len(items), elapsed, "failure")

	now := s.now()
	groups := batchKeys(items)
	retry := make([]buffer.BufferedItem, 0, len(items))
	abandoned := make(map[string][]buffer.BufferedItem)
	for key, group := range groups {
		attempts, exhausted := s.ledger.RecordFailure(key, now)
		if exhausted {
			abandoned[key] = group
			continue
		}
		for _, it := range group {
			it.RetryCount = attempts
			retry = append(retry, it)
		}
	}

	dropped := s.buf.Restore(retry)
	logging.Ctx(ctx).Warn().
		Err(err).
		Int("count", len(items)).
		Int("restored", len(retry)-dropped).
		Dur("retry_in", delay).
		Msg("Flush failed, batch preserved for retry")

	for key, group := range abandoned {
		s.abandon(ctx, key, group, err)
	}
}

func (s *Scheduler) abandon(ctx context.Context, key string, items []buffer.BufferedItem, cause error) {
	s.itemsAbandoned.Add(int64(len(items)))
	metrics.RecordAbandoned(len(items))
	logging.Ctx(ctx).Warn().
		Str("batch_key", key).
		Int("count", len(items)).
		Int("max_retries", s.cfg.MaxRetries).
		Err(cause).
		Msg("Abandoning batch after exhausting retries")

	if s.cfg.OnAbandon != nil {
		abandonCtx, cancel := context.WithTimeout(
			logging.ContextWithCorrelationID(context.Background(), logging.CorrelationIDFromContext(ctx)),
			10*time.Second)
		defer cancel()
		s.cfg.OnAbandon(abandonCtx, key, items, cause)
	}
}

// FlushNow waits for any in-flight flush, then flushes synchronously and
// returns the callback's error.
func (s *Scheduler) FlushNow(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	ok := false
	defer func() { s.finish(ok) }()

	err := s.flushLocked(ctx, TriggerManual)
	ok = err == nil
	return err
}

// flushLocked extracts and flushes in the calling goroutine. Caller owns the in-flight flag.
func (s *Scheduler) flushLocked(ctx context.Context, reason Trigger) error {
	items := s.extract()
	if len(items) == 0 {
		return nil
	}
	metrics.FlushTotal.WithLabelValues(string(reason)).Inc()
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}
	flushCtx, cancel := context.WithTimeout(ctx, s.cfg.FlushTimeout)
	defer cancel()
	return s.execute(flushCtx, items)
}

// acquire spins until it owns the in-flight flag or ctx ends.
func (s *Scheduler) acquire(ctx context.Context) error {
	if s.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.inFlight.CompareAndSwap(false, true) {
				return nil
			}
		}
	}
}

// Run drives the time, deadline, urgent and memory triggers, and expires
// stale retry keys, until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	timeTicker := time.NewTicker(s.cfg.TimeThreshold)
	defer timeTicker.Stop()
	deadlineTicker := time.NewTicker(s.cfg.DeadlineCheckInterval)
	defer deadlineTicker.Stop()
	ledgerTicker := time.NewTicker(buffer.SweepInterval(s.cfg.LedgerTTL))
	defer ledgerTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.buf.Urgent():
			s.trigger(TriggerUrgent)
		case <-timeTicker.C:
			if !s.inFlight.Load() && s.buf.Len() > 0 {
				s.trigger(TriggerTime)
			}
		case <-deadlineTicker.C:
			s.maybeAdapt()
			if reason, ok := s.conditionMet(); ok {
				s.trigger(reason)
			} else if s.retryDue() {
				s.trigger(TriggerRetry)
			}
		case <-ledgerTicker.C:
			if n := s.ledger.Expire(s.now().Add(-s.cfg.LedgerTTL)); n > 0 {
				logging.Debug().Int("count", n).Msg("Expired stale retry keys")
			}
		}
	}
}

// Close stops new triggers, waits for the in-flight flush, and performs a
// final synchronous flush.
func (s *Scheduler) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}

	// Waits for the in-flight flush, if any.
	if err := s.acquire(ctx); err != nil {
		return fmt.Errorf("waiting for in-flight flush: %w", err)
	}
	defer s.inFlight.Store(false)

	if err := s.flushLocked(ctx, TriggerShutdown); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return nil
}

// maybeAdapt recomputes the size threshold at most once per OptimizationInterval.
func (s *Scheduler) maybeAdapt() {
	if s.tracker == nil {
		return
	}
	now := s.now().UnixNano()
	last := s.lastOptimize.Load()
	if now-last < int64(s.cfg.OptimizationInterval) {
		return
	}
	if !s.lastOptimize.CompareAndSwap(last, now) {
		return
	}
	if !s.tracker.HasSamples() {
		return
	}

	avgMs := float64(s.tracker.AvgProcessingTime()) / float64(time.Millisecond)
	eps := s.tracker.Throughput()
	current := s.Threshold()
	next := current

	switch {
	case s.cfg.PerformanceTargetMs > 0 && avgMs > s.cfg.PerformanceTargetMs:
		next = int(math.Floor(float64(current) * 0.8))
	case s.cfg.ThroughputTargetEps > 0 && eps > s.cfg.ThroughputTargetEps && avgMs < s.cfg.PerformanceTargetMs/2:
		next = int(math.Ceil(float64(current) * 1.25))
	}
	next = s.clamp(next)
	if next == current {
		return
	}

	s.threshold.Store(int64(next))
	metrics.FlushThreshold.Set(float64(next))
	logging.Info().
		Int("from", current).
		Int("to", next).
		Float64("avg_ms", avgMs).
		Float64("throughput_eps", eps).
		Msg("Adjusted flush size threshold")
}

func (s *Scheduler) clamp(n int) int {
	if n < s.cfg.MinBatchSize {
		return s.cfg.MinBatchSize
	}
	if n > s.cfg.MaxBatchSize {
		return s.cfg.MaxBatchSize
	}
	return n
}

// backoff suppresses automatic triggers for d.
func (s *Scheduler) backoff(d time.Duration) {
	s.notBefore.Store(s.now().Add(d).UnixNano())
}

func (s *Scheduler) backingOff() bool {
	nb := s.notBefore.Load()
	return nb != 0 && s.now().UnixNano() < nb
}

// retryDue reports whether a backoff has ended with a restored batch waiting.
func (s *Scheduler) retryDue() bool {
	nb := s.notBefore.Load()
	return nb != 0 && s.now().UnixNano() >= nb && s.buf.Len() > 0
}

// failureBackoff returns RetryBackoff doubled for every failure after the
// first, capped at MaxRetryBackoff.
func (s *Scheduler) failureBackoff(n int64) time.Duration {
	d := s.cfg.RetryBackoff
	for i := int64(1); i < n && d < s.cfg.MaxRetryBackoff; i++ {
		d *= 2
	}
	return min(d, s.cfg.MaxRetryBackoff)
}

func (s *Scheduler) setPending(reason Trigger) {
	s.pendingMu.Lock()
	s.pending = reason
	s.pendingMu.Unlock()
}

func (s *Scheduler) takePending() Trigger {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	p := s.pending
	s.pending = ""
	return p
}

// Stats returns current scheduler counters.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Threshold:      s.Threshold(),
		InFlight:       s.inFlight.Load(),
		Flushes:        s.flushes.Load(),
		Failures:       s.failures.Load(),
		Skipped:        s.skipped.Load(),
		ItemsFlushed:   s.itemsFlushed.Load(),
		ItemsAbandoned: s.itemsAbandoned.Load(),
		RetryKeys:      s.ledger.Len(),
	}
	if t, ok := s.lastFlushAt.Load().(time.Time); ok {
		st.LastFlushAt = t
	}
	if e, ok := s.lastError.Load().(string); ok {
		st.LastError = e
	}
	if nb := s.notBefore.Load(); nb != 0 {
		st.BackoffUntil = time.Unix(0, nb)
	}
	return st
}

// batchKeys groups items by BatchKey.
func batchKeys(items []buffer.BufferedItem) map[string][]buffer.BufferedItem {
	groups := make(map[string][]buffer.BufferedItem)
	for _, it := range items {
		groups[it.BatchKey] = append(groups[it.BatchKey], it)
	}
	return groups
}
