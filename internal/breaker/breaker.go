// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package breaker

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tomtom215/meridian/internal/logging"
	"github.com/tomtom215/meridian/internal/metrics"
)

// State is the breaker state. Numeric values match the circuit_breaker_state gauge.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var (
	// ErrOpen matches every *OpenError via errors.Is.
	ErrOpen = errors.New("circuit breaker is open")

	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("invalid circuit breaker configuration")
)

// OpenError is returned without invoking the wrapped function while the
// circuit is open, or while half-open with all trial slots taken.
type OpenError struct {
	Name       string
	State      State
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is %s, retry after %v", e.Name, e.State, e.RetryAfter.Round(time.Millisecond))
}

// Is reports whether target is ErrOpen.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// RetryDelay returns how long callers should wait before trying again. It is
// zero while half-open.
func (e *OpenError) RetryDelay() time.Duration {
	return e.RetryAfter
}

// Config configures a CircuitBreaker.
type Config struct {
	Name string

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes that closes it.
	// Default: 2
	SuccessThreshold int

	// HalfOpenMaxCalls caps concurrent calls while half-open.
	// Default: SuccessThreshold
	HalfOpenMaxCalls int

	BaseTimeout       time.Duration // Default: 30s
	MaxTimeout        time.Duration // Default: 300s
	BackoffMultiplier float64       // Default: 2.0

	// JitterFactor adds up to this fraction of the remaining cooldown to RetryAfter.
	// Default: 0.15
	JitterFactor float64

	// HistorySize bounds the transition ring returned by Metrics.
	// Default: 32
	HistorySize int

	// IsFailure decides whether an error counts against the circuit.
	// nil means every non-nil error is a failure.
	IsFailure func(error) bool

	// OnStateChange is called after each transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Now and Rand are the clock and jitter source; nil means the real ones.
	Now  func() time.Time
	Rand func() float64
}

// DefaultConfig returns the default settings for a breaker called name.
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		FailureThreshold:  5,
		SuccessThreshold:  2,
		BaseTimeout:       30 * time.Second,
		MaxTimeout:        300 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.15,
		HistorySize:       32,
	}
}

// Transition records one state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Metrics is a point-in-time snapshot of a breaker.
type Metrics struct {
	Name                 string        `json:"name"`
	State                State         `json:"state"`
	StateName            string        `json:"state_name"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	LastFailureAt        time.Time     `json:"last_failure_at"`
	CurrentTimeout       time.Duration `json:"current_timeout"`
	TotalCalls           int64         `json:"total_calls"`
	TotalFailures        int64         `json:"total_failures"`
	TotalRejected        int64         `json:"total_rejected"`
	FailureRate          float64       `json:"failure_rate"`
	Transitions          []Transition  `json:"transitions"`
}

// CircuitBreaker is a three-state circuit breaker with exponential backoff.
type CircuitBreaker struct {
	cfg Config

	mu                   sync.Mutex
	state                State
	generation           uint64
	consecutiveFailures  int
	consecutiveSuccesses int
	trials               int
	currentTimeout       time.Duration
	lastFailureAt        time.Time

	totalCalls    int64
	totalFailures int64
	totalRejected int64

	history []Transition
	histPos int
	histLen int
}

// New creates a CircuitBreaker in the CLOSED state. Zero-valued numeric
// settings take their defaults.
func New(cfg Config) (*CircuitBreaker, error) {
	def := DefaultConfig(cfg.Name)
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidConfig)
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = cfg.SuccessThreshold
	}
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = def.BaseTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = def.MaxTimeout
	}
	if cfg.MaxTimeout < cfg.BaseTimeout {
		return nil, fmt.Errorf("%w: max timeout %v below base timeout %v", ErrInvalidConfig, cfg.MaxTimeout, cfg.BaseTimeout)
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}
	if cfg.JitterFactor < 0 || cfg.JitterFactor > 1 {
		return nil, fmt.Errorf("%w: jitter factor %v outside [0, 1]", ErrInvalidConfig, cfg.JitterFactor)
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}

	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(float64(StateClosed))
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cfg.Name).Set(0)

	return &CircuitBreaker{
		cfg:            cfg,
		state:          StateClosed,
		currentTimeout: cfg.BaseTimeout,
		history:        make([]Transition, cfg.HistorySize),
	}, nil
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Call runs fn through cb and returns fn's result unchanged, or an *OpenError
// without invoking fn when the circuit rejects the call. A panic in fn is
// recorded as a failure and re-raised.
func Call[T any](cb *CircuitBreaker, fn func() (T, error)) (result T, err error) {
	gen, err := cb.before()
	if err != nil {
		return result, err
	}

	done := false
	defer func() {
		if !done {
			cb.after(gen, errPanic)
		}
	}()

	result, err = fn()
	done = true
	cb.after(gen, err)
	return result, err
}

// Do is Call for functions without a result.
func (cb *CircuitBreaker) Do(fn func() error) error {
	_, err := Call(cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

var errPanic = errors.New("panic in circuit breaker call")

// before admits or rejects a call and returns the generation it runs in.
func (cb *CircuitBreaker) before() (uint64, error) {
	cb.mu.Lock()
	now := cb.cfg.Now()

	var changed *Transition
	if cb.state == StateOpen {
		elapsed := now.Sub(cb.lastFailureAt)
		if elapsed < cb.currentTimeout {
			remaining := cb.currentTimeout - elapsed
			jitter := time.Duration(float64(remaining) * cb.cfg.JitterFactor * cb.cfg.Rand())
			cb.totalRejected++
			cb.mu.Unlock()
			metrics.CircuitBreakerRequests.WithLabelValues(cb.cfg.Name, "rejected").Inc()
			return 0, &OpenError{Name: cb.cfg.Name, State: StateOpen, RetryAfter: remaining + jitter}
		}
		changed = cb.setStateLocked(StateHalfOpen, now)
	}

	if cb.state == StateHalfOpen {
		if cb.trials >= cb.cfg.HalfOpenMaxCalls {
			cb.totalRejected++
			cb.mu.Unlock()
			cb.notify(changed)
			metrics.CircuitBreakerRequests.WithLabelValues(cb.cfg.Name, "rejected").Inc()
			return 0, &OpenError{Name: cb.cfg.Name, State: StateHalfOpen}
		}
		cb.trials++
	}

	cb.totalCalls++
	gen := cb.generation
	cb.mu.Unlock()
	cb.notify(changed)
	return gen, nil
}

// after records the outcome of a call admitted in generation gen.
func (cb *CircuitBreaker) after(gen uint64, err error) {
	failure := err != nil
	if failure && cb.cfg.IsFailure != nil && err != errPanic {
		failure = cb.cfg.IsFailure(err)
	}

	cb.mu.Lock()
	now := cb.cfg.Now()
	if failure {
		cb.totalFailures++
	}

	var changed *Transition
	if gen == cb.generation {
		switch cb.state {
		case StateClosed:
			if failure {
				cb.consecutiveFailures++
				cb.lastFailureAt = now
				if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
					changed = cb.setStateLocked(StateOpen, now)
				}
			} else {
				cb.consecutiveFailures = 0
			}
		case StateHalfOpen:
			cb.trials--
			if failure {
				cb.consecutiveFailures++
				cb.lastFailureAt = now
				next := time.Duration(math.Min(
					float64(cb.currentTimeout)*cb.cfg.BackoffMultiplier,
					float64(cb.cfg.MaxTimeout),
				))
				cb.currentTimeout = next
				changed = cb.setStateLocked(StateOpen, now)
			} else {
				cb.consecutiveSuccesses++
				if cb.consecutiveSuccesses >= cb.cfg.SuccessThreshold {
					cb.currentTimeout = cb.cfg.BaseTimeout
					changed = cb.setStateLocked(StateClosed, now)
				}
			}
		}
	}
	consecutive := cb.consecutiveFailures
	cb.mu.Unlock()

	result := "success"
	if failure {
		result = "failure"
	}
	metrics.CircuitBreakerRequests.WithLabelValues(cb.cfg.Name, result).Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cb.cfg.Name).Set(float64(consecutive))
	cb.notify(changed)
}

// setStateLocked moves to state to and starts a new generation. Caller holds mu.
func (cb *CircuitBreaker) setStateLocked(to State, now time.Time) *Transition {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.trials = 0
	cb.consecutiveSuccesses = 0
	if to != StateOpen {
		cb.consecutiveFailures = 0
	}

	t := Transition{From: from, To: to, At: now}
	cb.history[cb.histPos] = t
	cb.histPos = (cb.histPos + 1) % len(cb.history)
	if cb.histLen < len(cb.history) {
		cb.histLen++
	}
	return &t
}

// notify publishes a transition. Must be called without mu held.
func (cb *CircuitBreaker) notify(t *Transition) {
	if t == nil {
		return
	}
	name := cb.cfg.Name
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(t.To))
	metrics.CircuitBreakerTransitions.WithLabelValues(name, t.From.String(), t.To.String()).Inc()
	if t.To == StateClosed {
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
	}

	ev := logging.Info()
	if t.To == StateOpen {
		ev = logging.Warn().Dur("cooldown", cb.CurrentTimeout())
	}
	ev.Str("breaker", name).
		Str("from", t.From.String()).
		Str("to", t.To.String()).
		Msg("[CIRCUIT BREAKER] State transition")

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(name, t.From, t.To)
	}
}

// State returns the current state. It does not perform the lazy OPEN to
// HALF_OPEN transition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CurrentTimeout returns the cooldown applied on the next OPEN period.
func (cb *CircuitBreaker) CurrentTimeout() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentTimeout
}

// Metrics returns a snapshot including the transition history, oldest first.
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	m := Metrics{
		Name:                 cb.cfg.Name,
		State:                cb.state,
		StateName:            cb.state.String(),
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		LastFailureAt:        cb.lastFailureAt,
		CurrentTimeout:       cb.currentTimeout,
		TotalCalls:           cb.totalCalls,
		TotalFailures:        cb.totalFailures,
		TotalRejected:        cb.totalRejected,
		Transitions:          make([]Transition, 0, cb.histLen),
	}
	if cb.totalCalls > 0 {
		m.FailureRate = float64(cb.totalFailures) / float64(cb.totalCalls)
	}
	start := (cb.histPos - cb.histLen + len(cb.history)) % len(cb.history)
	for i := 0; i < cb.histLen; i++ {
		m.Transitions = append(m.Transitions, cb.history[(start+i)%len(cb.history)])
	}
	return m
}
