// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

/*
Package breaker provides a circuit breaker with exponential backoff for the
batch classification dependency called during a flush.

# States

	CLOSED    calls pass through; FailureThreshold consecutive failures open the circuit
	OPEN      calls are rejected with *OpenError until CurrentTimeout has elapsed
	          since the last failure; the next call then moves to HALF_OPEN
	HALF_OPEN up to HalfOpenMaxCalls calls run; SuccessThreshold consecutive
	          successes close the circuit and reset the timeout, any failure
	          reopens it with the timeout multiplied by BackoffMultiplier

The OPEN to HALF_OPEN transition is lazy: there is no timer goroutine.

Unlike sony/gobreaker, which the geocoder client uses for its simpler
trip-on-ratio policy, this breaker grows its cooldown on every failed trial call
and carries a retry hint in the rejection error.

# Usage

	cb, err := breaker.New(breaker.DefaultConfig("classifier"))
	results, err := breaker.Call(cb, func() (map[string]models.ClassifyResult, error) {
	    return classifier.ClassifyBatch(ctx, items)
	})
	var open *breaker.OpenError
	if errors.As(err, &open) {
	    // back off for open.RetryAfter
	}

# Thread Safety

All state is guarded by one mutex per breaker. The wrapped function runs
outside the lock. A result that arrives after the breaker changed state (for
example a slow call started while CLOSED finishing after the circuit opened)
is counted but does not move the state machine.
*/
package breaker
