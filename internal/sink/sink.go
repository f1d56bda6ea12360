// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

// Package sink delivers fused events downstream.
//
// Store persists events in BadgerDB keyed by canonical ID, so re-persisting
// an updated event overwrites the previous version. Publisher fans events out
// on an in-process Watermill topic. Multi combines several sinks.
package sink

import (
	"context"
	"errors"

	"github.com/tomtom215/meridian/internal/models"
)

// Sink receives fused events. Persist is called once per event per flush.
type Sink interface {
	Persist(ctx context.Context, event models.FusedEvent) error
}

// Multi forwards each event to every sink and joins their errors.
type Multi []Sink

// Persist implements Sink. Every sink is attempted even if an earlier one fails.
func (m Multi) Persist(ctx context.Context, event models.FusedEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Persist(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to the Sink interface.
type Func func(ctx context.Context, event models.FusedEvent) error

// Persist implements Sink.
func (f Func) Persist(ctx context.Context, event models.FusedEvent) error {
	return f(ctx, event)
}
