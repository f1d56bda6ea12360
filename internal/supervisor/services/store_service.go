// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package services

import (
	"context"
	"time"

	"github.com/tomtom215/meridian/internal/logging"
)

// GarbageCollector is satisfied by *sink.Store.
type GarbageCollector interface {
	RunGC()
}

// StoreGCService periodically reclaims event store value log space.
//
//	tree.AddStorageService(services.NewStoreGCService(store, 10*time.Minute))
type StoreGCService struct {
	store    GarbageCollector
	interval time.Duration
	name     string
}

// NewStoreGCService creates a StoreGCService. interval defaults to 10m.
func NewStoreGCService(store GarbageCollector, interval time.Duration) *StoreGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StoreGCService{
		store:    store,
		interval: interval,
		name:     "store-gc",
	}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			s.store.RunGC()
			logging.Debug().Dur("elapsed", time.Since(start)).Msg("Event store GC pass complete")
		}
	}
}

// String implements fmt.Stringer.
func (s *StoreGCService) String() string {
	return s.name
}
