// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/meridian/internal/logging"
	"github.com/tomtom215/meridian/internal/metrics"
	"github.com/tomtom215/meridian/internal/models"
)

// Key prefixes for BadgerDB storage.
const (
	eventPrefix     = "event:"
	abandonedPrefix = "abandoned:"
)

// ErrNotFound is returned by Get for unknown canonical IDs.
var ErrNotFound = errors.New("event not found")

// ErrStoreClosed is returned after Close.
var ErrStoreClosed = errors.New("store is closed")

// StoreConfig configures a Store.
type StoreConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all data in memory; intended for tests and ephemeral runs.
	InMemory bool

	// AbandonedTTL is how long dead-lettered items are kept.
	// Default: 168h
	AbandonedTTL time.Duration

	SyncWrites bool
}

// AbandonedRecord is a dead-lettered item kept for inspection.
type AbandonedRecord struct {
	Item        models.Item `json:"item"`
	AbandonedAt time.Time   `json:"abandoned_at"`
}

// Store is a BadgerDB-backed Sink.
type Store struct {
	db     *badger.DB
	cfg    StoreConfig
	mu     sync.RWMutex
	closed bool
}

// OpenStore opens (or creates) the event store.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("store path required")
	}
	if cfg.AbandonedTTL <= 0 {
		cfg.AbandonedTTL = 168 * time.Hour
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Dur("abandoned_ttl", cfg.AbandonedTTL).
		Msg("Event store opened")

	return &Store{db: db, cfg: cfg}, nil
}

// Persist implements Sink. An existing event with the same canonical ID is
// overwritten.
func (s *Store) Persist(_ context.Context, event models.FusedEvent) error {
	err := s.persist(event)
	metrics.RecordSinkWrite("store", err)
	return err
}

func (s *Store) persist(event models.FusedEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := []byte(eventPrefix + event.CanonicalID)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return fmt.Errorf("write event %s: %w", event.CanonicalID, err)
	}
	return nil
}

// Get returns the stored event with the given canonical ID.
func (s *Store) Get(_ context.Context, id string) (models.FusedEvent, error) {
	var event models.FusedEvent

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return event, ErrStoreClosed
	}

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(eventPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return event, ErrNotFound
	}
	if err != nil {
		return event, fmt.Errorf("read event %s: %w", id, err)
	}
	return event, nil
}

// List returns up to limit stored events in key order. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]models.FusedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var events []models.FusedEvent
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(eventPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(eventPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var event models.FusedEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Skipping corrupt event entry")
				continue
			}
			events = append(events, event)
			if limit > 0 && len(events) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// RecordAbandoned dead-letters items whose flush retries are exhausted. The
// records expire after AbandonedTTL.
func (s *Store) RecordAbandoned(items []models.Item) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	now := time.Now().UTC()
	err := s.db.Update(func(txn *badger.Txn) error {
		for i := range items {
			data, err := json.Marshal(AbandonedRecord{Item: items[i], AbandonedAt: now})
			if err != nil {
				return fmt.Errorf("marshal abandoned item: %w", err)
			}
			key := []byte(abandonedPrefix + items[i].Source + ":" + items[i].ID)
			e := badger.NewEntry(key, data).WithTTL(s.cfg.AbandonedTTL)
			if err := txn.SetEntry(e); err != nil {
				return err
			}
		}
		return nil
	})
	metrics.RecordSinkWrite("abandoned", err)
	if err != nil {
		return fmt.Errorf("write abandoned items: %w", err)
	}
	return nil
}

// Abandoned returns all unexpired dead-lettered items.
func (s *Store) Abandoned() ([]AbandonedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var records []AbandonedRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(abandonedPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec AbandonedRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list abandoned items: %w", err)
	}
	return records, nil
}

// RunGC reclaims value log space until there is nothing left to rewrite.
func (s *Store) RunGC() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.cfg.InMemory {
		return
	}
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				logging.Warn().Err(err).Msg("Event store value log GC failed")
			}
			return
		}
	}
}

// Close closes the underlying database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("Event store closed")
	return nil
}
