// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package buffer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/meridian/internal/logging"
	"github.com/tomtom215/meridian/internal/metrics"
	"github.com/tomtom215/meridian/internal/models"
)

// MinSweepInterval is the lower bound of the background prune interval.
const MinSweepInterval = 30 * time.Second

// ErrInvalidConfig is returned by New for unusable settings.
var ErrInvalidConfig = errors.New("invalid buffer configuration")

// BufferedItem is one pending item. The buffer owns it from Enqueue until
// ExtractAll hands it to a flush.
type BufferedItem struct {
	ID                 string
	Payload            models.Item
	SourceTag          string
	Priority           models.Priority
	EnqueuedAt         time.Time
	ProcessingDeadline time.Time // zero means none
	RetryCount         int
	BatchKey           string

	seq uint64
}

// Seq returns the buffer-assigned enqueue sequence number.
func (it BufferedItem) Seq() uint64 {
	return it.seq
}

// Config configures an EventBuffer.
type Config struct {
	MaxSize int
	MaxAge  time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Stats is a snapshot of buffer counters.
type Stats struct {
	Size            int     `json:"size"`
	PrioritySize    int     `json:"priority_size"`
	MaxSize         int     `json:"max_size"`
	Utilization     float64 `json:"utilization"`
	Accepted        int64   `json:"accepted"`
	Rejected        int64   `json:"rejected"`
	EvictedCapacity int64   `json:"evicted_capacity"`
	EvictedStale    int64   `json:"evicted_stale"`
	Restored        int64   `json:"restored"`
	RestoreDropped  int64   `json:"restore_dropped"`
}

// EventBuffer is a bounded two-tier item store.
type EventBuffer struct {
	maxSize int
	maxAge  time.Duration
	now     func() time.Time

	mu       sync.Mutex
	normal   []BufferedItem // sorted by (EnqueuedAt, seq)
	priority []BufferedItem // sorted by (EnqueuedAt, seq)
	index    map[string]models.Priority
	seq      uint64

	urgent chan struct{}

	accepted        atomic.Int64
	rejected        atomic.Int64
	evictedCapacity atomic.Int64
	evictedStale    atomic.Int64
	restored        atomic.Int64
	restoreDropped  atomic.Int64
}

// New creates an EventBuffer.
func New(cfg Config) (*EventBuffer, error) {
	if cfg.MaxSize < 1 {
		return nil, fmt.Errorf("%w: max size must be positive, got %d", ErrInvalidConfig, cfg.MaxSize)
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("%w: max age must be positive, got %v", ErrInvalidConfig, cfg.MaxAge)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &EventBuffer{
		maxSize: cfg.MaxSize,
		maxAge:  cfg.MaxAge,
		now:     cfg.Now,
		index:   make(map[string]models.Priority),
		urgent:  make(chan struct{}, 1),
	}, nil
}

// Enqueue adds item and reports whether it was accepted. It never blocks.
//
// ID defaults to Payload.ID, then to a random UUID. EnqueuedAt is always set
// by the buffer. Enqueueing an ID that is already pending is a no-op that
// returns true, unless the new priority is higher, in which case the pending
// copy is replaced.
func (b *EventBuffer) Enqueue(item BufferedItem) bool {
	if item.ID == "" {
		item.ID = item.Payload.ID
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Priority < models.PriorityNormal || item.Priority > models.PriorityUrgent {
		item.Priority = models.PriorityNormal
	}
	item.Payload = item.Payload.Clone()

	now := b.now()

	b.mu.Lock()
	stale := b.pruneLocked(now)

	if existing, ok := b.index[item.ID]; ok {
		if item.Priority <= existing {
			b.mu.Unlock()
			b.afterMutation(stale, 0)
			return true
		}
		b.removeIDLocked(item.ID, existing)
	}

	evicted := 0
	if b.sizeLocked() >= b.maxSize {
		switch item.Priority {
		case models.PriorityNormal:
			b.mu.Unlock()
			b.rejected.Add(1)
			metrics.RecordEnqueue(item.Priority.String(), false)
			b.afterMutation(stale, 0)
			return false
		case models.PriorityHigh:
			if len(b.normal) == 0 {
				b.mu.Unlock()
				b.rejected.Add(1)
				metrics.RecordEnqueue(item.Priority.String(), false)
				b.afterMutation(stale, 0)
				return false
			}
		}
		for b.sizeLocked() >= b.maxSize {
			if _, ok := b.evictOldestLocked(); !ok {
				break
			}
			evicted++
		}
	}

	b.seq++
	item.seq = b.seq
	item.EnqueuedAt = now
	b.insertLocked(item)
	b.mu.Unlock()

	b.accepted.Add(1)
	metrics.RecordEnqueue(item.Priority.String(), true)
	if evicted > 0 {
		b.evictedCapacity.Add(int64(evicted))
		logging.Debug().
			Str("id", item.ID).
			Str("priority", item.Priority.String()).
			Int("evicted", evicted).
			Msg("Buffer full, evicted oldest items to make room")
	}
	b.afterMutation(stale, evicted)

	if item.Priority == models.PriorityUrgent {
		select {
		case b.urgent <- struct{}{}:
		default:
		}
	}
	return true
}

// ExtractAll drains both stores and returns the items ordered by priority
// descending, then EnqueuedAt ascending, then enqueue sequence ascending.
func (b *EventBuffer) ExtractAll() []BufferedItem {
	b.mu.Lock()
	if len(b.normal) == 0 && len(b.priority) == 0 {
		b.mu.Unlock()
		return []BufferedItem{}
	}
	out := make([]BufferedItem, 0, len(b.normal)+len(b.priority))
	out = append(out, b.priority...)
	out = append(out, b.normal...)
	b.normal = nil
	b.priority = nil
	b.index = make(map[string]models.Priority)
	b.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return extractLess(out[i], out[j])
	})
	b.afterMutation(0, 0)
	return out
}

// Restore returns items from a failed flush to the buffer. Items keep their
// EnqueuedAt, sequence, RetryCount and BatchKey. IDs that were re-enqueued in
// the meantime keep the newer copy. Capacity is then enforced oldest-first;
// the number of items dropped to do so is returned.
func (b *EventBuffer) Restore(items []BufferedItem) int {
	if len(items) == 0 {
		return 0
	}

	b.mu.Lock()
	restored := 0
	for _, it := range items {
		if _, ok := b.index[it.ID]; ok {
			continue
		}
		if it.seq == 0 {
			b.seq++
			it.seq = b.seq
		}
		b.insertLocked(it)
		restored++
	}
	dropped := 0
	for b.sizeLocked() > b.maxSize {
		if _, ok := b.evictOldestLocked(); !ok {
			break
		}
		dropped++
	}
	b.mu.Unlock()

	b.restored.Add(int64(restored))
	if dropped > 0 {
		b.restoreDropped.Add(int64(dropped))
		metrics.RecordEviction("restore", dropped)
		logging.Warn().
			Int("restored", restored).
			Int("dropped", dropped).
			Int("max_size", b.maxSize).
			Msg("Buffer over capacity after restoring failed batch, dropped oldest items")
	}
	b.afterMutation(0, 0)
	return dropped
}

// Prune removes items older than MaxAge as of now and returns how many were removed.
func (b *EventBuffer) Prune(now time.Time) int {
	b.mu.Lock()
	n := b.pruneLocked(now)
	b.mu.Unlock()
	b.afterMutation(n, 0)
	return n
}

// pruneLocked removes stale items (caller must hold lock). Both stores are
// age-sorted so stale items form a prefix.
func (b *EventBuffer) pruneLocked(now time.Time) int {
	cutoff := now.Add(-b.maxAge)
	removed := 0
	trim := func(list []BufferedItem) []BufferedItem {
		i := 0
		for i < len(list) && list[i].EnqueuedAt.Before(cutoff) {
			delete(b.index, list[i].ID)
			i++
		}
		removed += i
		if i == 0 {
			return list
		}
		return append(list[:0:0], list[i:]...)
	}
	b.normal = trim(b.normal)
	b.priority = trim(b.priority)
	return removed
}

// insertLocked places item in its store keeping (EnqueuedAt, seq) order.
func (b *EventBuffer) insertLocked(item BufferedItem) {
	list := &b.normal
	if item.Priority > models.PriorityNormal {
		list = &b.priority
	}
	l := *list
	i := sort.Search(len(l), func(i int) bool { return ageLess(item, l[i]) })
	l = append(l, BufferedItem{})
	copy(l[i+1:], l[i:])
	l[i] = item
	*list = l
	b.index[item.ID] = item.Priority
}

// evictOldestLocked removes the oldest item of the lowest tier present.
func (b *EventBuffer) evictOldestLocked() (BufferedItem, bool) {
	if len(b.normal) > 0 {
		victim := b.normal[0]
		b.normal = b.normal[1:]
		delete(b.index, victim.ID)
		return victim, true
	}
	for _, tier := range []models.Priority{models.PriorityHigh, models.PriorityUrgent} {
		for i, it := range b.priority {
			if it.Priority == tier {
				b.priority = append(b.priority[:i], b.priority[i+1:]...)
				delete(b.index, it.ID)
				return it, true
			}
		}
	}
	return BufferedItem{}, false
}

func (b *EventBuffer) removeIDLocked(id string, p models.Priority) {
	list := &b.normal
	if p > models.PriorityNormal {
		list = &b.priority
	}
	for i, it := range *list {
		if it.ID == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			break
		}
	}
	delete(b.index, id)
}

func (b *EventBuffer) sizeLocked() int {
	return len(b.normal) + len(b.priority)
}

// afterMutation publishes gauges and counters outside the lock.
func (b *EventBuffer) afterMutation(stale, evicted int) {
	if stale > 0 {
		b.evictedStale.Add(int64(stale))
		metrics.RecordEviction("stale", stale)
		logging.Debug().Int("count", stale).Dur("max_age", b.maxAge).Msg("Pruned stale buffered items")
	}
	metrics.RecordEviction("capacity", evicted)
	b.mu.Lock()
	normal, priority := len(b.normal), len(b.priority)
	b.mu.Unlock()
	metrics.UpdateBufferGauges(normal, priority, float64(normal+priority)/float64(b.maxSize))
}

// Size returns the number of normal-priority items.
func (b *EventBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.normal)
}

// PrioritySize returns the number of high and urgent items.
func (b *EventBuffer) PrioritySize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.priority)
}

// Len returns the combined number of pending items.
func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sizeLocked()
}

// MaxSize returns the configured capacity.
func (b *EventBuffer) MaxSize() int {
	return b.maxSize
}

// Utilization returns combined size / MaxSize.
func (b *EventBuffer) Utilization() float64 {
	return float64(b.Len()) / float64(b.maxSize)
}

// HasExpiredDeadline reports whether any urgent item's processing deadline
// is at or before now.
func (b *EventBuffer) HasExpiredDeadline(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, it := range b.priority {
		if it.Priority == models.PriorityUrgent && !it.ProcessingDeadline.IsZero() && !it.ProcessingDeadline.After(now) {
			return true
		}
	}
	return false
}

// Urgent is signalled after every accepted urgent enqueue. Signals coalesce.
func (b *EventBuffer) Urgent() <-chan struct{} {
	return b.urgent
}

// Stats returns a snapshot of buffer counters.
func (b *EventBuffer) Stats() Stats {
	b.mu.Lock()
	normal, priority := len(b.normal), len(b.priority)
	b.mu.Unlock()
	return Stats{
		Size:            normal,
		PrioritySize:    priority,
		MaxSize:         b.maxSize,
		Utilization:     float64(normal+priority) / float64(b.maxSize),
		Accepted:        b.accepted.Load(),
		Rejected:        b.rejected.Load(),
		EvictedCapacity: b.evictedCapacity.Load(),
		EvictedStale:    b.evictedStale.Load(),
		Restored:        b.restored.Load(),
		RestoreDropped:  b.restoreDropped.Load(),
	}
}

// SweepInterval returns the background prune interval for maxAge:
// maxAge/10, but never less than MinSweepInterval.
func SweepInterval(maxAge time.Duration) time.Duration {
	if iv := maxAge / 10; iv > MinSweepInterval {
		return iv
	}
	return MinSweepInterval
}

// RunSweeper prunes stale items every SweepInterval(MaxAge) until ctx is done.
// It shares the locked prune path used by Enqueue.
func (b *EventBuffer) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(SweepInterval(b.maxAge))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.Prune(b.now())
		}
	}
}

func ageLess(a, b BufferedItem) bool {
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.seq < b.seq
}

func extractLess(a, b BufferedItem) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return ageLess(a, b)
}
