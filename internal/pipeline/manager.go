// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/meridian/internal/breaker"
	"github.com/tomtom215/meridian/internal/buffer"
	"github.com/tomtom215/meridian/internal/classify"
	"github.com/tomtom215/meridian/internal/embedding"
	"github.com/tomtom215/meridian/internal/flush"
	"github.com/tomtom215/meridian/internal/fusion"
	"github.com/tomtom215/meridian/internal/logging"
	"github.com/tomtom215/meridian/internal/metrics"
	"github.com/tomtom215/meridian/internal/models"
	"github.com/tomtom215/meridian/internal/perf"
	"github.com/tomtom215/meridian/internal/resolver"
	"github.com/tomtom215/meridian/internal/sink"
)

var (
	// ErrMissingDependency is returned by New when a required dependency is nil.
	ErrMissingDependency = errors.New("missing pipeline dependency")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("pipeline closed")

	// ErrBufferFull is the cause passed to OnAbandon for a submitted item
	// that the buffer rejected after resolution.
	ErrBufferFull = errors.New("event buffer full")
)

// LocationResolver resolves place names to coordinates under a shared deadline.
// Satisfied by *resolver.Cascade[models.GeoPoint].
type LocationResolver interface {
	Resolve(ctx context.Context, key string) resolver.Result[models.GeoPoint]
	Stats() resolver.Stats
}

// AbandonFunc receives items whose batch exhausted its flush retries.
type AbandonFunc func(ctx context.Context, items []models.Item, cause error)

// Deps are the external collaborators of a Manager. Classifier and Sink are
// required.
type Deps struct {
	Classifier classify.Classifier
	Resolver   LocationResolver
	Embedder   embedding.Embedder
	Sink       sink.Sink
	OnAbandon  AbandonFunc
}

type job struct {
	item      models.Item
	sourceTag string
	priority  models.Priority
	deadline  time.Time
}

// Manager is the explicitly constructed ingestion core.
type Manager struct {
	cfg     Config
	deps    Deps
	buf     *buffer.EventBuffer
	tracker *perf.Tracker
	sched   *flush.Scheduler
	cb      *breaker.CircuitBreaker
	engine  *fusion.Engine

	jobs   chan job
	jobsMu sync.RWMutex // guards close(jobs) against Submit
	closed bool

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	bgWG      sync.WaitGroup
	workerWG  sync.WaitGroup

	totalQueued    atomic.Int64
	submitted      atomic.Int64
	submitRejected atomic.Int64
	submitDropped  atomic.Int64
	persisted      atomic.Int64
	persistErrors  atomic.Int64
}

// New creates a Manager.
func New(cfg Config, deps Deps) (*Manager, error) {
	if deps.Classifier == nil {
		return nil, fmt.Errorf("%w: classifier", ErrMissingDependency)
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("%w: sink", ErrMissingDependency)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "classifier"
	}

	buf, err := buffer.New(cfg.Buffer)
	if err != nil {
		return nil, fmt.Errorf("create buffer: %w", err)
	}
	cb, err := breaker.New(cfg.Breaker)
	if err != nil {
		return nil, fmt.Errorf("create circuit breaker: %w", err)
	}
	engine, err := fusion.New(cfg.Fusion, deps.Embedder)
	if err != nil {
		return nil, fmt.Errorf("create fusion engine: %w", err)
	}

	m := &Manager{
		cfg:     cfg,
		deps:    deps,
		buf:     buf,
		tracker: perf.NewTracker(cfg.Perf),
		cb:      cb,
		engine:  engine,
		jobs:    make(chan job, cfg.QueueSize),
	}

	flushCfg := cfg.Flush
	if deps.OnAbandon != nil {
		flushCfg.OnAbandon = m.abandon
	}
	sched, err := flush.New(buf, m.tracker, m.flush, flushCfg)
	if err != nil {
		return nil, fmt.Errorf("create flush scheduler: %w", err)
	}
	m.sched = sched
	return m, nil
}

// Start launches the background sweeps, the flush scheduler loop and the
// Submit workers. It returns immediately; Close stops everything.
func (m *Manager) Start(ctx context.Context) error {
	m.jobsMu.RLock()
	closed := m.closed
	m.jobsMu.RUnlock()
	if closed {
		return ErrClosed
	}

	m.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		m.cancel = cancel
		m.started.Store(true)

		m.goBackground(func() { _ = m.buf.RunSweeper(runCtx) })
		m.goBackground(func() { _ = m.sched.Run(runCtx) })
		if m.cfg.Retention > 0 {
			m.goBackground(func() { m.runRetention(runCtx) })
		}
		for i := 0; i < m.cfg.Workers; i++ {
			m.workerWG.Add(1)
			go func() {
				defer m.workerWG.Done()
				for j := range m.jobs {
					m.process(runCtx, j)
				}
			}()
		}

		logging.Info().
			Int("workers", m.cfg.Workers).
			Int("queue_size", m.cfg.QueueSize).
			Int("buffer_max_size", m.buf.MaxSize()).
			Int("flush_threshold", m.sched.Threshold()).
			Msg("Pipeline started")
	})
	return nil
}

func (m *Manager) goBackground(fn func()) {
	m.bgWG.Add(1)
	go func() {
		defer m.bgWG.Done()
		fn()
	}()
}

// Close stops accepting submissions, drains the submit queue, performs a final
// flush and stops background work. It is safe to call more than once.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		m.jobsMu.Lock()
		m.closed = true
		close(m.jobs)
		m.jobsMu.Unlock()

		if m.started.Load() {
			done := make(chan struct{})
			go func() {
				m.workerWG.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				err = fmt.Errorf("draining submit queue: %w", ctx.Err())
			}
		} else {
			for j := range m.jobs {
				m.process(ctx, j)
			}
		}
		metrics.PipelineQueueDepth.Set(0)

		if flushErr := m.sched.Close(ctx); flushErr != nil {
			err = errors.Join(err, flushErr)
		}
		if m.cancel != nil {
			m.cancel()
		}
		m.bgWG.Wait()

		logging.Info().
			Int64("total_queued", m.totalQueued.Load()).
			Int64("total_flushed", m.sched.Stats().ItemsFlushed).
			Int("remaining", m.buf.Len()).
			Msg("Pipeline stopped")
	})
	return err
}

// Enqueue buffers item for classification and fusion. It never blocks and
// reports whether the buffer accepted the item. The item's location is taken
// as given; use Submit to resolve PlaceName first.
func (m *Manager) Enqueue(item models.Item, sourceTag string, priority models.Priority) bool {
	return m.EnqueueWithDeadline(item, sourceTag, priority, time.Time{})
}

// EnqueueWithDeadline is Enqueue with a processing deadline. A zero deadline
// means none; an urgent item whose deadline has passed forces a flush.
func (m *Manager) EnqueueWithDeadline(item models.Item, sourceTag string, priority models.Priority, deadline time.Time) bool {
	m.jobsMu.RLock()
	closed := m.closed
	m.jobsMu.RUnlock()
	if closed {
		return false
	}
	return m.enqueue(&job{item: item, sourceTag: sourceTag, priority: priority, deadline: deadline})
}

// enqueue fills in the item's ID and source, then buffers it.
func (m *Manager) enqueue(j *job) bool {
	if j.item.ID == "" {
		j.item.ID = uuid.New().String()
	}
	if j.sourceTag == "" {
		j.sourceTag = j.item.Source
	}
	if j.item.Source == "" {
		j.item.Source = j.sourceTag
	}

	accepted := m.buf.Enqueue(buffer.BufferedItem{
		ID:                 j.item.ID,
		Payload:            j.item,
		SourceTag:          j.sourceTag,
		Priority:           j.priority,
		ProcessingDeadline: j.deadline,
	})
	if !accepted {
		logging.Debug().
			Str("id", j.item.ID).
			Str("source", j.sourceTag).
			Str("priority", j.priority.String()).
			Msg("Buffer rejected item")
		return false
	}

	m.totalQueued.Add(1)
	m.tracker.RecordEnqueue()
	m.tracker.ObserveBuffer(m.buf.Len(), m.buf.MaxSize())
	m.sched.AfterEnqueue(j.priority)
	return true
}

// Submit queues item for location resolution followed by Enqueue. It returns
// false without blocking if the submit queue is full or the pipeline is closed.
func (m *Manager) Submit(item models.Item, sourceTag string, priority models.Priority) bool {
	return m.SubmitWithDeadline(item, sourceTag, priority, time.Time{})
}

// SubmitWithDeadline is Submit with a processing deadline.
func (m *Manager) SubmitWithDeadline(item models.Item, sourceTag string, priority models.Priority, deadline time.Time) bool {
	m.jobsMu.RLock()
	defer m.jobsMu.RUnlock()
	if m.closed {
		return false
	}

	select {
	case m.jobs <- job{item: item, sourceTag: sourceTag, priority: priority, deadline: deadline}:
		m.submitted.Add(1)
		metrics.PipelineQueueDepth.Set(float64(len(m.jobs)))
		return true
	default:
		m.submitRejected.Add(1)
		metrics.PipelineSubmitRejected.Inc()
		return false
	}
}

// process runs one submitted job. Jobs already queued when Close is called
// are still enqueued.
//
// Submit has already reported the item as accepted, so a buffer rejection
// here is counted, logged and handed to OnAbandon.
func (m *Manager) process(ctx context.Context, j job) {
	metrics.PipelineQueueDepth.Set(float64(len(m.jobs)))
	m.resolveLocation(ctx, &j.item)
	if m.enqueue(&j) {
		return
	}

	m.submitDropped.Add(1)
	metrics.PipelineSubmitDropped.Inc()
	logging.Ctx(ctx).Warn().
		Str("id", j.item.ID).
		Str("source", j.sourceTag).
		Str("priority", j.priority.String()).
		Int("buffer_size", m.buf.Len()).
		Msg("Buffer full, dropping submitted item")
	if m.deps.OnAbandon != nil {
		m.deps.OnAbandon(ctx, []models.Item{j.item}, ErrBufferFull)
	}
}

// resolveLocation fills item.Location from item.PlaceName when missing.
func (m *Manager) resolveLocation(ctx context.Context, item *models.Item) {
	if m.deps.Resolver == nil || item.Located() || item.PlaceName == "" {
		return
	}
	res := m.deps.Resolver.Resolve(ctx, item.PlaceName)
	if !res.Found {
		return
	}
	loc := res.Value
	item.Location = &loc
}

// flush is the Scheduler callback.
func (m *Manager) flush(ctx context.Context, batch []buffer.BufferedItem) error {
	items := make([]models.Item, len(batch))
	for i := range batch {
		items[i] = batch[i].Payload.Clone()
		if items[i].ID == "" {
			items[i].ID = batch[i].ID
		}
		if items[i].Source == "" {
			items[i].Source = batch[i].SourceTag
		}
	}

	results, err := breaker.Call(m.cb, func() (map[string]models.ClassifyResult, error) {
		return m.deps.Classifier.ClassifyBatch(ctx, items)
	})
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			return fmt.Errorf("%w: %w", flush.ErrSkipRetry, err)
		}
		return fmt.Errorf("classify batch: %w", err)
	}

	for i := range items {
		r, ok := results[items[i].ID]
		if !ok {
			continue
		}
		named := items[i].PlaceName
		r.Apply(&items[i])
		if named == "" {
			m.resolveLocation(ctx, &items[i])
		}
	}

	events, err := m.engine.Process(ctx, items)
	if err != nil {
		return fmt.Errorf("fuse batch: %w", err)
	}

	var errs []error
	for _, ev := range fusion.Rank(events) {
		if err := m.deps.Sink.Persist(ctx, ev); err != nil {
			m.persistErrors.Add(1)
			errs = append(errs, err)
			continue
		}
		m.persisted.Add(1)
	}
	if len(errs) > 0 {
		return fmt.Errorf("persist %d of %d events: %w", len(errs), len(events), errors.Join(errs...))
	}
	logging.Ctx(ctx).Debug().
		Int("items", len(items)).
		Int("events", len(events)).
		Msg("Batch fused and persisted")
	return nil
}

func (m *Manager) abandon(ctx context.Context, _ string, batch []buffer.BufferedItem, cause error) {
	items := make([]models.Item, len(batch))
	for i := range batch {
		items[i] = batch[i].Payload
	}
	m.deps.OnAbandon(ctx, items, cause)
}

func (m *Manager) runRetention(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.engine.Evict(time.Now().Add(-m.cfg.Retention)); n > 0 {
				logging.Debug().Int("evicted", n).Msg("Evicted fused events past retention")
			}
		}
	}
}

// FlushNow synchronously flushes whatever is buffered.
func (m *Manager) FlushNow(ctx context.Context) error {
	return m.sched.FlushNow(ctx)
}

// Event returns the in-memory fused event with the given canonical ID.
func (m *Manager) Event(canonicalID string) (models.FusedEvent, bool) {
	return m.engine.Get(canonicalID)
}

// Breaker exposes the classifier circuit breaker.
func (m *Manager) Breaker() *breaker.CircuitBreaker {
	return m.cb
}
