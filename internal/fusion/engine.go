// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package fusion

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/tomtom215/meridian/internal/cache"
	"github.com/tomtom215/meridian/internal/embedding"
	"github.com/tomtom215/meridian/internal/logging"
	"github.com/tomtom215/meridian/internal/metrics"
	"github.com/tomtom215/meridian/internal/models"
)

// ErrInvalidConfig is returned by New for unusable settings.
var ErrInvalidConfig = errors.New("invalid fusion configuration")

// Config configures an Engine.
type Config struct {
	// SimilarityThreshold is the cosine similarity at or above which an item
	// is a duplicate of one already indexed for the same source.
	// Default: 0.92
	SimilarityThreshold float64

	// RadiusKm is the strict upper bound on the distance between two reports
	// of the same incident.
	// Default: 10
	RadiusKm float64

	// TrustedDomains earn a quality bonus. Subdomains match.
	TrustedDomains []string

	// NewIndex creates the per-source embedding index. Default: NewHNSWIndex.
	NewIndex func() Index

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Stats summarizes engine activity.
type Stats struct {
	Events        int     `json:"events"`
	Verified      int     `json:"verified"`
	VerifiedRatio float64 `json:"verified_ratio"`
	Processed     int64   `json:"processed"`
	Created       int64   `json:"created"`
	Merged        int64   `json:"merged"`
	Duplicates    int64   `json:"duplicates"`
	Replayed      int64   `json:"replayed"`
	Evicted       int64   `json:"evicted"`
	EmbedErrors   int64   `json:"embed_errors"`
}

type member struct {
	id     string
	source string
}

// eventState is the engine's bookkeeping for one fused event.
type eventState struct {
	event   models.FusedEvent
	domain  string // domain of the report whose scalar fields won
	members []member
}

// Engine deduplicates items by embedding similarity within a source and fuses
// reports from different sources that share a UTC day and fall within
// RadiusKm of each other.
type Engine struct {
	cfg      Config
	embedder embedding.Embedder
	trusted  []string

	mu         sync.Mutex
	indexes    map[string]Index
	grid       *cache.GeoGrid
	events     map[string]*eventState
	itemEvent  map[string]string // member item ID -> canonical ID
	duplicates map[string]string // discarded item ID -> day

	stats Stats
}

// New creates an Engine. embedder may be nil, which disables embedding dedup.
func New(cfg Config, embedder embedding.Embedder) (*Engine, error) {
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.92
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("%w: similarity threshold %v outside (0, 1]", ErrInvalidConfig, cfg.SimilarityThreshold)
	}
	if cfg.RadiusKm == 0 {
		cfg.RadiusKm = 10
	}
	if cfg.RadiusKm < 0 {
		return nil, fmt.Errorf("%w: radius %v must be positive", ErrInvalidConfig, cfg.RadiusKm)
	}
	if cfg.NewIndex == nil {
		cfg.NewIndex = func() Index { return NewHNSWIndex() }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	trusted := make([]string, 0, len(cfg.TrustedDomains))
	for _, d := range cfg.TrustedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			trusted = append(trusted, d)
		}
	}

	return &Engine{
		cfg:        cfg,
		embedder:   embedder,
		trusted:    trusted,
		indexes:    make(map[string]Index),
		grid:       cache.NewGeoGrid(cfg.RadiusKm),
		events:     make(map[string]*eventState),
		itemEvent:  make(map[string]string),
		duplicates: make(map[string]string),
	}, nil
}

// Process deduplicates and fuses items in order and returns every event the
// batch created or changed, each once, ranked. Items already fused are not
// merged again; their events are returned so the caller can re-persist them.
//
// A cancelled context stops processing between items. Work done so far is
// kept, and replaying the batch is safe.
func (e *Engine) Process(ctx context.Context, items []models.Item) ([]models.FusedEvent, error) {
	touched := make(map[string]struct{})
	for i := range items {
		if err := ctx.Err(); err != nil {
			return e.collect(touched), err
		}
		if id, ok := e.processOne(ctx, &items[i]); ok {
			touched[id] = struct{}{}
		}
	}
	out := e.collect(touched)

	e.mu.Lock()
	events, ratio := len(e.events), e.verifiedRatioLocked()
	e.mu.Unlock()
	metrics.UpdateFusionGauges(events, ratio)
	return out, nil
}

// processOne handles a single item and returns the canonical ID it touched.
func (e *Engine) processOne(ctx context.Context, item *models.Item) (string, bool) {
	if item.ID == "" {
		logging.Warn().Str("source", item.Source).Msg("Skipping item without ID")
		return "", false
	}

	e.mu.Lock()
	if canonical, ok := e.itemEvent[item.ID]; ok {
		e.stats.Replayed++
		e.mu.Unlock()
		metrics.RecordFusion("replayed", 1)
		return canonical, true
	}
	if _, ok := e.duplicates[item.ID]; ok {
		e.stats.Replayed++
		e.mu.Unlock()
		metrics.RecordFusion("replayed", 1)
		return "", false
	}
	e.mu.Unlock()

	// Embedding may hit the network; do it outside the lock.
	var vec embedding.Vector
	if e.embedder != nil {
		if text := strings.TrimSpace(item.Text()); text != "" {
			v, err := e.embedder.Embed(ctx, text)
			if err != nil {
				e.mu.Lock()
				e.stats.EmbedErrors++
				e.mu.Unlock()
				logging.Debug().Err(err).Str("item", item.ID).Msg("Embedding failed, skipping semantic dedup")
			} else {
				vec = v
			}
		}
	}

	now := e.cfg.Now()
	day := models.DayKey(itemTime(item, now))

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Processed++

	if len(vec) > 0 {
		idx := e.indexFor(item.Source)
		if match, sim, found := idx.NearestNeighbor(vec, e.cfg.SimilarityThreshold); found {
			e.duplicates[item.ID] = day
			e.stats.Duplicates++
			metrics.RecordFusion("duplicate", 1)
			logging.Debug().
				Str("item", item.ID).
				Str("duplicate_of", match).
				Float64("similarity", sim).
				Msg("Discarding duplicate report")
			return "", false
		}
		if err := idx.Add(item.ID, vec); err != nil {
			logging.Warn().Err(err).Str("item", item.ID).Msg("Failed to index embedding")
		}
	}

	if item.Located() {
		for _, n := range e.grid.Nearby(day, *item.Location, e.cfg.RadiusKm) {
			st, ok := e.events[n.ID]
			if !ok || containsSource(st.event.Sources, item.Source) {
				continue
			}
			e.mergeLocked(st, item, n.DistanceKm, now)
			e.stats.Merged++
			metrics.RecordFusion("merged", 1)
			return st.event.CanonicalID, true
		}
	}

	st := e.createLocked(item, day, now)
	e.stats.Created++
	metrics.RecordFusion("created", 1)
	return st.event.CanonicalID, true
}

func (e *Engine) indexFor(source string) Index {
	idx, ok := e.indexes[source]
	if !ok {
		idx = e.cfg.NewIndex()
		e.indexes[source] = idx
	}
	return idx
}

// createLocked starts a single-source event from item. Caller holds mu.
func (e *Engine) createLocked(item *models.Item, day string, now time.Time) *eventState {
	ev := models.FusedEvent{
		CanonicalID:  CanonicalID(item.Source, item.ID),
		SourceCount:  1,
		Sources:      []string{item.Source},
		MergedFields: copyFields(item.Fields),
		Title:        item.Title,
		Summary:      item.Summary,
		URL:          item.URL,
		PublishedAt:  item.PublishedAt,
		Day:          day,
		PlaceName:    item.PlaceName,
		Severity:     item.Severity,
		Category:     item.Category,
		MemberIDs:    []string{item.ID},
		UpdatedAt:    now,
	}
	if item.Located() {
		loc := *item.Location
		ev.Location = &loc
	}
	st := &eventState{
		event:   ev,
		domain:  itemDomain(item),
		members: []member{{id: item.ID, source: item.Source}},
	}
	e.events[ev.CanonicalID] = st
	e.itemEvent[item.ID] = ev.CanonicalID
	if ev.Location != nil {
		e.grid.Insert(ev.CanonicalID, day, *ev.Location)
	}
	return st
}

// mergeLocked folds item into st. Caller holds mu.
func (e *Engine) mergeLocked(st *eventState, item *models.Item, distanceKm float64, now time.Time) {
	ev := &st.event
	domain := itemDomain(item)

	incumbent := e.quality(ev.PublishedAt, item.PublishedAt, st.domain, ev.Summary)
	candidate := e.quality(item.PublishedAt, ev.PublishedAt, domain, item.Summary)
	candidateWins := candidate > incumbent

	if candidateWins {
		ev.Title = pick(item.Title, ev.Title)
		ev.Summary = pick(item.Summary, ev.Summary)
		ev.URL = pick(item.URL, ev.URL)
		ev.PlaceName = pick(item.PlaceName, ev.PlaceName)
		ev.Category = pick(item.Category, ev.Category)
		if !item.PublishedAt.IsZero() {
			ev.PublishedAt = item.PublishedAt
		}
		if item.Located() {
			loc := *item.Location
			ev.Location = &loc
			e.grid.Insert(ev.CanonicalID, ev.Day, loc)
		}
		st.domain = domain
	} else {
		ev.Title = pick(ev.Title, item.Title)
		ev.Summary = pick(ev.Summary, item.Summary)
		ev.URL = pick(ev.URL, item.URL)
		ev.PlaceName = pick(ev.PlaceName, item.PlaceName)
		ev.Category = pick(ev.Category, item.Category)
		if ev.PublishedAt.IsZero() {
			ev.PublishedAt = item.PublishedAt
		}
	}
	ev.MergedFields = mergeFields(ev.MergedFields, item.Fields, candidateWins)

	if item.Severity > ev.Severity {
		ev.Severity = item.Severity
	}

	ev.Sources = append(ev.Sources, item.Source)
	ev.SourceCount = len(ev.Sources)
	ev.Verified = ev.SourceCount >= 2
	ev.MemberIDs = append(ev.MemberIDs, item.ID)

	proximity := 1 - distanceKm/e.cfg.RadiusKm
	if ev.SimilarityScore == nil || proximity > *ev.SimilarityScore {
		ev.SimilarityScore = &proximity
	}
	ev.UpdatedAt = now

	st.members = append(st.members, member{id: item.ID, source: item.Source})
	e.itemEvent[item.ID] = ev.CanonicalID
}

// quality scores one report against the other side of a merge:
// 4 for the strictly earlier publication, 2 for a trusted domain, and up to 1
// for summary length.
func (e *Engine) quality(published, other time.Time, domain, summary string) float64 {
	score := 0.0
	if !published.IsZero() && (other.IsZero() || published.Before(other)) {
		score += 4
	}
	if e.isTrusted(domain) {
		score += 2
	}
	n := len(summary)
	if n > 1000 {
		n = 1000
	}
	return score + float64(n)/1000
}

func (e *Engine) isTrusted(domain string) bool {
	if domain == "" {
		return false
	}
	for _, t := range e.trusted {
		if domain == t || strings.HasSuffix(domain, "."+t) {
			return true
		}
	}
	return false
}

// collect snapshots the touched events in rank order.
func (e *Engine) collect(touched map[string]struct{}) []models.FusedEvent {
	e.mu.Lock()
	out := make([]models.FusedEvent, 0, len(touched))
	for id := range touched {
		if st, ok := e.events[id]; ok {
			out = append(out, st.event.Clone())
		}
	}
	e.mu.Unlock()
	return Rank(out)
}

// Get returns a copy of the event with the given canonical ID.
func (e *Engine) Get(canonicalID string) (models.FusedEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.events[canonicalID]
	if !ok {
		return models.FusedEvent{}, false
	}
	return st.event.Clone(), true
}

// Evict drops events, their indexed embeddings, and remembered duplicates
// whose day is before the day of cutoff. It returns the number of events removed.
func (e *Engine) Evict(cutoff time.Time) int {
	day := models.DayKey(cutoff)

	e.mu.Lock()
	removed := 0
	for id, st := range e.events {
		if st.event.Day >= day {
			continue
		}
		for _, m := range st.members {
			delete(e.itemEvent, m.id)
			if idx, ok := e.indexes[m.source]; ok {
				idx.Remove(m.id)
			}
		}
		e.grid.Remove(id)
		delete(e.events, id)
		removed++
	}
	for id, d := range e.duplicates {
		if d < day {
			delete(e.duplicates, id)
		}
	}
	for source, idx := range e.indexes {
		if idx.Len() == 0 {
			delete(e.indexes, source)
		}
	}
	e.stats.Evicted += int64(removed)
	events, ratio := len(e.events), e.verifiedRatioLocked()
	e.mu.Unlock()

	metrics.UpdateFusionGauges(events, ratio)
	if removed > 0 {
		logging.Info().Int("removed", removed).Str("before_day", day).Msg("Evicted fused events past retention")
	}
	return removed
}

// Stats returns engine counters and the current verified ratio.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stats
	st.Events = len(e.events)
	for _, s := range e.events {
		if s.event.Verified {
			st.Verified++
		}
	}
	st.VerifiedRatio = e.verifiedRatioLocked()
	return st
}

func (e *Engine) verifiedRatioLocked() float64 {
	if len(e.events) == 0 {
		return 0
	}
	verified := 0
	for _, s := range e.events {
		if s.event.Verified {
			verified++
		}
	}
	return float64(verified) / float64(len(e.events))
}

// Rank sorts events by verified, source count, and severity (all descending),
// then canonical ID, and returns the slice.
func Rank(events []models.FusedEvent) []models.FusedEvent {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Verified != b.Verified {
			return a.Verified
		}
		if a.SourceCount != b.SourceCount {
			return a.SourceCount > b.SourceCount
		}
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		return a.CanonicalID < b.CanonicalID
	})
	return events
}

// CanonicalID derives a stable event ID from the first report's source and ID.
func CanonicalID(source, itemID string) string {
	return fmt.Sprintf("evt_%016x", xxhash.Sum64String(source+"\x00"+itemID))
}

func itemTime(item *models.Item, now time.Time) time.Time {
	if item.PublishedAt.IsZero() {
		return now
	}
	return item.PublishedAt
}

func itemDomain(item *models.Item) string {
	if item.SourceDomain != "" {
		return strings.ToLower(item.SourceDomain)
	}
	if item.URL == "" {
		return ""
	}
	u, err := url.Parse(item.URL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func containsSource(sources []string, s string) bool {
	for _, x := range sources {
		if x == s {
			return true
		}
	}
	return false
}

// pick returns preferred unless it is empty.
func pick(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

// mergeFields unions incoming into existing. Empty values never overwrite;
// on conflict incoming wins only when it came from the winning report.
func mergeFields(existing, incoming map[string]string, incomingWins bool) map[string]string {
	if len(incoming) == 0 {
		return existing
	}
	if existing == nil {
		existing = make(map[string]string, len(incoming))
	}
	for k, v := range incoming {
		if v == "" {
			continue
		}
		if cur, ok := existing[k]; !ok || cur == "" || incomingWins {
			existing[k] = v
		}
	}
	return existing
}

func copyFields(f map[string]string) map[string]string {
	if f == nil {
		return nil
	}
	out := make(map[string]string, len(f))
	for k, v := range f {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
