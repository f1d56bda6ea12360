// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package fusion

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/tomtom215/meridian/internal/embedding"
	"github.com/tomtom215/meridian/internal/models"
)

var day1 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Config{
		TrustedDomains: []string{"reuters.com"},
		Now:            func() time.Time { return day1.Add(12 * time.Hour) },
	}, embedding.NewHashingEmbedder(256))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return e
}

func report(id, source, title string, lat, lon float64, at time.Time) models.Item {
	return models.Item{
		ID:          id,
		Source:      source,
		Title:       title,
		PublishedAt: at,
		Location:    &models.GeoPoint{Lat: lat, Lon: lon},
	}
}

func TestProcess_CrossSourceFusionSameDay(t *testing.T) {
	e := newTestEngine(t)
	items := []models.Item{
		report("g-1", "gdelt", "Shelling reported in northern district", 40.0, -73.0, day1),
		report("a-1", "acled", "Artillery strike hits residential area", 40.05, -73.02, day1.Add(2*time.Hour)),
	}

	events, err := e.Process(context.Background(), items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}

	ev := events[0]
	if !ev.Verified {
		t.Error("ev.Verified = false, want true")
	}
	if ev.SourceCount != 2 {
		t.Errorf("ev.SourceCount = %v, want %v", ev.SourceCount, 2)
	}
	if got := slices.Sorted(slices.Values(ev.Sources)); !reflect.DeepEqual(got, []string{"acled", "gdelt"}) {
		t.Errorf("ev.Sources = %v, want [acled gdelt]", ev.Sources)
	}
	if got := slices.Sorted(slices.Values(ev.MemberIDs)); !reflect.DeepEqual(got, []string{"a-1", "g-1"}) {
		t.Errorf("ev.MemberIDs = %v, want [a-1 g-1]", ev.MemberIDs)
	}
	if ev.CanonicalID != CanonicalID("gdelt", "g-1") {
		t.Errorf("ev.CanonicalID = %v, want %v", ev.CanonicalID, CanonicalID("gdelt", "g-1"))
	}
	if ev.SimilarityScore == nil {
		t.Fatal("ev.SimilarityScore is nil")
	}
	if *ev.SimilarityScore <= 0.0 {
		t.Errorf("*ev.SimilarityScore = %v, want > %v", *ev.SimilarityScore, 0.0)
	}

	st := e.Stats()
	if st.Events != 1 {
		t.Errorf("st.Events = %v, want %v", st.Events, 1)
	}
	if st.VerifiedRatio != 1.0 {
		t.Errorf("st.VerifiedRatio = %v, want %v", st.VerifiedRatio, 1.0)
	}
	if st.Merged != int64(1) {
		t.Errorf("st.Merged = %v, want %v", st.Merged, int64(1))
	}
}

func TestProcess_NoFusion(t *testing.T) {
	tests := []struct {
		name string
		b    models.Item
	}{
		{"different day", report("b", "acled", "Artillery strike hits residential area", 40.05, -73.02, day1.Add(24*time.Hour))},
		{"outside radius", report("b", "acled", "Artillery strike hits residential area", 40.2, -73.0, day1)},
		{"same source", report("b", "gdelt", "Artillery strike hits residential area", 40.05, -73.02, day1)},
		{"no location", models.Item{ID: "b", Source: "acled", Title: "Artillery strike hits residential area", PublishedAt: day1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			a := report("a", "gdelt", "Shelling reported in northern district", 40.0, -73.0, day1)

			events, err := e.Process(context.Background(), []models.Item{a, tt.b})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(events) != 2 {
				t.Fatalf("len(events) = %d, want 2", len(events))
			}
			for _, ev := range events {
				if ev.Verified {
					t.Error("ev.Verified = true, want false")
				}
				if ev.SourceCount != 1 {
					t.Errorf("ev.SourceCount = %v, want %v", ev.SourceCount, 1)
				}
			}
		})
	}
}

func TestProcess_NearestCandidateWins(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Process(context.Background(), []models.Item{
		report("far", "gdelt", "Fire at the port warehouse", 40.0, -73.0, day1),
		report("near", "rss", "Power outage across the old town", 40.1, -73.0, day1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := e.Process(context.Background(), []models.Item{
		report("x", "acled", "Clashes near the river crossing", 40.07, -73.0, day1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].CanonicalID != CanonicalID("rss", "near") {
		t.Errorf("events[0].CanonicalID = %v, want %v", events[0].CanonicalID, CanonicalID("rss", "near"))
	}
	if events[0].SourceCount != 2 {
		t.Errorf("events[0].SourceCount = %v, want %v", events[0].SourceCount, 2)
	}
}

func TestProcess_EmbeddingDedupScopedToSource(t *testing.T) {
	e := newTestEngine(t)
	title := "Explosion reported near central station"
	events, err := e.Process(context.Background(), []models.Item{
		report("r-1", "rss", title, 10, 10, day1),
		report("r-2", "rss", title, 10, 10, day1),
		report("g-1", "gdelt", title, 10.01, 10.01, day1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].SourceCount != 2 {
		t.Errorf("events[0].SourceCount = %v, want %v", events[0].SourceCount, 2)
	}

	st := e.Stats()
	if st.Duplicates != int64(1) {
		t.Errorf("st.Duplicates = %v, want %v", st.Duplicates, int64(1))
	}
	if st.Created != int64(1) {
		t.Errorf("st.Created = %v, want %v", st.Created, int64(1))
	}
	if st.Merged != int64(1) {
		t.Errorf("st.Merged = %v, want %v", st.Merged, int64(1))
	}
}

func TestProcess_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	batch := []models.Item{
		report("g-1", "gdelt", "Shelling reported in northern district", 40.0, -73.0, day1),
		report("a-1", "acled", "Artillery strike hits residential area", 40.05, -73.02, day1),
		report("g-2", "gdelt", "Shelling reported in northern district", 40.0, -73.0, day1),
	}

	first, err := e.Process(context.Background(), batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.Process(context.Background(), batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(second) != 1 {
		t.Fatalf("len(second) = %d, want 1", len(second))
	}
	if second[0].CanonicalID != first[0].CanonicalID {
		t.Errorf("second[0].CanonicalID = %v, want %v", second[0].CanonicalID, first[0].CanonicalID)
	}
	if second[0].SourceCount != 2 {
		t.Errorf("second[0].SourceCount = %v, want %v", second[0].SourceCount, 2)
	}
	if !reflect.DeepEqual(second[0].MemberIDs, first[0].MemberIDs) {
		t.Errorf("second[0].MemberIDs = %v, want %v", second[0].MemberIDs, first[0].MemberIDs)
	}

	st := e.Stats()
	if st.Replayed != int64(3) {
		t.Errorf("st.Replayed = %v, want %v", st.Replayed, int64(3))
	}
	if st.Duplicates != int64(1) {
		t.Errorf("st.Duplicates = %v, want %v", st.Duplicates, int64(1))
	}
	if st.Events != 1 {
		t.Errorf("st.Events = %v, want %v", st.Events, 1)
	}
}

func TestMerge_QualityPolicy(t *testing.T) {
	tests := []struct {
		name      string
		incumbent models.Item
		candidate models.Item
		wantTitle string
	}{
		{
			name:      "earlier publication wins",
			incumbent: models.Item{ID: "i", Source: "rss", Title: "later report", PublishedAt: day1.Add(time.Hour)},
			candidate: models.Item{ID: "c", Source: "acled", Title: "earlier report", PublishedAt: day1},
			wantTitle: "earlier report",
		},
		{
			name:      "trusted domain wins at equal time",
			incumbent: models.Item{ID: "i", Source: "rss", Title: "blog", URL: "https://blog.example.org/x", PublishedAt: day1},
			candidate: models.Item{ID: "c", Source: "wire", Title: "wire", URL: "https://www.reuters.com/world/x", PublishedAt: day1},
			wantTitle: "wire",
		},
		{
			name:      "earliest outweighs trust",
			incumbent: models.Item{ID: "i", Source: "rss", Title: "first", PublishedAt: day1},
			candidate: models.Item{ID: "c", Source: "wire", Title: "trusted", SourceDomain: "reuters.com", PublishedAt: day1.Add(time.Minute)},
			wantTitle: "first",
		},
		{
			name:      "longer summary breaks a tie",
			incumbent: models.Item{ID: "i", Source: "rss", Title: "short", Summary: "x", PublishedAt: day1},
			candidate: models.Item{ID: "c", Source: "gdelt", Title: "long", Summary: "a much longer summary", PublishedAt: day1},
			wantTitle: "long",
		},
		{
			name:      "exact tie keeps incumbent",
			incumbent: models.Item{ID: "i", Source: "rss", Title: "incumbent", PublishedAt: day1},
			candidate: models.Item{ID: "c", Source: "gdelt", Title: "challenger", PublishedAt: day1},
			wantTitle: "incumbent",
		},
		{
			name:      "winner never blanks a field",
			incumbent: models.Item{ID: "i", Source: "rss", Title: "kept", PublishedAt: day1.Add(time.Hour)},
			candidate: models.Item{ID: "c", Source: "acled", Title: "", PublishedAt: day1},
			wantTitle: "kept",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(Config{TrustedDomains: []string{"reuters.com"}}, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			loc := &models.GeoPoint{Lat: 1, Lon: 1}
			tt.incumbent.Location, tt.candidate.Location = loc, loc
			events, err := e.Process(context.Background(), []models.Item{tt.incumbent, tt.candidate})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(events) != 1 {
				t.Fatalf("len(events) = %d, want 1", len(events))
			}
			if events[0].Title != tt.wantTitle {
				t.Errorf("events[0].Title = %v, want %v", events[0].Title, tt.wantTitle)
			}
		})
	}
}

func TestMerge_FieldsUnionAndSeverity(t *testing.T) {
	e, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loc := &models.GeoPoint{Lat: 5, Lon: 5}

	events, err := e.Process(context.Background(), []models.Item{
		{ID: "a", Source: "rss", Title: "a", PublishedAt: day1, Location: loc, Severity: 3, Category: "protest",
			Fields: map[string]string{"actor": "police", "casualties": "2"}},
		{ID: "b", Source: "acled", Title: "b", PublishedAt: day1.Add(time.Hour), Location: loc, Severity: 7,
			Fields: map[string]string{"actor": "", "casualties": "4", "weapon": "tear gas"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.Severity != 7.0 {
		t.Errorf("ev.Severity = %v, want %v", ev.Severity, 7.0)
	}
	if ev.Category != "protest" {
		t.Errorf("ev.Category = %v, want %v", ev.Category, "protest")
	}
	if !reflect.DeepEqual(ev.MergedFields, map[string]string{"actor": "police", "casualties": "2", "weapon": "tear gas"}) {
		t.Errorf("ev.MergedFields = %v, want %v", ev.MergedFields, map[string]string{"actor": "police", "casualties": "2", "weapon": "tear gas"})
	}
}

func TestRank(t *testing.T) {
	events := []models.FusedEvent{
		{CanonicalID: "e", SourceCount: 1, Severity: 9},
		{CanonicalID: "d", SourceCount: 2, Verified: true, Severity: 1},
		{CanonicalID: "c", SourceCount: 3, Verified: true, Severity: 1},
		{CanonicalID: "b", SourceCount: 2, Verified: true, Severity: 5},
		{CanonicalID: "a", SourceCount: 2, Verified: true, Severity: 5},
	}
	Rank(events)

	var got []string
	for _, ev := range events {
		got = append(got, ev.CanonicalID)
	}
	if !reflect.DeepEqual(got, []string{"c", "a", "b", "d", "e"}) {
		t.Errorf("got = %v, want %v", got, []string{"c", "a", "b", "d", "e"})
	}
}

func TestEvict(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Process(context.Background(), []models.Item{
		report("old", "rss", "Old incident in the valley", 1, 1, day1.Add(-72*time.Hour)),
		report("new", "rss", "New incident on the coast", 1, 1, day1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := e.Evict(day1.Add(-24*time.Hour)); got != 1 {
		t.Errorf("e.Evict(day1.Add(-24*time.Hour)) = %v, want %v", got, 1)
	}
	if e.Stats().Events != 1 {
		t.Errorf("e.Stats().Events = %v, want %v", e.Stats().Events, 1)
	}

	_, ok := e.Get(CanonicalID("rss", "old"))
	if ok {
		t.Error("ok = true, want false")
	}

	// An evicted item is processed as new again.
	events, err := e.Process(context.Background(), []models.Item{
		report("old", "rss", "Old incident in the valley", 1, 1, day1.Add(-72*time.Hour)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if e.Stats().Created != int64(3) {
		t.Errorf("e.Stats().Created = %v, want %v", e.Stats().Created, int64(3))
	}
}

func TestProcess_CancelledContext(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, err := e.Process(ctx, []models.Item{report("a", "rss", "x", 1, 1, day1)})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %v, want empty", events)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) (embedding.Vector, error) {
	return nil, errors.New("embedder down")
}
func (failingEmbedder) Name() string { return "failing" }

func TestProcess_EmbedderFailureStillFuses(t *testing.T) {
	e, err := New(Config{}, failingEmbedder{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := e.Process(context.Background(), []models.Item{
		report("a", "rss", "x", 1, 1, day1),
		report("b", "gdelt", "y", 1, 1, day1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if !events[0].Verified {
		t.Error("events[0].Verified = false, want true")
	}
	if e.Stats().EmbedErrors != int64(2) {
		t.Errorf("e.Stats().EmbedErrors = %v, want %v", e.Stats().EmbedErrors, int64(2))
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{SimilarityThreshold: 1.5}, nil)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
	_, err = New(Config{RadiusKm: -1}, nil)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}
