// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package models

import "time"

// FusedEvent is the canonical record for one real-world incident, built from
// one or more independent reports. Verified is set once two or more sources
// corroborate the incident.
type FusedEvent struct {
	CanonicalID     string            `json:"canonical_id"`
	SourceCount     int               `json:"source_count"`
	Sources         []string          `json:"sources"`
	Verified        bool              `json:"verified"`
	MergedFields    map[string]string `json:"merged_fields,omitempty"`
	SimilarityScore *float64          `json:"similarity_score,omitempty"`

	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Day         string    `json:"day"`
	Location    *GeoPoint `json:"location,omitempty"`
	PlaceName   string    `json:"place_name,omitempty"`
	Severity    float64   `json:"severity"`
	Category    string    `json:"category,omitempty"`
	MemberIDs   []string  `json:"member_ids"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (e *FusedEvent) Clone() FusedEvent {
	out := *e
	out.Sources = append([]string(nil), e.Sources...)
	out.MemberIDs = append([]string(nil), e.MemberIDs...)
	if e.MergedFields != nil {
		out.MergedFields = make(map[string]string, len(e.MergedFields))
		for k, v := range e.MergedFields {
			out.MergedFields[k] = v
		}
	}
	if e.SimilarityScore != nil {
		s := *e.SimilarityScore
		out.SimilarityScore = &s
	}
	if e.Location != nil {
		loc := *e.Location
		out.Location = &loc
	}
	return out
}

// DayKey returns the UTC calendar day used to bucket incidents.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
