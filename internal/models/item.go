// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package models

import (
	"math"
	"strings"
	"time"
)

// Priority orders items inside the event buffer.
type Priority int

const (
	// PriorityNormal is the default tier for routine feed items.
	PriorityNormal Priority = 0
	// PriorityHigh may evict the oldest normal item when the buffer is full.
	PriorityHigh Priority = 1
	// PriorityUrgent bypasses capacity and triggers an immediate flush.
	PriorityUrgent Priority = 2
)

// String returns the priority name used in logs and metric labels.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// ParsePriority converts a priority name to a Priority. Unknown names map to normal.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "1":
		return PriorityHigh
	case "urgent", "2":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies inside the WGS84 bounds and is not NaN.
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Item is a raw intelligence report from one source (an RSS entry, an ACLED
// row, a GDELT event, a Telegram post) after feed parsing.
type Item struct {
	ID           string            `json:"id"`
	Source       string            `json:"source"`
	SourceDomain string            `json:"source_domain,omitempty"`
	Title        string            `json:"title"`
	Summary      string            `json:"summary,omitempty"`
	URL          string            `json:"url,omitempty"`
	PublishedAt  time.Time         `json:"published_at"`
	PlaceName    string            `json:"place_name,omitempty"`
	Location     *GeoPoint         `json:"location,omitempty"`
	Severity     float64           `json:"severity,omitempty"`
	Category     string            `json:"category,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
}

// Located reports whether the item carries a usable coordinate.
func (i *Item) Located() bool {
	return i.Location != nil && i.Location.Valid()
}

// Text returns the title and summary joined, the input used for embeddings.
func (i *Item) Text() string {
	if i.Summary == "" {
		return i.Title
	}
	return i.Title + "\n" + i.Summary
}

// Clone returns a deep copy so buffered payloads stay immutable.
func (i Item) Clone() Item {
	if i.Location != nil {
		loc := *i.Location
		i.Location = &loc
	}
	if i.Fields != nil {
		fields := make(map[string]string, len(i.Fields))
		for k, v := range i.Fields {
			fields[k] = v
		}
		i.Fields = fields
	}
	return i
}

// ClassifyResult is the enrichment returned by the batch classifier for one item.
type ClassifyResult struct {
	Category  string            `json:"category,omitempty"`
	Severity  float64           `json:"severity,omitempty"`
	PlaceName string            `json:"place_name,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Apply merges the classification onto the item. Populated item values are
// kept when the classifier returns an empty value.
func (r ClassifyResult) Apply(item *Item) {
	if r.Category != "" {
		item.Category = r.Category
	}
	if r.Severity > item.Severity {
		item.Severity = r.Severity
	}
	if item.PlaceName == "" && r.PlaceName != "" {
		item.PlaceName = r.PlaceName
	}
	if len(r.Fields) == 0 && len(r.Tags) == 0 {
		return
	}
	if item.Fields == nil {
		item.Fields = make(map[string]string, len(r.Fields)+1)
	}
	for k, v := range r.Fields {
		if v != "" {
			item.Fields[k] = v
		}
	}
	if len(r.Tags) > 0 {
		item.Fields["tags"] = strings.Join(r.Tags, ",")
	}
}
