// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

// Package cache provides in-memory data structures used by the ingestion core:
// a day-partitioned spatial hash grid for proximity lookups and a bucketed
// sliding window counter for throughput.
package cache

import (
	"math"
	"sort"
	"sync"

	"github.com/tomtom215/meridian/internal/models"
)

const (
	earthRadiusKm = 6371.0
	kmPerDegree   = 111.0
)

// GeoGrid divides each calendar day into geographic cells so "same day and
// within R km" queries only inspect the cells around the query point.
//
// Time Complexity:
//   - Insert / Remove: O(1) amortized
//   - Nearby: O(k) where k = entries in the inspected cells
type GeoGrid struct {
	mu       sync.RWMutex
	cellDeg  float64
	lonCells int
	days     map[string]map[CellKey][]*GridEntry
	entries  map[string]*GridEntry
}

// CellKey identifies a grid cell. X wraps at the antimeridian.
type CellKey struct {
	X, Y int
}

// GridEntry is one indexed point.
type GridEntry struct {
	ID    string
	Day   string
	Point models.GeoPoint
	cell  CellKey
}

// Neighbor is a query hit with its great-circle distance.
type Neighbor struct {
	ID         string
	Point      models.GeoPoint
	DistanceKm float64
}

// NewGeoGrid creates a grid with roughly cellSizeKm wide cells.
// A non-positive size defaults to 10km.
func NewGeoGrid(cellSizeKm float64) *GeoGrid {
	if cellSizeKm <= 0 {
		cellSizeKm = 10
	}
	cellDeg := cellSizeKm / kmPerDegree
	return &GeoGrid{
		cellDeg:  cellDeg,
		lonCells: int(math.Ceil(360 / cellDeg)),
		days:     make(map[string]map[CellKey][]*GridEntry),
		entries:  make(map[string]*GridEntry),
	}
}

func (g *GeoGrid) cellFor(p models.GeoPoint) CellKey {
	x := int(math.Floor((p.Lon + 180) / g.cellDeg))
	y := int(math.Floor((p.Lat + 90) / g.cellDeg))
	return CellKey{X: g.wrapX(x), Y: y}
}

func (g *GeoGrid) wrapX(x int) int {
	x %= g.lonCells
	if x < 0 {
		x += g.lonCells
	}
	return x
}

// Insert indexes id at p on day. Re-inserting an id moves it.
func (g *GeoGrid) Insert(id, day string, p models.GeoPoint) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.entries[id]; ok {
		g.removeUnlocked(existing)
	}

	entry := &GridEntry{ID: id, Day: day, Point: p, cell: g.cellFor(p)}
	cells, ok := g.days[day]
	if !ok {
		cells = make(map[CellKey][]*GridEntry)
		g.days[day] = cells
	}
	cells[entry.cell] = append(cells[entry.cell], entry)
	g.entries[id] = entry
}

// Remove deletes id from the grid.
func (g *GeoGrid) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.entries[id]
	if !ok {
		return false
	}
	g.removeUnlocked(entry)
	return true
}

// removeUnlocked detaches entry from its cell (caller must hold lock).
func (g *GeoGrid) removeUnlocked(entry *GridEntry) {
	delete(g.entries, entry.ID)
	cells := g.days[entry.Day]
	if cells == nil {
		return
	}
	list := cells[entry.cell]
	for i, e := range list {
		if e.ID == entry.ID {
			list[i] = list[len(list)-1]
			list = list[:len(list)-1]
			break
		}
	}
	if len(list) == 0 {
		delete(cells, entry.cell)
	} else {
		cells[entry.cell] = list
	}
	if len(cells) == 0 {
		delete(g.days, entry.Day)
	}
}

// Nearby returns entries on day strictly closer than radiusKm to p, nearest
// first. Equal distances are ordered by ID so results are deterministic.
func (g *GeoGrid) Nearby(day string, p models.GeoPoint, radiusKm float64) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cells := g.days[day]
	if len(cells) == 0 || radiusKm <= 0 {
		return nil
	}

	center := g.cellFor(p)
	dy := int(math.Ceil(radiusKm/kmPerDegree/g.cellDeg)) + 1

	// Longitude degrees shrink with latitude.
	cosLat := math.Cos(p.Lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dx := int(math.Ceil(radiusKm/(kmPerDegree*cosLat)/g.cellDeg)) + 1
	if 2*dx+1 >= g.lonCells {
		dx = g.lonCells / 2
	}

	var out []Neighbor
	seenX := make(map[int]bool, 2*dx+1)
	for i := -dx; i <= dx; i++ {
		x := g.wrapX(center.X + i)
		if seenX[x] {
			continue
		}
		seenX[x] = true
		for j := -dy; j <= dy; j++ {
			for _, e := range cells[CellKey{X: x, Y: center.Y + j}] {
				d := HaversineKm(p, e.Point)
				if d < radiusKm {
					out = append(out, Neighbor{ID: e.ID, Point: e.Point, DistanceKm: d})
				}
			}
		}
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].DistanceKm != out[b].DistanceKm {
			return out[a].DistanceKm < out[b].DistanceKm
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// RemoveDaysBefore drops every entry whose day sorts before cutoff.
// Day keys use the 2006-01-02 layout, so lexical order is calendar order.
func (g *GeoGrid) RemoveDaysBefore(cutoff string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for day, cells := range g.days {
		if day >= cutoff {
			continue
		}
		for _, list := range cells {
			for _, e := range list {
				delete(g.entries, e.ID)
				removed++
			}
		}
		delete(g.days, day)
	}
	return removed
}

// Size returns the number of indexed entries.
func (g *GeoGrid) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

// HaversineKm returns the great-circle distance between a and b in kilometers.
func HaversineKm(a, b models.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
