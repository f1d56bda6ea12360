// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package fusion

import (
	"fmt"
	"sync"

	"github.com/coder/hnsw"

	"github.com/tomtom215/meridian/internal/embedding"
	"github.com/tomtom215/meridian/internal/logging"
)

// searchNeighbors is how many approximate neighbours are rescored exactly.
const searchNeighbors = 5

// Index answers threshold nearest-neighbour queries over embeddings.
type Index interface {
	// NearestNeighbor returns the most similar stored vector whose cosine
	// similarity to vec is at least threshold.
	NearestNeighbor(vec embedding.Vector, threshold float64) (id string, similarity float64, found bool)
	Add(id string, vec embedding.Vector) error
	Remove(id string) bool
	Len() int
}

// HNSWIndex is an Index backed by a coder/hnsw graph. Candidates returned by
// the approximate search are rescored with exact cosine similarity and
// filtered against the live set, so a failed graph delete never resurrects
// a removed key.
type HNSWIndex struct {
	mu    sync.Mutex
	graph *hnsw.Graph[string]
	live  map[string]struct{}
	dims  int
}

// NewHNSWIndex creates an empty index.
func NewHNSWIndex() *HNSWIndex {
	g := hnsw.NewGraph[string]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 32
	return &HNSWIndex{graph: g, live: make(map[string]struct{})}
}

// NearestNeighbor implements Index.
func (x *HNSWIndex) NearestNeighbor(vec embedding.Vector, threshold float64) (id string, similarity float64, found bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if len(x.live) == 0 || len(vec) != x.dims {
		return "", 0, false
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Msg("HNSW panic recovered in NearestNeighbor")
			id, similarity, found = "", 0, false
		}
	}()

	for _, n := range x.graph.Search([]float32(vec), searchNeighbors) {
		if _, ok := x.live[n.Key]; !ok {
			continue
		}
		sim := embedding.CosineSimilarity(vec, embedding.Vector(n.Value))
		if sim >= threshold && (!found || sim > similarity || (sim == similarity && n.Key < id)) {
			id, similarity, found = n.Key, sim, true
		}
	}
	return id, similarity, found
}

// Add implements Index. All vectors in one index must share a dimension.
func (x *HNSWIndex) Add(id string, vec embedding.Vector) (err error) {
	if len(vec) == 0 {
		return fmt.Errorf("empty vector for %s", id)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if len(x.live) == 0 {
		x.dims = len(vec)
	} else if len(vec) != x.dims {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", len(vec), x.dims)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hnsw add %s: %v", id, r)
		}
	}()

	stored := make([]float32, len(vec))
	copy(stored, vec)
	x.graph.Add(hnsw.MakeNode(id, stored))
	x.live[id] = struct{}{}
	return nil
}

// Remove implements Index.
func (x *HNSWIndex) Remove(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.live[id]; !ok {
		return false
	}
	delete(x.live, id)

	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error().Interface("panic", r).Str("id", id).Msg("HNSW panic recovered in Remove")
			}
		}()
		x.graph.Delete(id)
	}()
	return true
}

// Len implements Index.
func (x *HNSWIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.live)
}
