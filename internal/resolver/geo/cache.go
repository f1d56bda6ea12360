// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

// Package geo provides the location strategies for the resolver cascade:
// an LRU cache, an offline gazetteer with coordinate-literal extraction, and
// a rate-limited Nominatim-compatible geocoder.
package geo

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/tomtom215/meridian/internal/models"
	"github.com/tomtom215/meridian/internal/resolver"
)

// NormalizeKey folds a place name for cache and gazetteer lookups.
func NormalizeKey(place string) string {
	return strings.Join(strings.Fields(strings.ToLower(place)), " ")
}

// Cache is a bounded LRU of resolved place names.
type Cache struct {
	entries *lru.Cache
}

// NewCache creates a Cache holding up to size entries.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = 10000
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: c}, nil
}

// Get returns the cached point for place.
func (c *Cache) Get(place string) (models.GeoPoint, bool) {
	v, ok := c.entries.Get(NormalizeKey(place))
	if !ok {
		return models.GeoPoint{}, false
	}
	p, ok := v.(models.GeoPoint)
	return p, ok
}

// Add stores p for place. Invalid points are ignored.
func (c *Cache) Add(place string, p models.GeoPoint) {
	if !p.Valid() {
		return
	}
	c.entries.Add(NormalizeKey(place), p)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Strategy returns the cache as the first cascade tier.
func (c *Cache) Strategy() resolver.Strategy[models.GeoPoint] {
	return resolver.Strategy[models.GeoPoint]{
		Name:       "cache",
		Kind:       resolver.KindCache,
		Confidence: 1,
		Lookup: func(_ context.Context, key string) (models.GeoPoint, bool, error) {
			p, ok := c.Get(key)
			return p, ok, nil
		},
	}
}
