// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package geo

import (
	"fmt"
	"time"

	"github.com/tomtom215/meridian/internal/logging"
	"github.com/tomtom215/meridian/internal/models"
	"github.com/tomtom215/meridian/internal/resolver"
)

// Options assembles a location cascade.
type Options struct {
	TotalTimeout  time.Duration
	CacheSize     int
	GazetteerPath string

	// Geocoder is optional; nil leaves the cascade offline.
	Geocoder *Geocoder
}

// NewCascade builds cache -> gazetteer -> geocoder, writing non-cache hits
// back into the cache.
func NewCascade(opts Options) (*resolver.Cascade[models.GeoPoint], *Cache, error) {
	cache, err := NewCache(opts.CacheSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create location cache: %w", err)
	}

	gaz := DefaultGazetteer()
	if opts.GazetteerPath != "" {
		gaz, err = LoadGazetteer(opts.GazetteerPath, gaz)
		if err != nil {
			return nil, nil, err
		}
		logging.Info().Str("path", opts.GazetteerPath).Int("places", gaz.Len()).Msg("Loaded gazetteer")
	}

	strategies := []resolver.Strategy[models.GeoPoint]{cache.Strategy(), gaz.Strategy()}
	if opts.Geocoder != nil {
		strategies = append(strategies, opts.Geocoder.Strategy())
	}

	c, err := resolver.New(opts.TotalTimeout, strategies...)
	if err != nil {
		return nil, nil, err
	}
	c.WithWriteBack(cache.Add)
	return c, cache, nil
}
