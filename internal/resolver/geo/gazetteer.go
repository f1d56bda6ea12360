// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package geo

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"

	"github.com/tomtom215/meridian/internal/models"
	"github.com/tomtom215/meridian/internal/resolver"
)

// coordPattern matches "lat, lon" decimal pairs, optionally with hemisphere letters:
// "48.8566, 2.3522", "48.8566N 2.3522E", "33.5°S, 70.6°W".
var coordPattern = regexp.MustCompile(
	`(-?\d{1,2}(?:\.\d+)?)\s*°?\s*([NSns])?\s*[,; ]\s*(-?\d{1,3}(?:\.\d+)?)\s*°?\s*([EWew])?`,
)

// ParseCoordinates extracts the first coordinate literal in s.
func ParseCoordinates(s string) (models.GeoPoint, bool) {
	for _, m := range coordPattern.FindAllStringSubmatch(s, -1) {
		lat, err1 := strconv.ParseFloat(m[1], 64)
		lon, err2 := strconv.ParseFloat(m[3], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		// Require decimals on both or hemisphere letters on both; "6.1, 10 km" is not a location.
		decimals := strings.Contains(m[1], ".") && strings.Contains(m[3], ".")
		hemispheres := m[2] != "" && m[4] != ""
		if !decimals && !hemispheres {
			continue
		}
		if strings.EqualFold(m[2], "S") {
			lat = -lat
		}
		if strings.EqualFold(m[4], "W") {
			lon = -lon
		}
		p := models.GeoPoint{Lat: lat, Lon: lon}
		if p.Valid() {
			return p, true
		}
	}
	return models.GeoPoint{}, false
}

// Gazetteer is an offline place-name table.
type Gazetteer struct {
	places map[string]models.GeoPoint
	// names sorted longest first for substring matching.
	names []string
}

// NewGazetteer creates a Gazetteer from name -> point entries.
func NewGazetteer(entries map[string]models.GeoPoint) *Gazetteer {
	g := &Gazetteer{places: make(map[string]models.GeoPoint, len(entries))}
	for name, p := range entries {
		if !p.Valid() {
			continue
		}
		key := NormalizeKey(name)
		if key == "" {
			continue
		}
		g.places[key] = p
	}
	g.names = make([]string, 0, len(g.places))
	for k := range g.places {
		g.names = append(g.names, k)
	}
	sort.Slice(g.names, func(i, j int) bool {
		if len(g.names[i]) != len(g.names[j]) {
			return len(g.names[i]) > len(g.names[j])
		}
		return g.names[i] < g.names[j]
	})
	return g
}

// DefaultGazetteer returns a small built-in table of capitals and hotspots.
func DefaultGazetteer() *Gazetteer {
	return NewGazetteer(map[string]models.GeoPoint{
		"new york":     {Lat: 40.7128, Lon: -74.0060},
		"washington":   {Lat: 38.9072, Lon: -77.0369},
		"london":       {Lat: 51.5074, Lon: -0.1278},
		"paris":        {Lat: 48.8566, Lon: 2.3522},
		"berlin":       {Lat: 52.5200, Lon: 13.4050},
		"moscow":       {Lat: 55.7558, Lon: 37.6173},
		"kyiv":         {Lat: 50.4501, Lon: 30.5234},
		"beijing":      {Lat: 39.9042, Lon: 116.4074},
		"tokyo":        {Lat: 35.6762, Lon: 139.6503},
		"delhi":        {Lat: 28.7041, Lon: 77.1025},
		"cairo":        {Lat: 30.0444, Lon: 31.2357},
		"jerusalem":    {Lat: 31.7683, Lon: 35.2137},
		"gaza":         {Lat: 31.5017, Lon: 34.4668},
		"tehran":       {Lat: 35.6892, Lon: 51.3890},
		"baghdad":      {Lat: 33.3152, Lon: 44.3661},
		"damascus":     {Lat: 33.5138, Lon: 36.2765},
		"beirut":       {Lat: 33.8938, Lon: 35.5018},
		"khartoum":     {Lat: 15.5007, Lon: 32.5599},
		"nairobi":      {Lat: -1.2921, Lon: 36.8219},
		"lagos":        {Lat: 6.5244, Lon: 3.3792},
		"taipei":       {Lat: 25.0330, Lon: 121.5654},
		"seoul":        {Lat: 37.5665, Lon: 126.9780},
		"pyongyang":    {Lat: 39.0392, Lon: 125.7625},
		"caracas":      {Lat: 10.4806, Lon: -66.9036},
		"mexico city":  {Lat: 19.4326, Lon: -99.1332},
		"sao paulo":    {Lat: -23.5505, Lon: -46.6333},
		"buenos aires": {Lat: -34.6037, Lon: -58.3816},
		"sydney":       {Lat: -33.8688, Lon: 151.2093},
	})
}

// LoadGazetteer reads a YAML file of `place: [lat, lon]` entries and merges
// it over base. base may be nil.
func LoadGazetteer(path string, base *Gazetteer) (*Gazetteer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gazetteer: %w", err)
	}
	raw, err := yaml.Parser().Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gazetteer %s: %w", path, err)
	}

	entries := make(map[string]models.GeoPoint, len(raw))
	if base != nil {
		for k, v := range base.places {
			entries[k] = v
		}
	}
	for name, v := range raw {
		pair, ok := v.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("gazetteer entry %q: want [lat, lon]", name)
		}
		lat, ok1 := toFloat(pair[0])
		lon, ok2 := toFloat(pair[1])
		p := models.GeoPoint{Lat: lat, Lon: lon}
		if !ok1 || !ok2 || !p.Valid() {
			return nil, fmt.Errorf("gazetteer entry %q: invalid coordinates %v", name, pair)
		}
		entries[name] = p
	}
	return NewGazetteer(entries), nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Len returns the number of places.
func (g *Gazetteer) Len() int {
	return len(g.places)
}

// Lookup resolves text by coordinate literal, exact name, then the longest
// whole-word place name contained in text.
func (g *Gazetteer) Lookup(text string) (models.GeoPoint, bool) {
	if p, ok := ParseCoordinates(text); ok {
		return p, true
	}
	key := NormalizeKey(text)
	if p, ok := g.places[key]; ok {
		return p, true
	}
	padded := " " + strings.Map(func(r rune) rune {
		if r == ',' || r == '.' || r == ';' || r == ':' || r == '(' || r == ')' {
			return ' '
		}
		return r
	}, key) + " "
	for _, name := range g.names {
		if strings.Contains(padded, " "+name+" ") {
			return g.places[name], true
		}
	}
	return models.GeoPoint{}, false
}

// Strategy returns the gazetteer as the deterministic cascade tier.
func (g *Gazetteer) Strategy() resolver.Strategy[models.GeoPoint] {
	return resolver.Strategy[models.GeoPoint]{
		Name:       "gazetteer",
		Kind:       resolver.KindDeterministic,
		Confidence: 0.8,
		Lookup: func(_ context.Context, key string) (models.GeoPoint, bool, error) {
			p, ok := g.Lookup(key)
			return p, ok, nil
		},
	}
}
