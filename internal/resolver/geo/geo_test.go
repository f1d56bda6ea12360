// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package geo

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/meridian/internal/models"
)

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		in   string
		want models.GeoPoint
		ok   bool
	}{
		{"Strike reported at 48.8566, 2.3522 overnight", models.GeoPoint{Lat: 48.8566, Lon: 2.3522}, true},
		{"33.45S 70.66W", models.GeoPoint{Lat: -33.45, Lon: -70.66}, true},
		{"position 40.0°N, 73.0°W", models.GeoPoint{Lat: 40.0, Lon: -73.0}, true},
		{"-1.2921, 36.8219", models.GeoPoint{Lat: -1.2921, Lon: 36.8219}, true},
		{"2 killed, 14 injured", models.GeoPoint{}, false},
		{"magnitude 6.1, 10 km deep", models.GeoPoint{}, false},
		{"no numbers here", models.GeoPoint{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCoordinates(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseCoordinates(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok {
				if math.Abs(got.Lat-tt.want.Lat) > 1e-9 {
					t.Errorf("got.Lat = %v, want %v", got.Lat, tt.want.Lat)
				}
				if math.Abs(got.Lon-tt.want.Lon) > 1e-9 {
					t.Errorf("got.Lon = %v, want %v", got.Lon, tt.want.Lon)
				}
			}
		})
	}
}

func TestGazetteerLookup(t *testing.T) {
	g := DefaultGazetteer()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Paris", "paris", true},
		{"  NEW   york ", "new york", true},
		{"Protests spread across Mexico City, officials say", "mexico city", true},
		{"Parisian cafes reopen", "", false},
		{"Atlantis", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := g.Lookup(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok {
				if !reflect.DeepEqual(got, g.places[tt.want]) {
					t.Errorf("got = %v, want %v", got, g.places[tt.want])
				}
			}
		})
	}
}

func TestLoadGazetteer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "places.yaml")
	if err := os.WriteFile(path, []byte("Springfield: [39.7817, -89.6501]\nparis: [1.5, 2]\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	g, err := LoadGazetteer(path, DefaultGazetteer())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, ok := g.Lookup("springfield")
	if !ok {
		t.Fatal("ok = false, want true")
	}
	if math.Abs(p.Lat-39.7817) > 1e-9 {
		t.Errorf("p.Lat = %v, want %v", p.Lat, 39.7817)
	}

	p, ok = g.Lookup("paris")
	if !ok {
		t.Fatal("ok = false, want true")
	}
	if !reflect.DeepEqual(p, models.GeoPoint{Lat: 1.5, Lon: 2}) {
		t.Errorf("p = %v, want %v", p, models.GeoPoint{Lat: 1.5, Lon: 2})
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("nowhere: [200, 0]\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	_, err = LoadGazetteer(bad, nil)
	if err == nil {
		t.Error("expected an error, got nil")
	}
}

func TestCache(t *testing.T) {
	c, err := NewCache(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.Add("Kyiv", models.GeoPoint{Lat: 50.45, Lon: 30.52})
	c.Add("Invalid", models.GeoPoint{Lat: 100})
	p, ok := c.Get("KYIV")
	if !ok {
		t.Error("ok = false, want true")
	}
	if p.Lat != 50.45 {
		t.Errorf("p.Lat = %v, want %v", p.Lat, 50.45)
	}
	_, ok = c.Get("invalid")
	if ok {
		t.Error("ok = true, want false")
	}

	c.Add("a", models.GeoPoint{Lat: 1, Lon: 1})
	c.Add("b", models.GeoPoint{Lat: 2, Lon: 2})
	if c.Len() != 2 {
		t.Errorf("c.Len() = %v, want %v", c.Len(), 2)
	}
	_, ok = c.Get("kyiv")
	if ok {
		t.Error("ok = true, want false")
	}
}

func TestGeocoder(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if got := r.Header.Get("User-Agent"); got != "meridian-test" {
			t.Errorf("r.Header.Get(\"User-Agent\") = %v, want %v", got, "meridian-test")
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("q") {
		case "Springfield":
			_, _ = w.Write([]byte(`[{"lat":"39.7817","lon":"-89.6501","display_name":"Springfield, IL"}]`))
		case "broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	g, err := NewGeocoder(GeocoderConfig{BaseURL: srv.URL, UserAgent: "meridian-test", RateLimit: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, found, err := g.Lookup(context.Background(), "Springfield")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Error("found = false, want true")
	}
	if math.Abs(p.Lon+89.6501) > 1e-9 {
		t.Errorf("p.Lon = %v, want %v", p.Lon, -89.6501)
	}

	_, found, err = g.Lookup(context.Background(), "Atlantis")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}

	_, found, err = g.Lookup(context.Background(), "broken")
	if err == nil {
		t.Error("expected an error, got nil")
	}
	if found {
		t.Error("found = true, want false")
	}
	if g.State() != "closed" {
		t.Errorf("g.State() = %v, want %v", g.State(), "closed")
	}
	if requests.Load() != int32(3) {
		t.Errorf("requests.Load() = %v, want %v", requests.Load(), int32(3))
	}
}

func TestNewCascade_WriteBackFromGazetteer(t *testing.T) {
	c, cache, err := NewCascade(Options{TotalTimeout: time.Second, CacheSize: 16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := c.Resolve(context.Background(), "Tokyo")
	if !res.Found {
		t.Fatal("res.Found = false, want true")
	}
	if res.Method != "gazetteer" {
		t.Errorf("res.Method = %v, want %v", res.Method, "gazetteer")
	}

	_, ok := cache.Get("tokyo")
	if !ok {
		t.Error("ok = false, want true")
	}

	res = c.Resolve(context.Background(), "Tokyo")
	if res.Method != "cache" {
		t.Errorf("res.Method = %v, want %v", res.Method, "cache")
	}
}
