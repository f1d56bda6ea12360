// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package geo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/meridian/internal/logging"
	"github.com/tomtom215/meridian/internal/metrics"
	"github.com/tomtom215/meridian/internal/models"
	"github.com/tomtom215/meridian/internal/resolver"
)

const geocoderBreakerName = "geocoder"

// GeocoderConfig configures a Geocoder.
type GeocoderConfig struct {
	// BaseURL is the search endpoint, e.g. https://nominatim.openstreetmap.org/search
	BaseURL string

	// UserAgent is required by the public Nominatim usage policy.
	UserAgent string

	// RateLimit is requests per second. Default: 1
	RateLimit float64

	// Timeout bounds a single HTTP request. Default: 5s
	Timeout time.Duration
}

// Geocoder resolves place names through a Nominatim-compatible search API.
// Requests are rate limited and protected by a circuit breaker.
type Geocoder struct {
	client    *http.Client
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
	cb        *gobreaker.CircuitBreaker[models.GeoPoint]
}

// nominatimPlace is one element of the search response array.
type nominatimPlace struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
}

// errNoMatch marks an empty result; it is a miss, not a breaker failure.
var errNoMatch = errors.New("no geocoder match")

// NewGeocoder creates a Geocoder.
func NewGeocoder(cfg GeocoderConfig) (*Geocoder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("geocoder base URL required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid geocoder URL: %w", err)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "meridian/1.0"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(geocoderBreakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[models.GeoPoint](gobreaker.Settings{
		Name:        geocoderBreakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errNoMatch) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &Geocoder{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		cb:        cb,
	}, nil
}

// stateToFloat maps gobreaker states onto the circuit_breaker_state gauge values.
func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Lookup geocodes place. An empty result is (zero, false, nil).
func (g *Geocoder) Lookup(ctx context.Context, place string) (models.GeoPoint, bool, error) {
	if NormalizeKey(place) == "" {
		return models.GeoPoint{}, false, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return models.GeoPoint{}, false, err
	}

	start := time.Now()
	p, err := g.cb.Execute(func() (models.GeoPoint, error) {
		return g.search(ctx, place)
	})
	metrics.RecordClientRequest("geocoder", time.Since(start), ignoreNoMatch(err))

	switch {
	case err == nil:
		return p, true, nil
	case errors.Is(err, errNoMatch):
		return models.GeoPoint{}, false, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(geocoderBreakerName, "rejected").Inc()
		return models.GeoPoint{}, false, err
	default:
		return models.GeoPoint{}, false, err
	}
}

func ignoreNoMatch(err error) error {
	if errors.Is(err, errNoMatch) {
		return nil
	}
	return err
}

func (g *Geocoder) search(ctx context.Context, place string) (models.GeoPoint, error) {
	q := url.Values{}
	q.Set("q", place)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("failed to query geocoder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.GeoPoint{}, fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return models.GeoPoint{}, fmt.Errorf("failed to decode geocoder response: %w", err)
	}
	if len(places) == 0 {
		return models.GeoPoint{}, errNoMatch
	}

	lat, err1 := strconv.ParseFloat(places[0].Lat, 64)
	lon, err2 := strconv.ParseFloat(places[0].Lon, 64)
	p := models.GeoPoint{Lat: lat, Lon: lon}
	if err1 != nil || err2 != nil || !p.Valid() {
		return models.GeoPoint{}, fmt.Errorf("geocoder returned invalid coordinates %q, %q", places[0].Lat, places[0].Lon)
	}
	return p, nil
}

// State returns the geocoder breaker state name.
func (g *Geocoder) State() string {
	return g.cb.State().String()
}

// Strategy returns the geocoder as the external cascade tier.
func (g *Geocoder) Strategy() resolver.Strategy[models.GeoPoint] {
	return resolver.Strategy[models.GeoPoint]{
		Name:       "geocoder",
		Kind:       resolver.KindExternal,
		Confidence: 0.7,
		Lookup:     g.Lookup,
	}
}
