// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/meridian/internal/logging"
	"github.com/tomtom215/meridian/internal/models"
	"github.com/tomtom215/meridian/internal/pipeline"
	"github.com/tomtom215/meridian/internal/sink"
)

const (
	// MaxRequestBytes bounds a single-item ingest body.
	MaxRequestBytes = 1 << 20

	// MaxBatchBytes bounds a batch ingest body.
	MaxBatchBytes = 16 << 20

	defaultListLimit = 100
	maxListLimit     = 1000

	// retryAfterSeconds is sent with backpressure responses.
	retryAfterSeconds = "5"
)

// Pipeline is the subset of *pipeline.Manager the handlers use.
type Pipeline interface {
	SubmitWithDeadline(item models.Item, sourceTag string, priority models.Priority, deadline time.Time) bool
	GetStats() pipeline.Stats
	Event(canonicalID string) (models.FusedEvent, bool)
	FlushNow(ctx context.Context) error
}

// EventStore reads persisted fused events.
type EventStore interface {
	Get(ctx context.Context, id string) (models.FusedEvent, error)
	List(ctx context.Context, limit int) ([]models.FusedEvent, error)
}

// Handler serves the HTTP API.
type Handler struct {
	pipeline  Pipeline
	store     EventStore
	version   string
	startTime time.Time
}

// NewHandler creates a Handler. store may be nil, in which case event reads
// fall back to the in-memory fusion window.
func NewHandler(p Pipeline, store EventStore, version string) *Handler {
	return &Handler{
		pipeline:  p,
		store:     store,
		version:   version,
		startTime: time.Now(),
	}
}

// IngestEvent handles POST /api/v1/events.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBytes)

	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is not valid JSON", nil)
		return
	}
	if !validateRequest(w, &req) {
		return
	}
	if !coordinatesPaired(&req) {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "lat and lon must be provided together", nil)
		return
	}

	resp := h.submit(&req)
	if !resp.Accepted {
		logging.Ctx(r.Context()).Warn().
			Str("source", sanitizeLogValue(req.Source)).
			Msg("Ingest rejected by backpressure")
		w.Header().Set("Retry-After", retryAfterSeconds)
		respondError(w, http.StatusServiceUnavailable, "INGEST_BACKPRESSURE",
			"Pipeline is at capacity, retry later", map[string]interface{}{"id": resp.ID})
		return
	}
	respondSuccess(w, http.StatusAccepted, resp, start)
}

// IngestBatch handles POST /api/v1/events/batch. Items are submitted in
// order; each result reports whether that item was accepted.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, MaxBatchBytes)

	var req models.IngestBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is not valid JSON", nil)
		return
	}
	if !validateRequest(w, &req) {
		return
	}
	for i := range req.Items {
		if !coordinatesPaired(&req.Items[i]) {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "lat and lon must be provided together",
				map[string]interface{}{"index": i})
			return
		}
	}

	out := models.IngestBatchResponse{Results: make([]models.IngestResponse, 0, len(req.Items))}
	for i := range req.Items {
		resp := h.submit(&req.Items[i])
		if resp.Accepted {
			out.Accepted++
		} else {
			out.Rejected++
		}
		out.Results = append(out.Results, resp)
	}

	if out.Accepted == 0 {
		w.Header().Set("Retry-After", retryAfterSeconds)
		respondError(w, http.StatusServiceUnavailable, "INGEST_BACKPRESSURE",
			"Pipeline is at capacity, retry later", map[string]interface{}{"rejected": out.Rejected})
		return
	}
	respondSuccess(w, http.StatusAccepted, out, start)
}

func (h *Handler) submit(req *models.IngestRequest) models.IngestResponse {
	item := itemFromRequest(req)
	priority := models.ParsePriority(req.Priority)

	var deadline time.Time
	if req.DeadlineMS > 0 {
		deadline = time.Now().Add(time.Duration(req.DeadlineMS) * time.Millisecond)
	}

	accepted := h.pipeline.SubmitWithDeadline(item, item.Source, priority, deadline)
	return models.IngestResponse{ID: item.ID, Accepted: accepted, Priority: priority.String()}
}

func coordinatesPaired(req *models.IngestRequest) bool {
	return (req.Lat == nil) == (req.Lon == nil)
}

func itemFromRequest(req *models.IngestRequest) models.Item {
	item := models.Item{
		ID:           strings.TrimSpace(req.ID),
		Source:       req.Source,
		SourceDomain: req.SourceDomain,
		Title:        req.Title,
		Summary:      req.Summary,
		URL:          req.URL,
		PlaceName:    req.PlaceName,
		Severity:     req.Severity,
		Category:     req.Category,
		Fields:       req.Fields,
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if req.PublishedAt != nil {
		item.PublishedAt = req.PublishedAt.UTC()
	} else {
		item.PublishedAt = time.Now().UTC()
	}
	if req.Lat != nil && req.Lon != nil {
		item.Location = &models.GeoPoint{Lat: *req.Lat, Lon: *req.Lon}
	}
	return item
}

// ListEvents handles GET /api/v1/events.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit, err := getIntParam(r, "limit", defaultListLimit, 1, maxListLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer", nil)
		return
	}
	if h.store == nil {
		respondError(w, http.StatusNotImplemented, "STORE_DISABLED", "Event store is not configured", nil)
		return
	}

	events, err := h.store.List(r.Context(), limit)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to list events")
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to list events", nil)
		return
	}
	if events == nil {
		events = []models.FusedEvent{}
	}
	respondSuccess(w, http.StatusOK, events, start)
}

// GetEvent handles GET /api/v1/events/{id}. The store is consulted first and
// the in-memory fusion window second.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "id is required", nil)
		return
	}

	if h.store != nil {
		event, err := h.store.Get(r.Context(), id)
		switch {
		case err == nil:
			respondSuccess(w, http.StatusOK, event, start)
			return
		case !errors.Is(err, sink.ErrNotFound):
			logging.Ctx(r.Context()).Error().Err(err).
				Str("id", sanitizeLogValue(id)).
				Msg("Failed to read event")
			respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to read event", nil)
			return
		}
	}

	if event, ok := h.pipeline.Event(id); ok {
		respondSuccess(w, http.StatusOK, event, start)
		return
	}
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Event not found", nil)
}

// Stats handles GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, h.pipeline.GetStats(), time.Now())
}

// Flush handles POST /api/v1/flush.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.pipeline.FlushNow(r.Context()); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Manual flush failed")
		respondError(w, http.StatusBadGateway, "FLUSH_FAILED", err.Error(), nil)
		return
	}
	stats := h.pipeline.GetStats()
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"flushed":       true,
		"buffer_size":   stats.BufferSize,
		"total_flushed": stats.TotalFlushed,
	}, start)
}

// HealthLive handles GET /api/v1/health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, models.HealthResponse{
		Status:  "alive",
		Version: h.version,
		Uptime:  time.Since(h.startTime).Seconds(),
	}, time.Now())
}

// HealthReady handles GET /api/v1/health/ready. The service is not ready
// while the buffer is at capacity.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	stats := h.pipeline.GetStats()
	resp := models.HealthResponse{
		Status:       "ready",
		Version:      h.version,
		Uptime:       time.Since(h.startTime).Seconds(),
		BufferSize:   stats.Buffer.Size + stats.Buffer.PrioritySize,
		Utilization:  stats.Buffer.Utilization,
		CircuitState: stats.CircuitState,
	}
	if stats.Buffer.MaxSize > 0 && stats.Buffer.Utilization >= 1 {
		resp.Status = "saturated"
		w.Header().Set("Retry-After", retryAfterSeconds)
		respondJSON(w, http.StatusServiceUnavailable, &models.APIResponse{
			Status:   "error",
			Data:     resp,
			Metadata: models.Metadata{Timestamp: time.Now()},
			Error:    &models.APIError{Code: "NOT_READY", Message: "Buffer is at capacity"},
		})
		return
	}
	respondSuccess(w, http.StatusOK, resp, time.Now())
}
