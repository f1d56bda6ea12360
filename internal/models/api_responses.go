// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package models

import "time"

// APIResponse is the standard envelope for every HTTP response.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError is a structured error body.
//
// Code is machine-readable (e.g. "VALIDATION_ERROR", "BUFFER_FULL").
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// IngestRequest is the body accepted by POST /api/v1/events.
type IngestRequest struct {
	ID           string            `json:"id" validate:"omitempty,max=128"`
	Source       string            `json:"source" validate:"required,source_tag,max=64"`
	SourceDomain string            `json:"source_domain" validate:"omitempty,hostname,max=253"`
	Title        string            `json:"title" validate:"required,max=1024"`
	Summary      string            `json:"summary" validate:"omitempty,max=20000"`
	URL          string            `json:"url" validate:"omitempty,url"`
	PublishedAt  *time.Time        `json:"published_at"`
	PlaceName    string            `json:"place_name" validate:"omitempty,max=256"`
	Lat          *float64          `json:"lat" validate:"omitempty,latitude"`
	Lon          *float64          `json:"lon" validate:"omitempty,longitude"`
	Severity     float64           `json:"severity" validate:"gte=0,lte=10"`
	Category     string            `json:"category" validate:"omitempty,max=64"`
	Fields       map[string]string `json:"fields" validate:"omitempty,max=64"`
	Priority     string            `json:"priority" validate:"omitempty,oneof=normal high urgent"`
	DeadlineMS   int64             `json:"deadline_ms" validate:"gte=0"`
}

// IngestResponse reports whether an item was accepted into the pipeline.
type IngestResponse struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
	Priority string `json:"priority"`
}

// IngestBatchRequest is the body accepted by POST /api/v1/events/batch.
type IngestBatchRequest struct {
	Items []IngestRequest `json:"items" validate:"required,min=1,max=500,dive"`
}

// IngestBatchResponse lists per-item outcomes in request order.
type IngestBatchResponse struct {
	Accepted int              `json:"accepted"`
	Rejected int              `json:"rejected"`
	Results  []IngestResponse `json:"results"`
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status       string  `json:"status"`
	Version      string  `json:"version,omitempty"`
	Uptime       float64 `json:"uptime_seconds"`
	BufferSize   int     `json:"buffer_size"`
	Utilization  float64 `json:"buffer_utilization"`
	CircuitState string  `json:"circuit_state"`
}
