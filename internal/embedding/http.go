// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package embedding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/meridian/internal/metrics"
)

// ErrEmptyEmbedding is returned when the service answers without a vector.
var ErrEmptyEmbedding = errors.New("no embedding returned")

// HTTPConfig configures an HTTPEmbedder.
type HTTPConfig struct {
	// URL is the service base URL, e.g. http://localhost:11434
	URL string

	// Model is the embedding model name. Default: nomic-embed-text
	Model string

	// RateLimit is requests per second; 0 disables pacing.
	RateLimit float64

	// Timeout bounds one request. Default: 10s
	Timeout time.Duration
}

// HTTPEmbedder calls an Ollama-compatible /api/embed endpoint.
type HTTPEmbedder struct {
	endpoint string
	model    string
	client   *http.Client
	limiter  *rate.Limiter
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewHTTPEmbedder creates an HTTPEmbedder.
func NewHTTPEmbedder(cfg HTTPConfig) (*HTTPEmbedder, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("embedder URL required")
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	e := &HTTPEmbedder{
		endpoint: strings.TrimRight(cfg.URL, "/") + "/api/embed",
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1)
	}
	return e, nil
}

// Name returns the model name.
func (e *HTTPEmbedder) Name() string {
	return e.model
}

// Embed requests the embedding of text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	vec, err := e.embed(ctx, text)
	metrics.RecordClientRequest("embedder", time.Since(start), err)
	return vec, err
}

func (e *HTTPEmbedder) embed(ctx context.Context, text string) (Vector, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedder returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return Vector(out.Embeddings[0]), nil
}
