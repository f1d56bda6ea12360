// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package classify

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

	"github.com/tomtom215/meridian/internal/metrics"
	"github.com/tomtom215/meridian/internal/models"
)

// ErrStatus is wrapped by errors for non-2xx responses.
var ErrStatus = errors.New("classifier returned error status")

// Client calls a remote batch classifier over HTTP.
//
// Request:  POST {URL} {"items":[{"id","source","title","summary","url","place_name"}]}
// Response: {"results":{"<id>":{"category","severity","place_name","tags","fields"}}}
type Client struct {
	url    string
	apiKey string
	client *http.Client
}

type batchItem struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Title     string `json:"title"`
	Summary   string `json:"summary,omitempty"`
	URL       string `json:"url,omitempty"`
	PlaceName string `json:"place_name,omitempty"`
}

type batchRequest struct {
	Items []batchItem `json:"items"`
}

type batchResponse struct {
	Results map[string]models.ClassifyResult `json:"results"`
}

// NewClient creates a Client. timeout bounds each request; the flush context
// bounds it further.
func NewClient(url, apiKey string, timeout time.Duration) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("classifier URL required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// ClassifyBatch implements Classifier.
func (c *Client) ClassifyBatch(ctx context.Context, items []models.Item) (map[string]models.ClassifyResult, error) {
	if len(items) == 0 {
		return map[string]models.ClassifyResult{}, nil
	}
	start := time.Now()
	out, err := c.classify(ctx, items)
	metrics.RecordClientRequest("classifier", time.Since(start), err)
	return out, err
}

func (c *Client) classify(ctx context.Context, items []models.Item) (map[string]models.ClassifyResult, error) {
	req := batchRequest{Items: make([]batchItem, len(items))}
	for i, it := range items {
		req.Items[i] = batchItem{
			ID:        it.ID,
			Source:    it.Source,
			Title:     it.Title,
			Summary:   it.Summary,
			URL:       it.URL,
			PlaceName: it.PlaceName,
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode classify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call classifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode classify response: %w", err)
	}
	if out.Results == nil {
		out.Results = map[string]models.ClassifyResult{}
	}
	return out.Results, nil
}
