// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package embedding

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/meridian/internal/config"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b Vector
		want float64
	}{
		{"identical", Vector{1, 2, 3}, Vector{1, 2, 3}, 1},
		{"orthogonal", Vector{1, 0}, Vector{0, 1}, 0},
		{"opposite", Vector{1, 0}, Vector{-1, 0}, -1},
		{"length mismatch", Vector{1, 0}, Vector{1}, 0},
		{"zero norm", Vector{0, 0}, Vector{1, 1}, 0},
		{"empty", Vector{}, Vector{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashingEmbedder(t *testing.T) {
	e := NewHashingEmbedder(512)
	ctx := context.Background()

	a, _ := e.Embed(ctx, "Explosion reported near central station in Kyiv")
	b, _ := e.Embed(ctx, "explosion reported near central station in kyiv!")
	c, _ := e.Embed(ctx, "Central bank raises interest rates by a quarter point")

	if len(a) != 512 {
		t.Fatalf("len(Embed()) = %d, want 512", len(a))
	}
	if sim := CosineSimilarity(a, b); sim < 0.999 {
		t.Errorf("same text after case/punctuation folding: similarity = %v, want ~1", sim)
	}
	if sim := CosineSimilarity(a, c); sim > 0.5 {
		t.Errorf("unrelated text similarity = %v, want < 0.5", sim)
	}

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-4 {
		t.Errorf("vector norm^2 = %v, want 1", norm)
	}

	empty, _ := e.Embed(ctx, "!!!")
	for _, x := range empty {
		if x != 0 {
			t.Fatal("text without words should embed to the zero vector")
		}
	}
}

func TestHTTPEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Input == "fail" {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			return
		}
		if req.Input == "empty" {
			_, _ = w.Write([]byte(`{"embeddings":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer srv.Close()

	e, err := NewHTTPEmbedder(HTTPConfig{URL: srv.URL + "/", Model: "test-model", RateLimit: 100})
	if err != nil {
		t.Fatalf("NewHTTPEmbedder() error = %v", err)
	}

	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("Embed() = %v, want [0.1 0.2 0.3]", vec)
	}

	if _, err := e.Embed(context.Background(), "fail"); err == nil {
		t.Error("Embed() on 503 should fail")
	}
	if _, err := e.Embed(context.Background(), "empty"); err != ErrEmptyEmbedding {
		t.Errorf("Embed() on empty response error = %v, want ErrEmptyEmbedding", err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EmbedderConfig
		want    string
		wantErr bool
	}{
		{"default hashing", config.EmbedderConfig{}, "hashing", false},
		{"http", config.EmbedderConfig{Provider: "http", URL: "http://localhost:11434", Model: "m"}, "m", false},
		{"http without url", config.EmbedderConfig{Provider: "http"}, "", true},
		{"unknown", config.EmbedderConfig{Provider: "word2vec"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && e.Name() != tt.want {
				t.Errorf("New().Name() = %q, want %q", e.Name(), tt.want)
			}
		})
	}
}
