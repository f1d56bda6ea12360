// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

// Package embedding turns item text into dense vectors for semantic
// deduplication. Two backends exist: an HTTP client for an Ollama-style
// embedding service, and a deterministic feature-hashing embedder that needs
// no network.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/tomtom215/meridian/internal/config"
)

// Vector is a dense embedding.
type Vector []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Name() string
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the vectors are empty, differ in length, or either has zero norm.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize scales v to unit length in place and returns it.
func Normalize(v Vector) Vector {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// New returns the embedder selected by cfg.Provider.
func New(cfg config.EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "hashing":
		return NewHashingEmbedder(cfg.Dimensions), nil
	case "http":
		e, err := NewHTTPEmbedder(HTTPConfig{
			URL:       cfg.URL,
			Model:     cfg.Model,
			RateLimit: cfg.RateLimit,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}
}
