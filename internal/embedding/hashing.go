// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package embedding

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// DefaultHashingDimensions is used when no dimension is configured.
const DefaultHashingDimensions = 256

// HashingEmbedder projects word unigrams and bigrams into a fixed number of
// buckets with signed xxhash feature hashing. Identical texts give identical
// vectors and texts sharing most words score close to 1.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates a HashingEmbedder with dims buckets.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = DefaultHashingDimensions
	}
	return &HashingEmbedder{dims: dims}
}

// Name returns the embedder name.
func (h *HashingEmbedder) Name() string {
	return "hashing"
}

// Dimensions returns the vector length.
func (h *HashingEmbedder) Dimensions() int {
	return h.dims
}

// Embed returns the unit-length hashed feature vector of text. Text with no
// word characters yields a zero vector.
func (h *HashingEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	v := make(Vector, h.dims)
	tokens := tokenize(text)
	for i, tok := range tokens {
		h.add(v, tok, 1)
		if i > 0 {
			h.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return Normalize(v), nil
}

func (h *HashingEmbedder) add(v Vector, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	idx := sum % uint64(h.dims)
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
