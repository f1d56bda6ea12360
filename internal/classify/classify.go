// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

// Package classify enriches buffered items with category, severity and place
// names. Client calls a remote batch classification service; Keyword is an
// offline rule-based fallback.
package classify

import (
	"context"

	"github.com/tomtom215/meridian/internal/models"
)

// Classifier enriches a batch of items. The result is keyed by item ID;
// items missing from the map are left unchanged.
type Classifier interface {
	ClassifyBatch(ctx context.Context, items []models.Item) (map[string]models.ClassifyResult, error)
}
