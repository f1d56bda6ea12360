// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

/*
Package models defines the data types shared across Meridian's ingestion core.

Raw reports enter as Item values, are enriched by the batch classifier
(ClassifyResult), and leave the fusion engine as FusedEvent records. The API
envelope types (APIResponse, APIError, Metadata) give every HTTP handler the
same response shape.
*/
package models
