// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

// Package validation validates API request structs with go-playground/validator.
//
// A single validator instance is shared process-wide; it caches struct metadata
// and is safe for concurrent use. Errors name fields by their JSON names so
// clients see the same keys they sent.
//
// Custom rules:
//
//	source_tag  lowercase feed identifier: [a-z0-9][a-z0-9._-]*
//
// Usage:
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    apiErr := verr.ToAPIError()
//	    respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
//	    return
//	}
package validation
