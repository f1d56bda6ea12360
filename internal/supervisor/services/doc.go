// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

/*
Package services adapts Meridian components to suture's Serve(ctx) pattern.

	Service            Wraps               Layer
	HTTPServerService  *http.Server        api
	PipelineService    *pipeline.Manager   ingest
	StoreGCService     *sink.Store         storage

Each wrapper depends on a small interface rather than the concrete type, so
the services package does not import the components it supervises and tests
can substitute mocks.

Serve returns ctx.Err() after a graceful stop. A returned error other than
context cancellation makes suture restart the service with backoff.
*/
package services
