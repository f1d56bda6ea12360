// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

/*
Package api exposes the ingestion pipeline over HTTP using the Chi router.

Endpoints:

	POST /api/v1/events          ingest one item (202 accepted, 503 backpressure)
	POST /api/v1/events/batch    ingest up to MaxBatchItems items
	GET  /api/v1/events          list persisted fused events (?limit=)
	GET  /api/v1/events/{id}     one fused event by canonical ID
	GET  /api/v1/stats           pipeline statistics
	POST /api/v1/flush           flush the buffer synchronously
	GET  /api/v1/health/live     liveness
	GET  /api/v1/health/ready    readiness (buffer below capacity)
	GET  /metrics                Prometheus metrics

Every JSON response uses the models.APIResponse envelope:

	{"status": "success", "data": {...}, "metadata": {"timestamp": "..."}}
	{"status": "error", "error": {"code": "VALIDATION_ERROR", "message": "..."}}

Middleware (in order): request ID with logging correlation, real IP, panic
recovery, CORS (go-chi/cors), per-route-group rate limits (go-chi/httprate),
security headers and Prometheus request metrics.

Ingest backpressure is a normal outcome: when the submit queue or the buffer
is full the handler answers 503 with code INGEST_BACKPRESSURE and a
Retry-After header, and the client is expected to retry.
*/
package api
