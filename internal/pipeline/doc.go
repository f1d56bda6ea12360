// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

/*
Package pipeline wires the ingestion core together.

A Manager owns one EventBuffer, one flush Scheduler, one CircuitBreaker around
the batch classifier, and one fusion Engine. All of them are constructed
explicitly by New; there is no package-level state.

Data flow:

	Submit ─► worker pool ─► location cascade ─┐
	                                           ▼
	Enqueue ─────────────────────────────► EventBuffer
	                                           │ size / time / deadline / urgent / memory
	                                           ▼
	                                     flush Scheduler
	                                           │
	              breaker ─► ClassifyBatch ─► merge results ─► resolve named places
	                                           │
	                                           ▼
	                               fusion Engine ─► Rank ─► Sink.Persist

A flush that fails restores its batch to the buffer. An open breaker defers
the batch without consuming a retry; any other failure counts against the
batch's retry budget, and exhausted batches go to Deps.OnAbandon.

Delivery is at-least-once within a process lifetime: a batch that persisted
some events before failing is replayed, and the fusion engine returns the
already-fused events again so the sink sees an idempotent overwrite.

Usage:

	m, err := pipeline.New(pipeline.FromConfig(cfg), pipeline.Deps{
	    Classifier: classify.NewKeyword(nil),
	    Resolver:   cascade,
	    Embedder:   embedder,
	    Sink:       store,
	})
	if err != nil {
	    return err
	}
	if err := m.Start(ctx); err != nil {
	    return err
	}
	defer m.Close(context.Background())

	m.Submit(item, "rss", models.PriorityNormal)
*/
package pipeline
