// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

/*
Package buffer provides EventBuffer, the thread-safe store of items waiting
for batch classification.

The buffer keeps two stores behind one mutex: a normal store and a priority
store (high and urgent items). An item ID lives in at most one of them.
Combined size never exceeds MaxSize once a call returns; when room must be
made the oldest item of the lowest tier present is evicted, never the newest.

Capacity policy on Enqueue, after stale items are pruned:

  - normal: rejected (false) when full
  - high: evicts the oldest normal item when full, rejected if there is none
  - urgent: always accepted; evicts the oldest normal item, or failing that
    the oldest high item, or the oldest urgent item. Each urgent enqueue
    signals Urgent() so the flush scheduler can drain immediately.

Enqueue and ExtractAll never block on I/O. Capacity rejection is a boolean,
not an error.

Items handed back by Restore after a failed flush keep their EnqueuedAt,
sequence and BatchKey, so FIFO order and retry accounting survive the round
trip.
*/
package buffer
