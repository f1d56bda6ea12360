// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

/*
Package fusion merges independent reports of the same real-world incident.

Processing an item runs two steps:

 1. Semantic dedup. The item's title and summary are embedded and looked up,
    once, in the nearest-neighbour index of the item's source. A match at or
    above SimilarityThreshold discards the item as a repost.
 2. Cross-source fusion. Events on the same UTC day within RadiusKm that do
    not already carry the item's source are candidates; the nearest one
    absorbs the item. Otherwise the item starts a new event.

When two reports disagree on a scalar field (title, summary, URL, place,
category) the one with the higher additive quality score wins:

	4  strictly earlier publication
	2  source domain on the trusted list
	≤1 summary length / 1000, capped at 1000 characters

Ties keep the incumbent, and an empty value never replaces a populated one.
Severity takes the maximum, and enrichment fields are unioned.

Item IDs already fused are remembered until retention eviction, so replaying
a batch after a failed flush does not double-count sources.
*/
package fusion
