// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package pipeline

import (
	"github.com/tomtom215/meridian/internal/breaker"
	"github.com/tomtom215/meridian/internal/buffer"
	"github.com/tomtom215/meridian/internal/flush"
	"github.com/tomtom215/meridian/internal/fusion"
	"github.com/tomtom215/meridian/internal/perf"
	"github.com/tomtom215/meridian/internal/resolver"
)

// Stats is a point-in-time view of the pipeline. The top-level fields are
// the headline numbers; the nested structs carry per-component detail.
type Stats struct {
	BufferSize         int     `json:"buffer_size"`
	PriorityBufferSize int     `json:"priority_buffer_size"`
	TotalQueued        int64   `json:"total_queued"`
	TotalFlushed       int64   `json:"total_flushed"`
	CircuitState       string  `json:"circuit_state"`
	Timeouts           int64   `json:"timeouts"`
	VerifiedEventRatio float64 `json:"verified_event_ratio"`

	SubmitQueueDepth int   `json:"submit_queue_depth"`
	Submitted        int64 `json:"submitted"`
	SubmitRejected   int64 `json:"submit_rejected"`
	SubmitDropped    int64 `json:"submit_dropped"`
	Persisted        int64 `json:"persisted"`
	PersistErrors    int64 `json:"persist_errors"`

	Buffer      buffer.Stats    `json:"buffer"`
	Flush       flush.Stats     `json:"flush"`
	Breaker     breaker.Metrics `json:"breaker"`
	Fusion      fusion.Stats    `json:"fusion"`
	Performance perf.Snapshot   `json:"performance"`
	Resolver    *resolver.Stats `json:"resolver,omitempty"`
}

// GetStats returns current pipeline statistics.
func (m *Manager) GetStats() Stats {
	bs := m.buf.Stats()
	fs := m.sched.Stats()
	fus := m.engine.Stats()

	st := Stats{
		BufferSize:         bs.Size,
		PriorityBufferSize: bs.PrioritySize,
		TotalQueued:        m.totalQueued.Load(),
		TotalFlushed:       fs.ItemsFlushed,
		CircuitState:       m.cb.State().String(),
		VerifiedEventRatio: fus.VerifiedRatio,
		SubmitQueueDepth:   len(m.jobs),
		Submitted:          m.submitted.Load(),
		SubmitRejected:     m.submitRejected.Load(),
		SubmitDropped:      m.submitDropped.Load(),
		Persisted:          m.persisted.Load(),
		PersistErrors:      m.persistErrors.Load(),
		Buffer:             bs,
		Flush:              fs,
		Breaker:            m.cb.Metrics(),
		Fusion:             fus,
		Performance:        m.tracker.Snapshot(),
	}
	if m.deps.Resolver != nil {
		rs := m.deps.Resolver.Stats()
		st.Timeouts = rs.Timeouts
		st.Resolver = &rs
	}
	return st
}
