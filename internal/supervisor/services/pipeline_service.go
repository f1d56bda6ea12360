// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/meridian/internal/logging"
)

// Pipeline is the lifecycle of *pipeline.Manager.
type Pipeline interface {
	Start(ctx context.Context) error
	Close(ctx context.Context) error
}

// PipelineService runs the ingestion pipeline under suture.
//
// Serve starts the pipeline, waits for cancellation, then closes it, which
// drains the submit queue and performs a final flush within closeTimeout.
// A closed Manager cannot be started again, so a failed Start is not retried.
type PipelineService struct {
	pipeline     Pipeline
	closeTimeout time.Duration
	name         string
}

// NewPipelineService wraps p.
func NewPipelineService(p Pipeline, closeTimeout time.Duration) *PipelineService {
	if closeTimeout <= 0 {
		closeTimeout = 30 * time.Second
	}
	return &PipelineService{
		pipeline:     p,
		closeTimeout: closeTimeout,
		name:         "pipeline",
	}
}

// Serve implements suture.Service.
func (s *PipelineService) Serve(ctx context.Context) error {
	if err := s.pipeline.Start(ctx); err != nil {
		logging.Error().Err(err).Msg("Pipeline start failed")
		return suture.ErrDoNotRestart
	}

	<-ctx.Done()

	closeCtx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
	defer cancel()
	if err := s.pipeline.Close(closeCtx); err != nil {
		return fmt.Errorf("pipeline close failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *PipelineService) String() string {
	return s.name
}
