// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

// Package main is the entry point for the Meridian ingestion server.
//
// Meridian accepts raw intelligence reports (RSS entries, ACLED rows, GDELT
// events, Telegram posts) over HTTP, buffers them, classifies them in
// batches, resolves their locations and fuses reports of the same incident
// from different sources into verified events.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables and config file (Koanf v2)
//  2. Event store: BadgerDB for fused events and abandoned items
//  3. Publisher (optional): Watermill in-process topic for fused events
//  4. Location cascade: cache, gazetteer and optional Nominatim geocoder
//  5. Classifier and embedder
//  6. Pipeline: buffer, flush scheduler, circuit breaker, fusion engine
//  7. HTTP Server: ingest, query, stats and health endpoints
//
// All long-running components run under a suture supervisor tree.
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context. The HTTP server drains first,
// then the pipeline performs a final flush, then the store closes.
//
// # Example Usage
//
//	export CLASSIFIER_URL=http://classifier:8000/classify
//	export STORE_PATH=/data/meridian
//	./meridian
//
// Offline mode with keyword classification and no external geocoder:
//
//	export CLASSIFIER_PROVIDER=keyword
//	export GEOCODER_ENABLED=false
//	./meridian
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/tomtom215/meridian/internal/api"
	"github.com/tomtom215/meridian/internal/classify"
	"github.com/tomtom215/meridian/internal/config"
	"github.com/tomtom215/meridian/internal/embedding"
	"github.com/tomtom215/meridian/internal/logging"
	"github.com/tomtom215/meridian/internal/metrics"
	"github.com/tomtom215/meridian/internal/models"
	"github.com/tomtom215/meridian/internal/pipeline"
	"github.com/tomtom215/meridian/internal/resolver/geo"
	"github.com/tomtom215/meridian/internal/sink"
	"github.com/tomtom215/meridian/internal/supervisor"
	"github.com/tomtom215/meridian/internal/supervisor/services"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Service:   "meridian",
		Version:   version,
	})
	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	logging.Info().
		Str("version", version).
		Str("classifier", cfg.Classifier.Provider).
		Str("embedder", cfg.Embedder.Provider).
		Str("store_path", cfg.Store.Path).
		Bool("store_in_memory", cfg.Store.InMemory).
		Msg("Starting Meridian with supervisor tree")

	store, err := sink.OpenStore(sink.StoreConfig{
		Path:         cfg.Store.Path,
		InMemory:     cfg.Store.InMemory,
		AbandonedTTL: cfg.Store.AbandonedTTL,
		SyncWrites:   cfg.Store.SyncWrites,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open event store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event store")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sinks := sink.Multi{store}
	if cfg.Publisher.Enabled {
		publisher := sink.NewPublisher(sink.PublisherConfig{
			Topic:  cfg.Publisher.Topic,
			Buffer: cfg.Publisher.Buffer,
		})
		defer func() {
			if err := publisher.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing publisher")
			}
		}()
		if err := logPublished(ctx, publisher); err != nil {
			logging.Fatal().Err(err).Msg("Failed to subscribe to fused event topic")
		}
		sinks = append(sinks, publisher)
		logging.Info().Str("topic", publisher.Topic()).Msg("Fused event publisher enabled")
	}

	var geocoder *geo.Geocoder
	if cfg.Geocoder.Enabled {
		geocoder, err = geo.NewGeocoder(geo.GeocoderConfig{
			BaseURL:   cfg.Geocoder.URL,
			UserAgent: cfg.Geocoder.UserAgent,
			RateLimit: cfg.Geocoder.RateLimit,
			Timeout:   cfg.Geocoder.Timeout,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create geocoder")
		}
	}
	locations, _, err := geo.NewCascade(geo.Options{
		TotalTimeout:  cfg.Resolver.TotalTimeout,
		CacheSize:     cfg.Resolver.CacheSize,
		GazetteerPath: cfg.Resolver.GazetteerPath,
		Geocoder:      geocoder,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build location cascade")
	}

	classifier, err := newClassifier(cfg.Classifier)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create classifier")
	}

	embedder, err := embedding.New(cfg.Embedder)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create embedder")
	}

	manager, err := pipeline.New(pipeline.FromConfig(cfg), pipeline.Deps{
		Classifier: classifier,
		Resolver:   locations,
		Embedder:   embedder,
		Sink:       sinks,
		OnAbandon: func(ctx context.Context, items []models.Item, cause error) {
			if err := store.RecordAbandoned(items); err != nil {
				logging.Ctx(ctx).Error().Err(err).Int("items", len(items)).Msg("Failed to record abandoned items")
			}
		},
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create pipeline")
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Flush.FlushTimeout + 10*time.Second,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	mw := api.NewChiMiddlewareFromSecurity(
		cfg.Security.CORSOrigins,
		cfg.Security.RateLimitReqs,
		cfg.Security.RateLimitWindow,
		cfg.Security.RateLimitDisabled,
	)
	router := api.NewRouter(api.NewHandler(manager, store, version), mw)
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.Timeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	// === ADD SERVICES TO SUPERVISOR TREE ===

	if !cfg.Store.InMemory {
		tree.AddStorageService(services.NewStoreGCService(store, 10*time.Minute))
	}
	tree.AddIngestService(services.NewPipelineService(manager, cfg.Flush.FlushTimeout+5*time.Second))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === START SUPERVISOR TREE ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	stats := manager.GetStats()
	logging.Info().
		Int64("flushed", stats.TotalFlushed).
		Int64("persisted", stats.Persisted).
		Int("buffered", stats.BufferSize).
		Msg("Application stopped gracefully")
}

func newClassifier(cfg config.ClassifierConfig) (classify.Classifier, error) {
	if cfg.Provider == "keyword" {
		logging.Warn().Msg("Using offline keyword classifier")
		return classify.NewKeyword(nil), nil
	}
	return classify.NewClient(cfg.URL, cfg.APIKey, cfg.Timeout)
}

// logPublished drains the fused event topic at debug level so the topic
// always has a consumer.
func logPublished(ctx context.Context, publisher *sink.Publisher) error {
	messages, err := publisher.Subscribe(ctx)
	if err != nil {
		return err
	}
	go func() {
		for msg := range messages {
			event, err := sink.DecodeEvent(msg)
			if err != nil {
				logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Undecodable fused event")
				msg.Ack()
				continue
			}
			logging.Debug().
				Str("canonical_id", event.CanonicalID).
				Int("sources", event.SourceCount).
				Bool("verified", event.Verified).
				Msg("Fused event published")
			msg.Ack()
		}
	}()
	return nil
}
