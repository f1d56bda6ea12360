// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

// Package logging provides centralized zerolog-based logging for Meridian.
//
// All packages log through the global logger configured here:
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("source", tag).Int("count", n).Msg("Batch flushed")
//
// Component loggers carry a "component" field:
//
//	log := logging.WithComponent("flush")
//	log.Warn().Err(err).Msg("Flush failed")
//
// Correlation IDs travel through context and are attached by Ctx:
//
//	ctx = logging.ContextWithNewCorrelationID(ctx)
//	logging.Ctx(ctx).Debug().Msg("Resolving location")
//
// Libraries that require *slog.Logger (sutureslog) get one from NewSlogLogger,
// which forwards every record to zerolog.
//
// Always terminate log chains with .Msg() or .Send(); an unterminated chain is
// never emitted.
package logging
