// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

/*
Package supervisor provides process supervision for Meridian using suture v4.

Services are grouped into layers so a failure in one does not take down the
others:

	RootSupervisor ("meridian")
	├── StorageSupervisor ("storage-layer")
	│   └── StoreGCService
	├── IngestSupervisor ("ingest-layer")
	│   └── PipelineService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Crashed services are restarted with backoff once FailureThreshold failures
accumulate (decaying at FailureDecay per second). On shutdown each service
gets ShutdownTimeout to return; the pipeline's final flush runs inside it.

Supervisor events are logged through sutureslog using the zerolog-backed
slog handler from the logging package:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddStorageService(services.NewStoreGCService(store, 10*time.Minute))
	tree.AddIngestService(services.NewPipelineService(manager, 30*time.Second))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	return tree.Serve(ctx)
*/
package supervisor
