// Package harvest provides a production-ready supervision and ingestion
// runtime for metric-collection plugins. It periodically invokes isolated
// collector plugins, contains their failures, buffers the metrics they
// produce, and delivers them to a storage sink under flow control.
//
// Key Features:
//   - Plugin supervisor with a full lifecycle state machine and
//     crash-restart under exponential backoff
//   - Per-plugin circuit breakers gating collection dispatch
//   - Min-heap scheduler with jittered intervals and a guarantee of at
//     most one outstanding collection per plugin
//   - Bounded worker pool with per-collection deadlines and panic
//     containment at the plugin call site
//   - Bounded metric buffer with configurable overflow policy
//   - Batch flusher with retry, disk-backed spill, and fatal-sink alerting
//   - Hot-reloadable runtime tunables via Argus
//   - Pluggable structured logging and metrics collection
//
// Basic Usage:
//
//	// Register a factory for your collector type
//	pipeline, err := harvest.NewPipeline(harvest.GetDefaultPipelineConfig(), sink, logger, metrics)
//	if err != nil {
//	    return err
//	}
//	_ = pipeline.RegisterFactory("power-meter", &PowerMeterFactory{})
//
//	// Load a plugin instance, then start collecting every 30 seconds
//	desc := harvest.PluginDescriptor{
//	    ID:   "meter-livingroom",
//	    Type: "power-meter",
//	}
//	_ = pipeline.LoadPlugin(desc, map[string]any{"address": "10.0.0.12"})
//	_ = pipeline.StartPlugin("meter-livingroom", 30*time.Second)
//
//	// Run the ingestion runtime until shutdown
//	pipeline.Start()
//	defer pipeline.Shutdown(context.Background())
//
// Fault Isolation:
// A crashing or hanging plugin never stalls the runtime. Panics are
// recovered at the executor call site, timeouts release their worker-pool
// slot without waiting for the plugin to cooperate, and chronically
// failing plugins are parked by their circuit breaker while the
// supervisor restarts them in the background.
//
// Backpressure:
// A slow or unavailable sink never causes unbounded memory growth. The
// buffer rejects (or evicts) once full, failed batches are retried with
// exponential backoff and then spilled to disk, and spill saturation
// raises a fatal alert and can throttle scheduling system-wide.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package harvest
