// Package services defines shared utilities consumed by the pipeline core, the
// stage executors, and the daemon surfaces.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, operation IDs, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so classification,
//     registry, and execution failures keep a consistent shape from the core
//     through to HTTP and CLI output.
//
// Use these helpers when wiring new executors so operational behaviour (error
// handling, observability) stays uniform across the pipeline.
package services
