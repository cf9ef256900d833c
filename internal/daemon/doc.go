// Package daemon coordinates the long-running Scribe process.
//
// It wires configuration, the task registry and its SQLite mirror, the
// ingestion queue with the optional watch folder, the workflow scheduler and
// the HTTP API into a single lifecycle, with flock-based locking to prevent
// multiple instances. Open brings up everything but stage admission; Start
// and Stop toggle admission; Close tears down in reverse order and flushes
// pending persistence.
//
// The exported methods are the operations the HTTP API and the IPC server
// expose. They validate requests, translate names into pipeline kinds and
// return api DTOs, so both transports behave identically.
//
// Keep orchestration logic here: registry semantics live in pipeline, stage
// execution in workflow and executors.
package daemon
