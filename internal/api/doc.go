// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates registry, ingest and log models into
// transport-friendly DTOs that the CLI and browser tools can render without
// coupling to internal types.
//
// # Key Types
//
// Entry: one row of the task list, either a Task or a Directory with its
// member tasks inlined.
//
// Task/Operation/Round: a task with its seven operations and the full round
// history of each.
//
// DaemonStatus: daemon running state, scheduler load, statistics, stage
// defaults, executor health and external dependencies.
//
// IngestItem, Event, LogEvent: ingestion queue entries, registry events and
// structured log records.
//
// # Requests
//
// Request payloads carry validator tags and are checked with Validate before
// they reach the daemon, so HTTP and IPC reject the same inputs.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Internal
// enums are exposed as lowercase strings. Timestamps use RFC3339 with
// milliseconds.
package api
