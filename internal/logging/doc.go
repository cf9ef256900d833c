// Package logging assembles structured slog loggers and formatting helpers used
// across scribe.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so the scheduler and executors can tag log
// lines with task IDs, operation IDs, stages, and correlation IDs. The package
// also provides a no-op logger for tests and wiring code that cannot fail, and
// a StreamHub that buffers recent log events for the daemon's log endpoint.
package logging
