// Package store persists the task registry in SQLite.
//
// Store implements pipeline.Persister. Every round of every operation is kept
// so a restart restores the full execution history; results are stored as
// JSON alongside the round's protocol. The entries table records the flat
// display order, including directory membership.
//
// The schema is versioned; a database written by a different version is
// rejected with ErrSchemaMismatch rather than migrated.
package store
