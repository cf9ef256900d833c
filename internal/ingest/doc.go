// Package ingest turns dropped files and directories into registry entries.
//
// A Queue accepts paths, and a single worker classifies them one at a time
// and hands the result to pipeline.Registry.Ingest, where deduplication and
// insertion happen under the registry lock. Directory children are hashed in
// parallel but reassembled in walk order, so the produced tasks never depend
// on scheduling. Multi-channel recordings wait in WAIT_FOR_SPLIT until a
// split policy is supplied.
//
// The optional Watcher feeds new files from a watch folder into the queue
// after they have been quiet for the configured debounce.
package ingest
