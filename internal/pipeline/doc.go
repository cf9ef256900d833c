// Package pipeline holds the task/operation state machine and the registry
// that owns every task.
//
// A Task is one recording's run through the fixed stage sequence (upload,
// speech recognition, manual transcription, alignment, phonetic detail,
// translation, summarization). Each stage is an Operation that accumulates
// rounds: a restart appends a round and never rewrites an earlier one.
// Stage-specific behaviour lives in the Strategy table keyed by StageKind.
//
// The Registry is the only mutator. It serializes all changes behind one
// mutex, publishes every transition on the EventBus, and exposes the
// admission primitive the scheduler loop drives. Operations hold their
// owning task id rather than a pointer; lookups go through the registry's
// arena maps.
package pipeline
