// Package executors implements the stage providers the workflow manager
// dispatches admitted operations to: a local upload that copies audio into the
// upload directory, WhisperX recognition and alignment, LLM translation and
// summarization, and a generic HTTP provider for remote services.
//
// Build wires one executor per configured stage provider into a
// stage.Registry. Interactive stages have no executor; they are completed
// through the API once the operator finishes in the external tool.
package executors
