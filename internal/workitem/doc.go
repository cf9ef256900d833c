// Package workitem models the file artifacts that flow through a pipeline and
// classifies raw dropped files into them.
//
// An Item is either an audio recording or a transcript. Audio is accepted as
// PCM WAV; the RIFF header is parsed to learn channel count, sample rate and
// bit depth. Multi-channel recordings require a split decision before they
// can become pipeline inputs: Split de-interleaves the chosen channels into
// mono WAV files under the workspace directory.
//
// Every classified item carries a content hash (SHA-256, or a name_size
// fallback for oversized payloads) and a dedup-safe name embedding the hash
// prefix; the name the user dropped is preserved as OriginalName.
package workitem
