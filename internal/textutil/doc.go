// Package textutil provides filename sanitization helpers.
//
// The primary use cases are:
//   - Sanitizing filenames and path segments for safe filesystem use
//   - Deriving dedup-safe names that embed a content hash prefix
//   - Normalizing short identifiers such as provider names
package textutil
