// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// Responses embed the api DTOs so the socket and the HTTP API describe tasks
// the same way. Errors cross the socket as plain strings.
package ipc
