// Package daemonctl drives the daemon process from the CLI: launching it in
// the background, waiting for its socket, terminating it, and assembling the
// status report with an offline fallback that reads the database directly.
package daemonctl
