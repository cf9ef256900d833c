// Package preflight provides readiness checks for external services
// and filesystem paths that Scribe depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll once at startup and logs failures, then reports
//     the results through its status endpoint.
//   - The CLI "scribe status" command renders the same results next to the
//     binary dependencies from CheckSystemDeps.
//
// Remote checks are gated by the stage defaults: a stage new tasks start
// with disabled is not probed.
package preflight
