// Package stage defines the contract between the scheduler and the remote
// executors that perform pipeline stages.
//
// An Executor receives a Request carrying a read-only snapshot of the task
// and the stage parameters resolved from configuration, and returns result
// items plus protocol text. Executors are looked up in a Registry keyed by
// stage kind and provider name.
package stage
