// Package workflow schedules task stages out of the pipeline registry.
//
// The Manager runs a single control loop that asks the registry to admit the
// next eligible stage whenever fewer than scheduler.max_running_tasks tasks
// are running and no task is uploading. Admissions are paced by a token
// bucket. Non-interactive stages execute in their own goroutine against the
// executor registered for the operation's (kind, provider); interactive
// stages only announce the tool link and wait for the completion hook.
//
// Persistence is a separate bus subscriber that writes every changed task,
// directory and the entry order through a pipeline.Persister, so the
// scheduler never touches storage directly.
package workflow
