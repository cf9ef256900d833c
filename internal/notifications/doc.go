// Package notifications delivers pipeline milestones via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Per-event switches
// in the [notifications] table suppress individual milestones.
//
// Workflow code depends only on the Service interface.
package notifications
