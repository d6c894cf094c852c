// Package notifications delivers pipeline events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. The Service interface covers the operator-facing milestones so
// pipeline code can emit consistent messages without duplicating HTTP glue.
package notifications
