// Package observability provides the event log, process metrics, and the
// notification sinks for oura. Events are persisted as JSON Lines; alert
// notifications are rendered into a single Markdown message and handed to a
// Notifier.
package observability
