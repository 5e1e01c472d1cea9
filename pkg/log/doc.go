// Package log wraps zerolog with a process-global logger, component-scoped
// child loggers and field helpers for the resource ids that appear across
// Paddock's log lines.
package log
