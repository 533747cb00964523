// Package logging assembles structured slog loggers and formatting helpers used
// across the transcoder.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so job code can automatically
// tag log lines with asset IDs, variant keys, steps, and correlation IDs. Per-job
// log files are produced by teeing the daemon logger into a dedicated JSON
// handler. The package also provides a no-op logger for tests and wiring code
// that cannot fail.
package logging
