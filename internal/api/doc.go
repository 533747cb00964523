// Package api defines wire-format types and converters for the HTTP API. It
// translates job rows, status tables and workflow diagnostics into
// transport-friendly DTOs that the CLI and dashboards can render without
// coupling to internal types.
//
// DTOs use camelCase JSON tags. Job states are exposed as their lowercase
// names and timestamps use RFC3339 with milliseconds.
package api
