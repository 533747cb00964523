// Package daemon coordinates the long-running transcoder process.
//
// It wires configuration, the job store, the workflow manager and the metrics
// collector into a single lifecycle with flock-based locking to prevent
// multiple instances on one state directory. The HTTP listener serves the
// JSON API used by the CLI and the Prometheus scrape endpoint.
//
// Keep orchestration logic here: transcode steps live in their own packages
// while the daemon focuses on startup, shutdown and the operator surface.
package daemon
