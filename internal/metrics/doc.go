// Package metrics provides Prometheus instrumentation for the transcoder.
//
// Metrics are registered with the default registry through promauto and are
// prefixed with "transcoder_". The daemon mounts promhttp.Handler() on the
// configured metrics path.
//
// Job metrics:
//   - JobsTotal: finished RunJob calls by variant and outcome
//   - JobFailuresTotal: failures by failure kind
//   - JobDuration: wall time of claimed jobs by variant
//   - JobsInProgress: jobs currently between claim and finish
//   - JobStates: jobs per derived state, refreshed by the Collector
//
// Encode and publish metrics:
//   - EncodeDuration: sandboxed encoder wall time by mode
//   - SegmentsTotal: HLS segments written
//   - PublishedBytes: bytes imported into storage
//   - PurgeTotal: cache purge calls by sink and status
//   - ReclaimedJobsTotal: stale attempts returned to the queue
package metrics
