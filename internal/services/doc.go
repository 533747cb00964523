// Package services defines shared utilities consumed by the transcode
// orchestrator and its collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp asset IDs, variant keys, job steps, and
//     correlation identifiers for logging and tracing.
//   - The failure taxonomy (configuration, source unavailable, size limit,
//     sandbox execution, already started, race detected, publication) plus
//     the Wrap helper that tags errors for classification with errors.Is.
//
// Use these helpers when wiring new job steps so operational behaviour (error
// handling, observability) stays uniform across the pipeline.
package services
