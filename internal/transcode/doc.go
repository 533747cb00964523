// Package transcode runs one derivative job end to end.
//
// RunJob resolves the variant and the source, derives encoder parameters,
// claims the job, encodes in a scratch directory, segments streaming
// variants and publishes the result. Failures found before the claim are
// recorded without a start time. Failures after the claim go through the
// fencing token, so a job that was reset or restarted mid-encode keeps the
// state written by whoever superseded it.
//
// Collaborators are narrow interfaces declared here and injected through
// Dependencies. NewFromConfig wires the production implementations.
package transcode
