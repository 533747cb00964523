// Package encoding derives ffmpeg parameters for a variant and runs the
// encoder inside the sandbox.
//
// Derive is pure: given an asset, a variant spec, and the job options it
// computes the effective frame rate, scaled bitrates, keyframe interval,
// output size, deinterlace filter, and container flags, and it enforces the
// estimated-size limits before anything is spawned. Executor turns the
// resulting Params into one or two ffmpeg invocations (or a fluidsynth render
// followed by an audio encode for MIDI sources) and verifies the output.
package encoding
