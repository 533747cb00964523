// Package main hosts the transcoder CLI entrypoint and command graph.
//
// Commands operate on the configured job store directly: they queue
// derivatives, run single jobs in the foreground, print per-asset status
// tables, reset jobs, and list the variant catalog. The daemon subcommand
// runs the worker pool and HTTP API in the foreground.
//
// Keep this package lean: add behaviour to the internal packages first and
// surface it here through commands or flags.
package main
