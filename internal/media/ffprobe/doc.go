// Package ffprobe runs ffprobe and decodes the stream and container fields
// the asset library needs to classify a source.
package ffprobe
