// Package hls turns a finished single-file encode into an HLS VOD track.
//
// Fragmented MP4 output is scanned in place: fragments are grouped into
// segments near the target duration without splitting a GOP, moof sequence
// numbers are renumbered, and a byte-range media playlist pointing at the
// file's base name is written next to it. MP3 output is cut at a fixed
// interval by walking frame headers.
package hls
