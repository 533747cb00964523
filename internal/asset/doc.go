// Package asset resolves source media by identifier and reports the
// properties the encode deriver needs: duration, dimensions, frame rate,
// interlacing, and media type.
//
// Assets are read-only. Identifiers are paths relative to the library root;
// anything that would escape the root is rejected.
package asset
