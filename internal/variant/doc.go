// Package variant holds the immutable catalog of derivative encodings.
//
// A Catalog is built once at startup from the built-in ladder plus optional
// TOML overrides and is then passed explicitly to the deriver and the
// orchestrator. Lookups never mutate it, so a single value is safe to share
// across worker goroutines.
package variant
