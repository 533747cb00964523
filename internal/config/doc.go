// Package config loads, normalizes, and validates transcoder configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TRANSCODER_DATABASE_DSN. The Config type centralizes every knob the daemon
// and CLI need: sandbox ceilings, size limits, storage roots, and the enabled
// derivative sets are all discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
