// Package queue persists per-variant transcode jobs in SQLite and exposes the
// fencing operations that keep concurrent attempts from overwriting each other.
//
// A job is keyed by (asset id, variant key). Its state is never stored; it is
// derived from which timestamps are set. Claim writes started_at only when it
// is NULL and hands the written value back as a Token. FinishSuccess and
// FinishFailure compare against that token, so an attempt that was reset or
// reclaimed while it ran cannot mark the newer attempt's row.
//
// Open uses the database/sql driver registered as "sqlite". The binaries and
// testsupport link modernc.org/sqlite for it; the package itself does not, so
// gormstore tests can register the glebarez driver under the same name.
//
// The database is treated as durable job bookkeeping. Schema changes bump the
// version in schema.go; operators clear the database to adopt a new schema.
package queue
