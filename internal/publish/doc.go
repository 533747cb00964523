// Package publish moves a finished encode into derivative storage, records
// success against the job's fencing token, and invalidates cached copies.
//
// Commit re-checks the token before importing anything so a superseded
// attempt never overwrites the output of the attempt that replaced it. The
// final write is the store's compare-and-set, which closes the remaining
// window.
package publish
