// Package workflow drains the transcode queue.
//
// The Manager runs a fixed pool of workers. Each worker polls the store for
// the next queued job, hands it to the orchestrator, and backs off when the
// queue is empty or the database misbehaves. A separate reclaimer requeues
// attempts whose started_at is older than the stale threshold, which covers
// workers that died or were shut down mid-encode. Fencing in the store keeps
// a reclaimed attempt from overwriting the result of its replacement.
package workflow
