package metrics

// Outcome labels for JobsTotal.
const (
	OutcomeSucceeded  = "succeeded"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
	OutcomeSuperseded = "superseded"
)

// InitializeMetrics pre-populates label combinations so every series is
// exported from the first scrape.
func InitializeMetrics(states, failureKinds []string) {
	for _, state := range states {
		JobStates.WithLabelValues(state)
	}
	for _, kind := range failureKinds {
		JobFailuresTotal.WithLabelValues(kind)
	}
	for _, mode := range []string{"single_pass", "two_pass", "midi"} {
		EncodeDuration.WithLabelValues(mode)
	}
	for _, sink := range []string{"http", "redis", "log"} {
		PurgeTotal.WithLabelValues(sink, "ok")
		PurgeTotal.WithLabelValues(sink, "error")
	}
}
