package queue

import (
	"time"
)

// State is the derived lifecycle position of a job.
type State string

const (
	StatePending    State = "pending"
	StateQueued     State = "queued"
	StateInProgress State = "in_progress"
	StateSucceeded  State = "succeeded"
	StateErrored    State = "errored"
)

// AllStates lists states in lifecycle order.
var AllStates = []State{
	StatePending,
	StateQueued,
	StateInProgress,
	StateSucceeded,
	StateErrored,
}

// ParseState converts a string into a State, reporting whether it is known.
func ParseState(value string) (State, bool) {
	for _, state := range AllStates {
		if string(state) == value {
			return state, true
		}
	}
	return "", false
}

func stateCounts(stats map[State]int) map[string]int {
	counts := make(map[string]int, len(AllStates))
	for _, state := range AllStates {
		counts[string(state)] = stats[state]
	}
	return counts
}

// Counts returns the summary keyed by state name.
func (h HealthSummary) Counts() map[string]int {
	return stateCounts(map[State]int{
		StatePending:    h.Pending,
		StateQueued:     h.Queued,
		StateInProgress: h.InProgress,
		StateSucceeded:  h.Succeeded,
		StateErrored:    h.Errored,
	})
}

// Options are the enqueue flags persisted with a job.
type Options struct {
	Remux          bool
	ManualOverride bool
	Prioritized    bool
}

// Job is one row of transcode_jobs.
type Job struct {
	AssetID      string
	VariantKey   string
	QueuedAt     *time.Time
	StartedAt    *time.Time
	SucceededAt  *time.Time
	ErroredAt    *time.Time
	ErrorMessage string
	FinalBitrate int64
	Options      Options
}

// State derives the lifecycle state from the timestamps. Terminal timestamps
// win over started_at so a finished attempt reports its outcome.
func (j *Job) State() State {
	if j == nil {
		return StatePending
	}
	switch {
	case j.SucceededAt != nil:
		return StateSucceeded
	case j.ErroredAt != nil:
		return StateErrored
	case j.StartedAt != nil:
		return StateInProgress
	case j.QueuedAt != nil:
		return StateQueued
	default:
		return StatePending
	}
}

// Token is the fencing value written by Claim. Finish operations only apply
// when the stored started_at still equals StartedAt.
type Token struct {
	AssetID    string
	VariantKey string
	StartedAt  time.Time
}

// HealthSummary aggregates job counts by derived state.
type HealthSummary struct {
	Total      int
	Pending    int
	Queued     int
	InProgress int
	Succeeded  int
	Errored    int
}

// DatabaseHealth describes the job database for diagnostics.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}
