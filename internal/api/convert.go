package api

import (
	"time"

	"transcoder/internal/deps"
	"transcoder/internal/queue"
	"transcoder/internal/transcode"
	"transcoder/internal/workflow"
)

// FromJob converts a job row to its API representation.
func FromJob(job queue.Job) Job {
	return Job{
		AssetID:        job.AssetID,
		Variant:        job.VariantKey,
		State:          string(job.State()),
		QueuedAt:       formatTime(job.QueuedAt),
		StartedAt:      formatTime(job.StartedAt),
		SucceededAt:    formatTime(job.SucceededAt),
		ErroredAt:      formatTime(job.ErroredAt),
		ErrorMessage:   job.ErrorMessage,
		FinalBitrate:   job.FinalBitrate,
		Remux:          job.Options.Remux,
		ManualOverride: job.Options.ManualOverride,
		Prioritized:    job.Options.Prioritized,
	}
}

// FromStatus converts a status table row, including its derived columns.
func FromStatus(status transcode.Status) Job {
	dto := FromJob(status.Job)
	dto.State = string(status.State)
	dto.AgeSeconds = status.Age.Seconds()
	dto.Size = status.Size
	dto.URL = status.URL
	return dto
}

// FromStatuses converts a whole status table.
func FromStatuses(assetID string, statuses []transcode.Status) JobListResponse {
	resp := JobListResponse{AssetID: assetID, Jobs: make([]Job, 0, len(statuses))}
	for _, status := range statuses {
		resp.Jobs = append(resp.Jobs, FromStatus(status))
	}
	return resp
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	dto := WorkflowStatus{
		Running:     summary.Running,
		Workers:     summary.Workers,
		Active:      make([]JobRef, 0, len(summary.Active)),
		JobsByState: summary.JobsByState,
		LastError:   summary.LastError,
	}
	if dto.JobsByState == nil {
		dto.JobsByState = map[string]int{}
	}
	for _, h := range summary.Active {
		dto.Active = append(dto.Active, JobRef{AssetID: h.AssetID, Variant: h.VariantKey})
	}
	if last := summary.LastJob; last != nil {
		dto.LastJob = &JobReport{
			JobRef:     JobRef{AssetID: last.Handle.AssetID, Variant: last.Handle.VariantKey},
			Outcome:    string(last.Outcome),
			Error:      last.Error,
			FinishedAt: last.Finished.UTC().Format(dateTimeFormat),
		}
	}
	return dto
}

// FromDependencies converts dependency checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	return out
}

func formatTime(ts *time.Time) string {
	if ts == nil || ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(dateTimeFormat)
}
