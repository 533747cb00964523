package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"transcoder/internal/api"
	"transcoder/internal/queue"
	"transcoder/internal/transcode"
)

func TestEnqueueStatusReset(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"enqueue", "Clip.webm", "360p.webm", "240p.vp9.webm", "--priority"}, env.configPath)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	requireContains(t, out, "Queued 2 job(s) for Clip.webm")

	out, _, err = runCLI(t, []string{"enqueue", "Clip.webm", "360p.webm", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("enqueue again: %v", err)
	}
	var enq api.EnqueueResponse
	if err := json.Unmarshal([]byte(out), &enq); err != nil {
		t.Fatalf("decode enqueue json: %v\n%s", err, out)
	}
	if len(enq.Queued) != 0 {
		t.Fatalf("expected re-enqueue to be a no-op, got %v", enq.Queued)
	}

	out, _, err = runCLI(t, []string{"status", "Clip.webm", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var list api.JobListResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode status json: %v\n%s", err, out)
	}
	if len(list.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %+v", list.Jobs)
	}
	for _, job := range list.Jobs {
		if job.State != string(queue.StateQueued) || !job.Prioritized {
			t.Fatalf("unexpected job %+v", job)
		}
	}

	out, _, err = runCLI(t, []string{"status", "Clip.webm"}, env.configPath)
	if err != nil {
		t.Fatalf("status table: %v", err)
	}
	requireContains(t, out, "360p.webm")
	requireContains(t, out, "queued")

	out, _, err = runCLI(t, []string{"reset", "Clip.webm", "360p.webm"}, env.configPath)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	requireContains(t, out, "Reset 1 job(s)")

	out, _, err = runCLI(t, []string{"reset", "Clip.webm"}, env.configPath)
	if err != nil {
		t.Fatalf("reset all: %v", err)
	}
	requireContains(t, out, "Reset 2 job(s)")

	out, _, err = runCLI(t, []string{"status", "Clip.webm", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status after reset: %v", err)
	}
	list = api.JobListResponse{}
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode status json: %v", err)
	}
	for _, job := range list.Jobs {
		if job.State != string(queue.StatePending) {
			t.Fatalf("expected pending after reset, got %+v", job)
		}
	}
}

func TestEnqueueUnknownVariantFails(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"enqueue", "Clip.webm", "9000p.webm"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "9000p.webm") {
		t.Fatalf("expected unknown variant error, got %v", err)
	}
}

func TestStatusEmptyAsset(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"status", "Nothing.ogv"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "No transcode jobs recorded for Nothing.ogv")
}

func TestRunMissingSourceFails(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"run", "Missing.webm", "360p.webm"}, env.configPath)
	if err == nil {
		t.Fatal("expected run to fail for a missing source")
	}
	requireContains(t, err.Error(), "source_unavailable")

	out, _, err := runCLI(t, []string{"status", "Missing.webm", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var list api.JobListResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Jobs) != 1 || list.Jobs[0].State != string(queue.StateErrored) || list.Jobs[0].ErrorMessage == "" {
		t.Fatalf("expected recorded failure, got %+v", list.Jobs)
	}
}

func TestRenderStatusTable(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	statuses := []transcode.Status{
		{Job: queue.Job{VariantKey: "360p.vp9.webm", FinalBitrate: 512000}, State: queue.StateSucceeded, Age: 3 * time.Minute, Size: 2 << 20},
		{Job: queue.Job{VariantKey: "240p.vp9.webm", ErrorMessage: "ffmpeg exited 1"}, State: queue.StateErrored, Age: time.Hour},
	}
	out := renderStatusTable(statuses, now, false)
	for _, want := range []string{"360p.vp9.webm", "succeeded", "3 minutes ago", "2.0 MiB", "512 kbps", "ffmpeg exited 1", "1 succeeded, 1 errored"} {
		requireContains(t, out, want)
	}
}
