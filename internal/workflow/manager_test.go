package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"transcoder/internal/queue"
	"transcoder/internal/services"
	"transcoder/internal/testsupport"
	"transcoder/internal/transcode"
	"transcoder/internal/workflow"
)

// storeRunner claims and finishes jobs directly against the store.
type storeRunner struct {
	store *queue.Store

	mu    sync.Mutex
	runs  map[transcode.JobHandle]int
	fail  map[string]error
	block bool
}

func newStoreRunner(store *queue.Store) *storeRunner {
	return &storeRunner{store: store, runs: map[transcode.JobHandle]int{}, fail: map[string]error{}}
}

func (r *storeRunner) Run(ctx context.Context, h transcode.JobHandle) (transcode.Outcome, error) {
	token, err := r.store.Claim(ctx, h.AssetID, h.VariantKey)
	if errors.Is(err, services.ErrAlreadyStarted) {
		return transcode.OutcomeSkipped, nil
	}
	if err != nil {
		return transcode.OutcomeFailed, err
	}
	r.mu.Lock()
	r.runs[h]++
	failErr := r.fail[h.VariantKey]
	block := r.block
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return transcode.OutcomeFailed, ctx.Err()
	}
	if failErr != nil {
		if err := r.store.FinishFailure(ctx, token, failErr.Error()); err != nil {
			return transcode.OutcomeFailed, err
		}
		return transcode.OutcomeFailed, failErr
	}
	if err := r.store.FinishSuccess(ctx, token, 1000); err != nil {
		return transcode.OutcomeFailed, err
	}
	return transcode.OutcomeSucceeded, nil
}

func (r *storeRunner) runCount() (total int, most int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.runs {
		total += n
		if n > most {
			most = n
		}
	}
	return total, most
}

func fastSettings(workers int) workflow.Settings {
	return workflow.Settings{
		Workers:         workers,
		PollInterval:    10 * time.Millisecond,
		ErrorRetry:      20 * time.Millisecond,
		StaleAfter:      time.Hour,
		ReclaimInterval: time.Hour,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManagerDrainsQueueOnceEach(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for i := range 6 {
		if _, err := store.Enqueue(ctx, fmt.Sprintf("clip%d.webm", i), "360p.webm", queue.Options{}); err != nil {
			t.Fatal(err)
		}
	}
	runner := newStoreRunner(store)
	mgr := workflow.NewManager(fastSettings(3), store, runner, nil)
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)

	waitFor(t, "all jobs to succeed", func() bool {
		jobs, err := store.ListByState(ctx, queue.StateSucceeded)
		return err == nil && len(jobs) == 6
	})
	mgr.Stop()

	total, most := runner.runCount()
	if total != 6 || most != 1 {
		t.Fatalf("runs = %d (max per job %d), want 6 single runs", total, most)
	}
	status := mgr.Status(ctx)
	if status.Running || status.JobsByState[string(queue.StateSucceeded)] != 6 || status.LastJob == nil {
		t.Fatalf("status = %+v", status)
	}
}

func TestManagerStartTwiceFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(fastSettings(1), store, newStoreRunner(store), nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Stop)
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestManagerRecordsFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, "clip.webm", "360p.webm", queue.Options{}); err != nil {
		t.Fatal(err)
	}
	runner := newStoreRunner(store)
	runner.fail["360p.webm"] = services.Wrap(services.ErrSandboxExecution, "encode", "run", "ffmpeg exited with status 1", nil)

	mgr := workflow.NewManager(fastSettings(1), store, runner, nil)
	if err := mgr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Stop)

	waitFor(t, "job to error", func() bool {
		job, err := store.Get(ctx, "clip.webm", "360p.webm")
		return err == nil && job.State() == queue.StateErrored
	})
	waitFor(t, "status to report the failure", func() bool {
		status := mgr.Status(ctx)
		return status.LastJob != nil && status.LastJob.Outcome == transcode.OutcomeFailed && status.LastError != ""
	})
	if total, _ := runner.runCount(); total != 1 {
		t.Fatalf("errored job ran %d times", total)
	}
}

// panickingRunner panics on the first run of one variant, then defers to
// the wrapped runner.
type panickingRunner struct {
	*storeRunner
	variant  string
	panicked bool
}

func (r *panickingRunner) Run(ctx context.Context, h transcode.JobHandle) (transcode.Outcome, error) {
	r.mu.Lock()
	trip := h.VariantKey == r.variant && !r.panicked
	if trip {
		r.panicked = true
	}
	r.mu.Unlock()
	if trip {
		panic("nil map write")
	}
	return r.storeRunner.Run(ctx, h)
}

func TestWorkerSurvivesRunnerPanic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for _, v := range []string{"360p.webm", "720p.webm"} {
		if _, err := store.Enqueue(ctx, "clip.webm", v, queue.Options{}); err != nil {
			t.Fatal(err)
		}
	}
	runner := &panickingRunner{storeRunner: newStoreRunner(store), variant: "360p.webm"}

	mgr := workflow.NewManager(fastSettings(1), store, runner, nil)
	if err := mgr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Stop)

	waitFor(t, "both jobs to finish", func() bool {
		for _, v := range []string{"360p.webm", "720p.webm"} {
			job, err := store.Get(ctx, "clip.webm", v)
			if err != nil || job.State() != queue.StateSucceeded {
				return false
			}
		}
		return true
	})
	status := mgr.Status(ctx)
	if !status.Running {
		t.Fatal("manager stopped after a runner panic")
	}
	if status.LastError == "" {
		t.Fatal("runner panic not reported in status")
	}
}

func TestStopLeavesInterruptedJobInProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, "long.webm", "1080p.vp9.webm", queue.Options{}); err != nil {
		t.Fatal(err)
	}
	runner := newStoreRunner(store)
	runner.block = true

	mgr := workflow.NewManager(fastSettings(1), store, runner, nil)
	if err := mgr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "job to be claimed", func() bool {
		job, err := store.Get(ctx, "long.webm", "1080p.vp9.webm")
		return err == nil && job.State() == queue.StateInProgress
	})
	if active := mgr.Status(ctx).Active; len(active) != 1 || active[0].AssetID != "long.webm" {
		t.Fatalf("active = %+v", active)
	}
	mgr.Stop()

	job, err := store.Get(ctx, "long.webm", "1080p.vp9.webm")
	if err != nil {
		t.Fatal(err)
	}
	if job.State() != queue.StateInProgress {
		t.Fatalf("state after shutdown = %s, want in_progress", job.State())
	}
}

func TestReclaimStaleRequeuesAndFencesOldAttempt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	store.SetClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	stale := testsupport.MustClaim(t, store, "clip.webm", "360p.webm")
	store.SetClock(time.Now)
	fresh := testsupport.MustClaim(t, store, "other.webm", "360p.webm")

	mgr := workflow.NewManager(fastSettings(1), store, newStoreRunner(store), nil)
	reclaimed, err := mgr.ReclaimStale(ctx)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}

	job, err := store.Get(ctx, "clip.webm", "360p.webm")
	if err != nil || job.State() != queue.StateQueued {
		t.Fatalf("stale job = %+v, %v", job, err)
	}
	if err := store.FinishSuccess(ctx, stale, 1); !errors.Is(err, services.ErrRaceDetected) {
		t.Fatalf("old attempt finish = %v, want race detected", err)
	}
	if err := store.FinishSuccess(ctx, fresh, 1); err != nil {
		t.Fatalf("fresh attempt finish: %v", err)
	}
}

func TestReclaimDisabledWithoutThreshold(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	settings := fastSettings(1)
	settings.StaleAfter = 0

	store.SetClock(func() time.Time { return time.Now().Add(-48 * time.Hour) })
	testsupport.MustClaim(t, store, "clip.webm", "360p.webm")

	mgr := workflow.NewManager(settings, store, newStoreRunner(store), nil)
	if n, err := mgr.ReclaimStale(context.Background()); err != nil || n != 0 {
		t.Fatalf("ReclaimStale = %d, %v", n, err)
	}
}
