package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"transcoder/internal/logging"
	"transcoder/internal/queue"
	"transcoder/internal/services"
	"transcoder/internal/transcode"
)

// Start launches the workers and the stale reclaimer.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	if m.jobs == nil || m.runner == nil {
		return errors.New("workflow requires a job store and a runner")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(m.settings.Workers + 1)
	go m.runReclaimer(runCtx)
	for i := range m.settings.Workers {
		go m.runWorker(runCtx, fmt.Sprintf("worker-%d", i+1))
	}
	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_start"),
		logging.Int("workers", m.settings.Workers),
		logging.Duration("stale_after", m.settings.StaleAfter),
	)
	return nil
}

// Stop cancels the workers and waits for them. Jobs interrupted mid-encode
// stay in progress until the reclaimer requeues them.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stop"))
}

func (m *Manager) runWorker(ctx context.Context, name string) {
	defer m.wg.Done()
	ctx = services.WithWorker(ctx, name)
	logger := m.logger.With(logging.String(logging.FieldWorker, name))

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := m.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			logger.Error("failed to fetch next queued job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check job database access"),
			)
			m.wait(ctx, m.settings.ErrorRetry)
			continue
		}
		if job == nil {
			m.wait(ctx, m.settings.PollInterval)
			continue
		}

		if m.process(ctx, logger, *job) {
			m.wait(ctx, m.settings.ErrorRetry)
		}
	}
}

// next reserves the head of the queue for this worker. A job another worker
// is still preparing is not handed out twice.
func (m *Manager) next(ctx context.Context) (*transcode.JobHandle, error) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	job, err := m.jobs.NextQueued(ctx)
	if err != nil || job == nil {
		return nil, err
	}
	key := jobKey(job.AssetID, job.VariantKey)
	if _, busy := m.inflight[key]; busy {
		return nil, nil
	}
	handle := transcode.JobHandle{AssetID: job.AssetID, VariantKey: job.VariantKey}
	m.inflight[key] = handle
	return &handle, nil
}

func (m *Manager) release(h transcode.JobHandle) {
	m.dispatchMu.Lock()
	delete(m.inflight, jobKey(h.AssetID, h.VariantKey))
	m.dispatchMu.Unlock()
}

// process runs one job and reports whether the worker should back off
// because the job is still queued after a failure.
func (m *Manager) process(ctx context.Context, logger *slog.Logger, h transcode.JobHandle) bool {
	defer m.release(h)

	requestID := uuid.NewString()
	jobCtx := services.WithRequestID(ctx, requestID)
	jobLogger := logger.With(
		logging.String(logging.FieldAssetID, h.AssetID),
		logging.String(logging.FieldVariant, h.VariantKey),
		logging.String(logging.FieldCorrelationID, requestID),
	)
	started := m.now()
	jobLogger.Debug("job dispatched", logging.String(logging.FieldEventType, "job_dispatch"))

	outcome, err := m.run(jobCtx, jobLogger, h)

	report := JobReport{Handle: h, Outcome: outcome, Finished: m.now()}
	if err != nil {
		report.Error = err.Error()
	}
	m.setLastJob(report)
	jobLogger.Info("job finished",
		logging.String(logging.FieldEventType, "job_finished"),
		logging.String("outcome", string(outcome)),
		logging.Duration("elapsed", report.Finished.Sub(started)),
	)

	if err == nil || ctx.Err() != nil {
		return false
	}
	m.setLastError(err)
	job, getErr := m.jobs.Get(ctx, h.AssetID, h.VariantKey)
	if getErr != nil {
		return true
	}
	return job.State() == queue.StateQueued
}

// run calls the runner, turning a panic into a failed outcome.
func (m *Manager) run(ctx context.Context, logger *slog.Logger, h transcode.JobHandle) (outcome transcode.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job runner panicked",
				logging.String(logging.FieldEventType, "job_panic"),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			outcome = transcode.OutcomeFailed
			err = services.Wrap(services.ErrTransient, "workflow", "run job", fmt.Sprintf("runner panic: %v", r), nil)
		}
	}()
	return m.runner.Run(ctx, h)
}

func (m *Manager) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = 10 * time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func jobKey(assetID, variantKey string) string {
	return assetID + "\x00" + variantKey
}
