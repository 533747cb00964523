package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"transcoder/internal/asset"
	"transcoder/internal/encoding"
	"transcoder/internal/hls"
	"transcoder/internal/logging"
	"transcoder/internal/metrics"
	"transcoder/internal/publish"
	"transcoder/internal/queue"
	"transcoder/internal/services"
	"transcoder/internal/variant"
)

const stageTranscode = "transcode"

// sourceMaterial is what the encoder reads: the asset itself or an existing
// derivative whose video track can be copied.
type sourceMaterial struct {
	Path    string
	Remuxed bool
	From    string
}

// Run executes the job identified by h.
func (o *Orchestrator) Run(ctx context.Context, h JobHandle) (Outcome, error) {
	return o.RunJob(ctx, h.AssetID, h.VariantKey)
}

// RunJob produces one derivative. Failures are recorded on the job and
// returned alongside OutcomeFailed. Losing the claim or the fencing race is
// not an error and reports OutcomeSkipped or OutcomeSuperseded.
func (o *Orchestrator) RunJob(ctx context.Context, assetID, variantKey string) (outcome Outcome, err error) {
	ctx = services.WithAssetID(ctx, assetID)
	ctx = services.WithVariant(ctx, variantKey)
	logger := logging.WithContext(ctx, o.logger)
	defer func() {
		metrics.JobsTotal.WithLabelValues(variantKey, string(outcome)).Inc()
	}()
	if err := services.ValidateJobKey(assetID, variantKey); err != nil {
		logging.WarnWithContext(logger, "rejected unsafe job key", "job_rejected", logging.Error(err))
		return OutcomeFailed, err
	}
	// Panics past the claim are handled by execute.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("transcode panicked before claim",
				logging.String(logging.FieldEventType, "job_panic"),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			outcome, err = o.abandon(ctx, logger, assetID, variantKey, services.Wrap(services.ErrTransient, stageTranscode, "prepare",
				fmt.Sprintf("unexpected fault: %v", r), nil))
		}
	}()

	spec, ok := o.catalog.Lookup(variantKey)
	if !ok {
		return o.abandon(ctx, logger, assetID, variantKey, services.Wrap(services.ErrConfiguration, stageTranscode, "lookup variant",
			fmt.Sprintf("Transcode key %s not found, skipping", variantKey), nil))
	}

	src, err := o.assets.Lookup(ctx, assetID)
	if err != nil {
		return o.abandon(ctx, logger, assetID, variantKey, err)
	}
	if _, err := os.Stat(src.Path); err != nil {
		return o.abandon(ctx, logger, assetID, variantKey, services.Wrap(services.ErrSourceUnavailable, stageTranscode, "check source",
			"source file is missing", err))
	}

	job, err := o.jobs.Get(ctx, assetID, variantKey)
	if err != nil {
		return OutcomeFailed, services.Wrap(services.ErrTransient, stageTranscode, "load job", "read job state", err)
	}
	var opts queue.Options
	if job != nil {
		opts = job.Options
	}

	material := o.resolveSource(ctx, logger, src, spec, opts)
	params, err := o.deriver.Derive(encoding.Request{
		Asset:          src,
		Variant:        spec,
		ManualOverride: opts.ManualOverride,
		RemuxSource:    remuxPath(material),
	})
	if err != nil {
		return o.abandon(ctx, logger, assetID, variantKey, err)
	}

	token, err := o.jobs.Claim(ctx, assetID, variantKey)
	if errors.Is(err, services.ErrAlreadyStarted) {
		logger.Info("job already started elsewhere, skipping",
			logging.String(logging.FieldEventType, "job_skipped"),
		)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}
	logger.Info("job claimed",
		logging.String(logging.FieldEventType, "job_claimed"),
		logging.String("mode", params.Mode.String()),
		logging.Bool("remux", material.Remuxed),
		logging.String("remux_from", material.From),
		logging.Int64("estimated_kib", params.EstimatedKiB),
	)
	return o.execute(ctx, token, src, spec, params)
}

// execute runs the claimed attempt. The scratch directory is removed on
// every exit path, including a recovered panic.
func (o *Orchestrator) execute(ctx context.Context, token queue.Token, src asset.Asset, spec variant.Spec, params encoding.Params) (outcome Outcome, err error) {
	metrics.JobsInProgress.Inc()
	started := o.now()
	defer func() {
		metrics.JobsInProgress.Dec()
		metrics.JobDuration.WithLabelValues(spec.Key).Observe(time.Since(started).Seconds())
	}()

	ctx = services.WithStage(ctx, stageTranscode)
	logger, closeLog := o.jobLogger(ctx)
	defer closeLog()

	work, err := os.MkdirTemp(o.opts.ScratchDir, "job-*")
	if err != nil {
		return o.fail(ctx, logger, token, services.Wrap(services.ErrTransient, stageTranscode, "create scratch", o.opts.ScratchDir, err))
	}
	defer func() {
		if rmErr := os.RemoveAll(work); rmErr != nil {
			logging.WarnWithContext(logger, "failed to remove scratch directory", "scratch_cleanup_failed",
				logging.String("path", work),
				logging.Error(rmErr),
			)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("transcode panicked",
				logging.String(logging.FieldEventType, "job_panic"),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			outcome, err = o.fail(ctx, logger, token, services.Wrap(services.ErrTransient, stageTranscode, "run",
				fmt.Sprintf("unexpected fault: %v", r), nil))
		}
	}()

	output := filepath.Join(work, publish.ObjectName(token.AssetID, token.VariantKey))

	// No pooled connection may sit idle through a multi-hour encode.
	o.jobs.ReleaseIdle()
	encodeStart := time.Now()
	err = o.encoder.Execute(ctx, encoding.ExecRequest{
		Params:     params,
		OutputPath: output,
		WorkDir:    work,
		OnLine: func(line string) {
			logger.Debug("encoder output", logging.String("line", line))
		},
	})
	metrics.EncodeDuration.WithLabelValues(params.Mode.String()).Observe(time.Since(encodeStart).Seconds())
	if err != nil {
		return o.fail(ctx, logger, token, err)
	}

	var playlist string
	if spec.IsHLS() {
		result, err := o.segmenter.Segment(ctx, hls.Request{
			MediaPath:     output,
			URI:           filepath.Base(output),
			FixedInterval: spec.IsAudioOnly() || spec.Intraframe,
		})
		if err != nil {
			return o.fail(ctx, logger, token, err)
		}
		metrics.SegmentsTotal.Add(float64(len(result.Segments)))
		playlist = result.PlaylistPath
	}

	duration := src.Duration
	if duration <= 0 {
		if probed, err := o.assets.ProbeDuration(ctx, output); err == nil {
			duration = probed
		} else {
			logger.Debug("output duration probe failed", logging.Error(err))
		}
	}

	o.jobs.ReleaseIdle()
	result, err := o.publisher.Commit(ctx, publish.Request{
		Token:        token,
		Variant:      spec,
		MediaPath:    output,
		PlaylistPath: playlist,
		Duration:     duration,
	})
	if err != nil {
		return o.fail(ctx, logger, token, err)
	}

	logger.Info("transcode succeeded",
		logging.String(logging.FieldEventType, "job_succeeded"),
		logging.String("url", result.URL),
		logging.Int64("bitrate", result.Bitrate),
		logging.Duration("elapsed", time.Since(started)),
	)
	return OutcomeSucceeded, nil
}

// fail records cause against token. A fencing mismatch on the write means
// the attempt was superseded and is reported as such.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, token queue.Token, cause error) (Outcome, error) {
	if errors.Is(cause, services.ErrRaceDetected) {
		logger.Info("job reset or restarted during encode, result discarded",
			logging.String(logging.FieldEventType, "job_superseded"),
			logging.String("reason", cause.Error()),
		)
		return OutcomeSuperseded, nil
	}
	if ctx.Err() != nil && errors.Is(cause, context.Canceled) {
		logger.Info("transcode interrupted by shutdown; left for the stale reclaimer",
			logging.String(logging.FieldEventType, "job_interrupted"),
		)
		return OutcomeFailed, cause
	}

	kind := queue.FailureKind(cause)
	metrics.JobFailuresTotal.WithLabelValues(kind).Inc()
	err := o.jobs.FinishFailure(context.WithoutCancel(ctx), token, queue.FailureMessage(cause))
	switch {
	case errors.Is(err, services.ErrRaceDetected):
		logger.Info("job reset during failing attempt, failure not recorded as terminal",
			logging.String(logging.FieldEventType, "job_superseded"),
			logging.String(logging.FieldFailureKind, kind),
		)
		return OutcomeSuperseded, nil
	case err != nil:
		logger.Error("failed to persist job failure",
			logging.String(logging.FieldEventType, "job_failure_persist_failed"),
			logging.Error(err),
		)
	}

	logging.ErrorWithContext(logger, "transcode failed", "job_failed",
		logging.String(logging.FieldFailureKind, kind),
		logging.Error(cause),
	)
	return OutcomeFailed, cause
}

// abandon records a failure found before the claim. The record is skipped
// when another attempt is running.
func (o *Orchestrator) abandon(ctx context.Context, logger *slog.Logger, assetID, variantKey string, cause error) (Outcome, error) {
	kind := queue.FailureKind(cause)
	metrics.JobFailuresTotal.WithLabelValues(kind).Inc()
	recorded, err := o.jobs.RecordUnclaimedFailure(ctx, assetID, variantKey, queue.FailureMessage(cause))
	if err != nil {
		logger.Error("failed to record job failure",
			logging.String(logging.FieldEventType, "job_failure_persist_failed"),
			logging.Error(err),
		)
	}
	logging.ErrorWithContext(logger, "transcode abandoned before start", "job_abandoned",
		logging.String(logging.FieldFailureKind, kind),
		logging.Bool("recorded", recorded),
		logging.Error(cause),
	)
	return OutcomeFailed, cause
}

// resolveSource picks the first published RemuxFrom derivative when the job
// asked for a remux.
func (o *Orchestrator) resolveSource(ctx context.Context, logger *slog.Logger, src asset.Asset, spec variant.Spec, opts queue.Options) sourceMaterial {
	material := sourceMaterial{Path: src.Path}
	if !opts.Remux || len(spec.RemuxFrom) == 0 || o.derivatives == nil {
		return material
	}
	for _, alt := range spec.RemuxFrom {
		name := publish.ObjectName(src.ID, alt)
		ok, err := o.derivatives.Exists(src.ID, name)
		if err != nil {
			logging.WarnWithContext(logger, "remux candidate check failed", "remux_check_failed",
				logging.String("candidate", alt),
				logging.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}
		local, err := o.derivatives.LocalPath(src.ID, name)
		if err != nil {
			logging.WarnWithContext(logger, "remux candidate path rejected", "remux_check_failed",
				logging.String("candidate", alt),
				logging.Error(err),
			)
			continue
		}
		return sourceMaterial{Path: local, Remuxed: true, From: alt}
	}
	logger.Debug("no remux source available, encoding from the original", logging.Any("candidates", spec.RemuxFrom))
	return material
}

func remuxPath(m sourceMaterial) string {
	if !m.Remuxed {
		return ""
	}
	return m.Path
}

func (o *Orchestrator) jobLogger(ctx context.Context) (*slog.Logger, func()) {
	base := logging.WithContext(ctx, o.logger)
	if !o.opts.JobLogs {
		return base, func() {}
	}
	assetID, _ := services.AssetIDFromContext(ctx)
	variantKey, _ := services.VariantFromContext(ctx)
	logger, closer, err := logging.OpenJobLog(base, o.opts.LogDir, assetID, variantKey)
	if err != nil {
		logging.WarnWithContext(base, "job log unavailable", "job_log_failed", logging.Error(err))
		return base, func() {}
	}
	return logger, func() { closeQuietly(closer) }
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
