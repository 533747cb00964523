package transcode

import (
	"context"
	"fmt"
	"time"

	"transcoder/internal/asset"
	"transcoder/internal/logging"
	"transcoder/internal/publish"
	"transcoder/internal/queue"
	"transcoder/internal/services"
)

// Status is one row of an asset's status table.
type Status struct {
	Job   queue.Job
	State queue.State
	// Age is the time since the last transition.
	Age  time.Duration
	Size int64
	URL  string
}

// Enqueue queues one variant of an asset. It reports false when the job is
// already queued, running or finished.
func (o *Orchestrator) Enqueue(ctx context.Context, assetID, variantKey string, opts EnqueueOptions) (bool, error) {
	if _, ok := o.catalog.Lookup(variantKey); !ok {
		return false, services.Wrap(services.ErrConfiguration, stageTranscode, "enqueue",
			fmt.Sprintf("unknown variant %q", variantKey), nil)
	}
	queued, err := o.jobs.Enqueue(ctx, assetID, variantKey, opts)
	if err != nil {
		return false, err
	}
	logging.WithContext(services.WithVariant(services.WithAssetID(ctx, assetID), variantKey), o.logger).Debug("enqueue requested",
		logging.String(logging.FieldEventType, "job_enqueue"),
		logging.Bool("queued", queued),
		logging.Bool("remux", opts.Remux),
		logging.Bool("prioritized", opts.Prioritized),
	)
	return queued, nil
}

// EnqueueAsset queues every enabled variant that suits the asset and returns
// the keys that were newly queued.
func (o *Orchestrator) EnqueueAsset(ctx context.Context, assetID string, opts EnqueueOptions) ([]string, error) {
	src, err := o.assets.Lookup(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if !asset.Transcodable(src, o.opts.TranscodeEnabled, o.opts.EnabledAudio) {
		return nil, services.Wrap(services.ErrConfiguration, stageTranscode, "enqueue asset",
			fmt.Sprintf("%s is not transcodable with the enabled variant sets", assetID), nil)
	}

	var queued []string
	for _, key := range o.ApplicableVariants(src) {
		ok, err := o.jobs.Enqueue(ctx, assetID, key, opts)
		if err != nil {
			return queued, err
		}
		if ok {
			queued = append(queued, key)
		}
	}
	logging.WithContext(services.WithAssetID(ctx, assetID), o.logger).Info("asset enqueued",
		logging.String(logging.FieldEventType, "asset_enqueue"),
		logging.Int("variants", len(queued)),
	)
	return queued, nil
}

// ApplicableVariants lists the enabled variants for src. Audio sources get
// audio variants only. Video variants taller than the source are skipped,
// except the smallest so every video gets at least one derivative.
func (o *Orchestrator) ApplicableVariants(src asset.Asset) []string {
	var video []string
	if !src.IsAudio() && o.opts.TranscodeEnabled {
		video = o.opts.EnabledVideo
	}
	keys := o.catalog.Enabled(video, o.opts.EnabledAudio)

	smallest := 0
	for _, key := range keys {
		spec, _ := o.catalog.Lookup(key)
		if h := spec.TargetHeight(); !spec.NoVideo && h > 0 && (smallest == 0 || h < smallest) {
			smallest = h
		}
	}

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		spec, _ := o.catalog.Lookup(key)
		if spec.NoVideo {
			out = append(out, key)
			continue
		}
		h := spec.TargetHeight()
		if src.Height > 0 && h > src.Height && h != smallest {
			continue
		}
		out = append(out, key)
	}
	return out
}

// GetState returns the job, or a Pending job when none is recorded.
func (o *Orchestrator) GetState(ctx context.Context, assetID, variantKey string) (queue.Job, error) {
	job, err := o.jobs.Get(ctx, assetID, variantKey)
	if err != nil {
		return queue.Job{}, err
	}
	if job == nil {
		return queue.Job{AssetID: assetID, VariantKey: variantKey}, nil
	}
	return *job, nil
}

// ListStates returns the status table for an asset in display order.
func (o *Orchestrator) ListStates(ctx context.Context, assetID string) ([]Status, error) {
	jobs, err := o.jobs.ListByAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*queue.Job, len(jobs))
	keys := make([]string, 0, len(jobs))
	for _, job := range jobs {
		byKey[job.VariantKey] = job
		keys = append(keys, job.VariantKey)
	}

	now := o.now()
	out := make([]Status, 0, len(keys))
	for _, key := range o.catalog.SortForDisplay(keys) {
		job := byKey[key]
		status := Status{Job: *job, State: job.State()}
		if ts := lastTransition(job); ts != nil {
			status.Age = now.Sub(*ts)
		}
		if status.State == queue.StateSucceeded && o.derivatives != nil {
			name := publish.ObjectName(assetID, key)
			if size, err := o.derivatives.Size(assetID, name); err == nil {
				status.Size = size
			}
			status.URL = o.derivatives.URL(assetID, name)
		}
		out = append(out, status)
	}
	return out, nil
}

// Reset returns a job to Pending. A running attempt keeps encoding but its
// result is discarded at finish.
func (o *Orchestrator) Reset(ctx context.Context, assetID, variantKey string) error {
	if err := o.jobs.Reset(ctx, assetID, variantKey); err != nil {
		return err
	}
	logging.WithContext(services.WithVariant(services.WithAssetID(ctx, assetID), variantKey), o.logger).Info("job reset",
		logging.String(logging.FieldEventType, "job_reset"),
	)
	return nil
}

func lastTransition(job *queue.Job) *time.Time {
	for _, ts := range []*time.Time{job.SucceededAt, job.ErroredAt, job.StartedAt, job.QueuedAt} {
		if ts != nil {
			return ts
		}
	}
	return nil
}
