package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"transcoder/internal/services"
)

const stageQueue = "queue"

// Enqueue records a request for the variant. A row that is still Pending has
// queued_at and options written; a job already queued, running, or terminal is
// left alone and queued reports false.
func (s *Store) Enqueue(ctx context.Context, assetID, variantKey string, opts Options) (bool, error) {
	if err := validateKey(assetID, variantKey); err != nil {
		return false, err
	}
	now := formatTime(s.now())
	affected, err := s.execAffected(ctx, `INSERT INTO transcode_jobs
		(asset_id, variant_key, queued_at, remux, manual_override, prioritized)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (asset_id, variant_key) DO UPDATE SET
			queued_at = excluded.queued_at,
			remux = excluded.remux,
			manual_override = excluded.manual_override,
			prioritized = excluded.prioritized
		WHERE transcode_jobs.queued_at IS NULL
			AND transcode_jobs.started_at IS NULL
			AND transcode_jobs.succeeded_at IS NULL
			AND transcode_jobs.errored_at IS NULL`,
		assetID, variantKey, now,
		boolToInt(opts.Remux), boolToInt(opts.ManualOverride), boolToInt(opts.Prioritized),
	)
	if err != nil {
		return false, fmt.Errorf("enqueue %s/%s: %w", assetID, variantKey, err)
	}
	return affected > 0, nil
}

// Claim marks the job started if no attempt owns it, clearing any failure
// recorded before the claim. The returned token is the exact started_at value
// written. When started_at is already set the error wraps
// services.ErrAlreadyStarted.
func (s *Store) Claim(ctx context.Context, assetID, variantKey string) (Token, error) {
	if err := validateKey(assetID, variantKey); err != nil {
		return Token{}, err
	}
	if err := s.ensureRow(ctx, assetID, variantKey); err != nil {
		return Token{}, err
	}

	stamp := formatTime(s.now())
	affected, err := s.execAffected(ctx,
		`UPDATE transcode_jobs SET
			started_at = ?,
			errored_at = NULL,
			error_message = NULL
		WHERE asset_id = ? AND variant_key = ? AND started_at IS NULL AND succeeded_at IS NULL`,
		stamp, assetID, variantKey,
	)
	if err != nil {
		return Token{}, fmt.Errorf("claim %s/%s: %w", assetID, variantKey, err)
	}
	if affected == 0 {
		return Token{}, services.Wrap(services.ErrAlreadyStarted, stageQueue, "claim",
			fmt.Sprintf("%s/%s already has a running or finished attempt", assetID, variantKey), nil)
	}
	startedAt, err := time.Parse(timeLayout, stamp)
	if err != nil {
		return Token{}, fmt.Errorf("parse claim token: %w", err)
	}
	return Token{AssetID: assetID, VariantKey: variantKey, StartedAt: startedAt}, nil
}

// FinishSuccess records the terminal success for the attempt holding token.
// Any previous error is cleared. If started_at no longer matches the token the
// row is untouched and the error wraps services.ErrRaceDetected.
func (s *Store) FinishSuccess(ctx context.Context, token Token, finalBitrate int64) error {
	now := formatTime(s.now())
	affected, err := s.execAffected(ctx, `UPDATE transcode_jobs SET
			succeeded_at = ?,
			final_bitrate = ?,
			errored_at = NULL,
			error_message = NULL
		WHERE asset_id = ? AND variant_key = ? AND started_at = ?`,
		now, finalBitrate, token.AssetID, token.VariantKey, formatTime(token.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("finish success %s/%s: %w", token.AssetID, token.VariantKey, err)
	}
	if affected == 0 {
		return raceDetected("finish success", token)
	}
	return nil
}

// FinishFailure records the terminal failure for the attempt holding token.
// When the token is stale and the job was reset without a newer attempt
// starting, the message alone is kept so operators can see what happened;
// when a newer attempt owns the row nothing is written. Both stale cases
// return an error wrapping services.ErrRaceDetected.
func (s *Store) FinishFailure(ctx context.Context, token Token, message string) error {
	now := formatTime(s.now())
	affected, err := s.execAffected(ctx, `UPDATE transcode_jobs SET
			errored_at = ?,
			error_message = ?
		WHERE asset_id = ? AND variant_key = ? AND started_at = ?`,
		now, nullableString(message), token.AssetID, token.VariantKey, formatTime(token.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("finish failure %s/%s: %w", token.AssetID, token.VariantKey, err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := s.execWithRetry(ctx,
		`UPDATE transcode_jobs SET error_message = ? WHERE asset_id = ? AND variant_key = ? AND started_at IS NULL`,
		nullableString(message), token.AssetID, token.VariantKey,
	); err != nil {
		return fmt.Errorf("record superseded failure %s/%s: %w", token.AssetID, token.VariantKey, err)
	}
	return raceDetected("finish failure", token)
}

// RecordUnclaimedFailure writes a failure that happened before any claim,
// such as a missing source or an estimated size over the hard limit. The
// write is skipped when an attempt is running, and recorded reports whether
// the row changed.
func (s *Store) RecordUnclaimedFailure(ctx context.Context, assetID, variantKey, message string) (bool, error) {
	if err := validateKey(assetID, variantKey); err != nil {
		return false, err
	}
	if err := s.ensureRow(ctx, assetID, variantKey); err != nil {
		return false, err
	}
	now := formatTime(s.now())
	affected, err := s.execAffected(ctx, `UPDATE transcode_jobs SET
			errored_at = ?,
			error_message = ?
		WHERE asset_id = ? AND variant_key = ? AND started_at IS NULL`,
		now, nullableString(message), assetID, variantKey,
	)
	if err != nil {
		return false, fmt.Errorf("record failure %s/%s: %w", assetID, variantKey, err)
	}
	return affected > 0, nil
}

// Reset returns the job to Pending by clearing every timestamp, the error,
// the bitrate and the enqueue options. Resetting a missing job is a no-op.
func (s *Store) Reset(ctx context.Context, assetID, variantKey string) error {
	if err := validateKey(assetID, variantKey); err != nil {
		return err
	}
	if _, err := s.execWithRetry(ctx, `UPDATE transcode_jobs SET
			queued_at = NULL,
			started_at = NULL,
			succeeded_at = NULL,
			errored_at = NULL,
			error_message = NULL,
			final_bitrate = 0,
			remux = 0,
			manual_override = 0,
			prioritized = 0
		WHERE asset_id = ? AND variant_key = ?`,
		assetID, variantKey,
	); err != nil {
		return fmt.Errorf("reset %s/%s: %w", assetID, variantKey, err)
	}
	return nil
}

// Get fetches a job. A missing row returns nil without error.
func (s *Store) Get(ctx context.Context, assetID, variantKey string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM transcode_jobs WHERE asset_id = ? AND variant_key = ?",
		assetID, variantKey,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", assetID, variantKey, err)
	}
	return job, nil
}

// ListByAsset returns every job for the asset ordered by variant key.
func (s *Store) ListByAsset(ctx context.Context, assetID string) ([]*Job, error) {
	return s.queryJobs(ctx,
		"SELECT "+jobColumns+" FROM transcode_jobs WHERE asset_id = ? ORDER BY variant_key",
		assetID,
	)
}

// ListByState returns jobs in the requested derived states, oldest queued
// first. With no states every job is returned.
func (s *Store) ListByState(ctx context.Context, states ...State) ([]*Job, error) {
	all, err := s.queryJobs(ctx,
		"SELECT "+jobColumns+" FROM transcode_jobs ORDER BY queued_at IS NULL, queued_at, asset_id, variant_key",
	)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return all, nil
	}
	wanted := make(map[State]struct{}, len(states))
	for _, state := range states {
		wanted[state] = struct{}{}
	}
	filtered := all[:0]
	for _, job := range all {
		if _, ok := wanted[job.State()]; ok {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

// NextQueued returns the next job waiting for a worker: prioritized jobs
// first, then oldest queued_at. It returns nil when nothing is waiting.
func (s *Store) NextQueued(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+` FROM transcode_jobs
		WHERE queued_at IS NOT NULL
			AND started_at IS NULL
			AND succeeded_at IS NULL
			AND errored_at IS NULL
		ORDER BY prioritized DESC, queued_at ASC, asset_id, variant_key
		LIMIT 1`)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued job: %w", err)
	}
	return job, nil
}

// ReclaimStale clears started_at on attempts that have been running since
// before cutoff and puts them back in the queue. The straggling worker's
// finish then fails its fencing check.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	now := formatTime(s.now())
	affected, err := s.execAffected(ctx, `UPDATE transcode_jobs SET
			started_at = NULL,
			queued_at = ?
		WHERE started_at IS NOT NULL
			AND started_at < ?
			AND succeeded_at IS NULL
			AND errored_at IS NULL`,
		now, formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return affected, nil
}

func (s *Store) ensureRow(ctx context.Context, assetID, variantKey string) error {
	if _, err := s.execWithRetry(ctx,
		`INSERT OR IGNORE INTO transcode_jobs (asset_id, variant_key) VALUES (?, ?)`,
		assetID, variantKey,
	); err != nil {
		return fmt.Errorf("create job row %s/%s: %w", assetID, variantKey, err)
	}
	return nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func validateKey(assetID, variantKey string) error {
	return services.ValidateJobKey(assetID, variantKey)
}

func raceDetected(op string, token Token) error {
	return services.Wrap(services.ErrRaceDetected, stageQueue, op,
		fmt.Sprintf("%s/%s no longer held by attempt started %s", token.AssetID, token.VariantKey, formatTime(token.StartedAt)), nil)
}
