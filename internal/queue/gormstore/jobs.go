package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"transcoder/internal/queue"
	"transcoder/internal/services"
)

const stageStore = "gormstore"

const keyWhere = "asset_id = ? AND variant_key = ?"

// Enqueue queues a Pending job. Queued, running and terminal jobs are left
// alone and queued reports false.
func (s *Store) Enqueue(ctx context.Context, assetID, variantKey string, opts queue.Options) (bool, error) {
	if err := validateKey(assetID, variantKey); err != nil {
		return false, err
	}
	now := s.stamp()
	row := jobRow{
		AssetID:        assetID,
		VariantKey:     variantKey,
		QueuedAt:       &now,
		Remux:          opts.Remux,
		ManualOverride: opts.ManualOverride,
		Prioritized:    opts.Prioritized,
	}
	created := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if created.Error != nil {
		return false, fmt.Errorf("enqueue %s/%s: %w", assetID, variantKey, created.Error)
	}
	if created.RowsAffected > 0 {
		return true, nil
	}

	result := s.db.WithContext(ctx).Model(&jobRow{}).
		Where(keyWhere, assetID, variantKey).
		Where("queued_at IS NULL AND started_at IS NULL AND succeeded_at IS NULL AND errored_at IS NULL").
		Updates(map[string]any{
			"queued_at":       now,
			"remux":           opts.Remux,
			"manual_override": opts.ManualOverride,
			"prioritized":     opts.Prioritized,
		})
	if result.Error != nil {
		return false, fmt.Errorf("enqueue %s/%s: %w", assetID, variantKey, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Claim writes started_at when no attempt owns the job and returns it as the
// fencing token.
func (s *Store) Claim(ctx context.Context, assetID, variantKey string) (queue.Token, error) {
	if err := validateKey(assetID, variantKey); err != nil {
		return queue.Token{}, err
	}
	if err := s.ensureRow(ctx, assetID, variantKey); err != nil {
		return queue.Token{}, err
	}
	startedAt := s.stamp()
	result := s.db.WithContext(ctx).Model(&jobRow{}).
		Where(keyWhere, assetID, variantKey).
		Where("started_at IS NULL AND succeeded_at IS NULL").
		Updates(map[string]any{
			"started_at":    startedAt,
			"errored_at":    nil,
			"error_message": nil,
		})
	if result.Error != nil {
		return queue.Token{}, fmt.Errorf("claim %s/%s: %w", assetID, variantKey, result.Error)
	}
	if result.RowsAffected == 0 {
		return queue.Token{}, services.Wrap(services.ErrAlreadyStarted, stageStore, "claim",
			fmt.Sprintf("%s/%s already has a running or finished attempt", assetID, variantKey), nil)
	}
	return queue.Token{AssetID: assetID, VariantKey: variantKey, StartedAt: startedAt}, nil
}

// FinishSuccess records success when the token still owns the job.
func (s *Store) FinishSuccess(ctx context.Context, token queue.Token, finalBitrate int64) error {
	result := s.db.WithContext(ctx).Model(&jobRow{}).
		Where(keyWhere+" AND started_at = ?", token.AssetID, token.VariantKey, tokenTime(token)).
		Updates(map[string]any{
			"succeeded_at":  s.stamp(),
			"final_bitrate": finalBitrate,
			"errored_at":    nil,
			"error_message": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("finish success %s/%s: %w", token.AssetID, token.VariantKey, result.Error)
	}
	if result.RowsAffected == 0 {
		return raceDetected("finish success", token)
	}
	return nil
}

// FinishFailure records failure when the token still owns the job. A stale
// token keeps only the message, and only if no newer attempt has started.
func (s *Store) FinishFailure(ctx context.Context, token queue.Token, message string) error {
	result := s.db.WithContext(ctx).Model(&jobRow{}).
		Where(keyWhere+" AND started_at = ?", token.AssetID, token.VariantKey, tokenTime(token)).
		Updates(map[string]any{
			"errored_at":    s.stamp(),
			"error_message": nullableString(message),
		})
	if result.Error != nil {
		return fmt.Errorf("finish failure %s/%s: %w", token.AssetID, token.VariantKey, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).Model(&jobRow{}).
		Where(keyWhere+" AND started_at IS NULL", token.AssetID, token.VariantKey).
		Update("error_message", nullableString(message)).Error; err != nil {
		return fmt.Errorf("record superseded failure %s/%s: %w", token.AssetID, token.VariantKey, err)
	}
	return raceDetected("finish failure", token)
}

// RecordUnclaimedFailure records a pre-claim failure unless an attempt runs.
func (s *Store) RecordUnclaimedFailure(ctx context.Context, assetID, variantKey, message string) (bool, error) {
	if err := validateKey(assetID, variantKey); err != nil {
		return false, err
	}
	if err := s.ensureRow(ctx, assetID, variantKey); err != nil {
		return false, err
	}
	result := s.db.WithContext(ctx).Model(&jobRow{}).
		Where(keyWhere+" AND started_at IS NULL", assetID, variantKey).
		Updates(map[string]any{
			"errored_at":    s.stamp(),
			"error_message": nullableString(message),
		})
	if result.Error != nil {
		return false, fmt.Errorf("record failure %s/%s: %w", assetID, variantKey, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Reset returns the job to Pending.
func (s *Store) Reset(ctx context.Context, assetID, variantKey string) error {
	if err := validateKey(assetID, variantKey); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(&jobRow{}).
		Where(keyWhere, assetID, variantKey).
		Updates(map[string]any{
			"queued_at":       nil,
			"started_at":      nil,
			"succeeded_at":    nil,
			"errored_at":      nil,
			"error_message":   nil,
			"final_bitrate":   0,
			"remux":           false,
			"manual_override": false,
			"prioritized":     false,
		}).Error; err != nil {
		return fmt.Errorf("reset %s/%s: %w", assetID, variantKey, err)
	}
	return nil
}

// Get fetches a job; a missing row returns nil without error.
func (s *Store) Get(ctx context.Context, assetID, variantKey string) (*queue.Job, error) {
	var row jobRow
	err := s.db.WithContext(ctx).Where(keyWhere, assetID, variantKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", assetID, variantKey, err)
	}
	return row.toJob(), nil
}

// ListByAsset returns every job for the asset ordered by variant key.
func (s *Store) ListByAsset(ctx context.Context, assetID string) ([]*queue.Job, error) {
	var rows []jobRow
	if err := s.db.WithContext(ctx).Where("asset_id = ?", assetID).Order("variant_key").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list %s: %w", assetID, err)
	}
	return toJobs(rows), nil
}

// ListByState returns jobs in the requested derived states.
func (s *Store) ListByState(ctx context.Context, states ...queue.State) ([]*queue.Job, error) {
	var rows []jobRow
	if err := s.db.WithContext(ctx).Order("asset_id, variant_key").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := toJobs(rows)
	if len(states) == 0 {
		return jobs, nil
	}
	wanted := make(map[queue.State]struct{}, len(states))
	for _, state := range states {
		wanted[state] = struct{}{}
	}
	filtered := jobs[:0]
	for _, job := range jobs {
		if _, ok := wanted[job.State()]; ok {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

// NextQueued returns the next waiting job, prioritized first then oldest.
func (s *Store) NextQueued(ctx context.Context) (*queue.Job, error) {
	var row jobRow
	err := s.db.WithContext(ctx).
		Where("queued_at IS NOT NULL AND started_at IS NULL AND succeeded_at IS NULL AND errored_at IS NULL").
		Order("prioritized DESC").Order("queued_at ASC").Order("asset_id").Order("variant_key").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued job: %w", err)
	}
	return row.toJob(), nil
}

// ReclaimStale requeues attempts started before cutoff.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("started_at IS NOT NULL AND started_at < ? AND succeeded_at IS NULL AND errored_at IS NULL",
			cutoff.UTC().Truncate(time.Microsecond)).
		Updates(map[string]any{
			"started_at": nil,
			"queued_at":  s.stamp(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Health counts jobs by derived state.
func (s *Store) Health(ctx context.Context) (queue.HealthSummary, error) {
	jobs, err := s.ListByState(ctx)
	if err != nil {
		return queue.HealthSummary{}, err
	}
	var health queue.HealthSummary
	for _, job := range jobs {
		health.Total++
		switch job.State() {
		case queue.StatePending:
			health.Pending++
		case queue.StateQueued:
			health.Queued++
		case queue.StateInProgress:
			health.InProgress++
		case queue.StateSucceeded:
			health.Succeeded++
		case queue.StateErrored:
			health.Errored++
		}
	}
	return health, nil
}

func (s *Store) ensureRow(ctx context.Context, assetID, variantKey string) error {
	row := jobRow{AssetID: assetID, VariantKey: variantKey}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("create job row %s/%s: %w", assetID, variantKey, err)
	}
	return nil
}

func toJobs(rows []jobRow) []*queue.Job {
	jobs := make([]*queue.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].toJob())
	}
	return jobs
}

func tokenTime(token queue.Token) time.Time {
	return token.StartedAt.UTC().Truncate(time.Microsecond)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func validateKey(assetID, variantKey string) error {
	return services.ValidateJobKey(assetID, variantKey)
}

func raceDetected(op string, token queue.Token) error {
	return services.Wrap(services.ErrRaceDetected, stageStore, op,
		fmt.Sprintf("%s/%s no longer held by attempt started %s",
			token.AssetID, token.VariantKey, token.StartedAt.UTC().Format(time.RFC3339Nano)), nil)
}

// StateCounts returns job counts keyed by state name.
func (s *Store) StateCounts(ctx context.Context) (map[string]int, error) {
	health, err := s.Health(ctx)
	if err != nil {
		return nil, err
	}
	return health.Counts(), nil
}
