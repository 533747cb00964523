package queue

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeLayout is fixed width so that lexical order in SQLite equals time order
// and a token read back compares equal to the stored text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const jobColumns = "asset_id, variant_key, queued_at, started_at, succeeded_at, errored_at, error_message, final_bitrate, remux, manual_override, prioritized"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		assetID        string
		variantKey     string
		queuedRaw      sql.NullString
		startedRaw     sql.NullString
		succeededRaw   sql.NullString
		erroredRaw     sql.NullString
		errorMessage   sql.NullString
		finalBitrate   sql.NullInt64
		remux          sql.NullInt64
		manualOverride sql.NullInt64
		prioritized    sql.NullInt64
	)

	if err := scanner.Scan(
		&assetID,
		&variantKey,
		&queuedRaw,
		&startedRaw,
		&succeededRaw,
		&erroredRaw,
		&errorMessage,
		&finalBitrate,
		&remux,
		&manualOverride,
		&prioritized,
	); err != nil {
		return nil, err
	}

	job := &Job{
		AssetID:      assetID,
		VariantKey:   variantKey,
		ErrorMessage: errorMessage.String,
		FinalBitrate: finalBitrate.Int64,
		Options: Options{
			Remux:          remux.Int64 != 0,
			ManualOverride: manualOverride.Int64 != 0,
			Prioritized:    prioritized.Int64 != 0,
		},
	}

	var err error
	if job.QueuedAt, err = parseNullableTime(queuedRaw); err != nil {
		return nil, fmt.Errorf("parse queued_at: %w", err)
	}
	if job.StartedAt, err = parseNullableTime(startedRaw); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if job.SucceededAt, err = parseNullableTime(succeededRaw); err != nil {
		return nil, fmt.Errorf("parse succeeded_at: %w", err)
	}
	if job.ErroredAt, err = parseNullableTime(erroredRaw); err != nil {
		return nil, fmt.Errorf("parse errored_at: %w", err)
	}
	return job, nil
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseNullableTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
