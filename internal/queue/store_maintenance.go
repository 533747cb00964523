package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Stats returns a count of jobs grouped by derived state.
func (s *Store) Stats(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT
		CASE
			WHEN succeeded_at IS NOT NULL THEN 'succeeded'
			WHEN errored_at IS NOT NULL THEN 'errored'
			WHEN started_at IS NOT NULL THEN 'in_progress'
			WHEN queued_at IS NOT NULL THEN 'queued'
			ELSE 'pending'
		END AS state,
		COUNT(1)
		FROM transcode_jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[State]int)
	for rows.Next() {
		var state State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// StateCounts returns Stats keyed by state name with every state present.
func (s *Store) StateCounts(ctx context.Context) (map[string]int, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return stateCounts(stats), nil
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for state, count := range stats {
		health.Total += count
		switch state {
		case StatePending:
			health.Pending += count
		case StateQueued:
			health.Queued += count
		case StateInProgress:
			health.InProgress += count
		case StateSucceeded:
			health.Succeeded += count
		case StateErrored:
			health.Errored += count
		}
	}
	return health, nil
}

// CheckHealth inspects the SQLite file behind the store: schema version,
// expected columns, row count, and PRAGMA quick_check.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("job database path is unknown")
	}
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return health, nil
	}
	if err != nil {
		return health, fmt.Errorf("stat job database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("job database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	ctx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	fail := func(step string, err error) (DatabaseHealth, error) {
		health.Error = err.Error()
		return health, fmt.Errorf("%s: %w", step, err)
	}

	version, err := s.userVersion(ctx)
	if err != nil {
		return fail("ping job database", err)
	}
	health.DatabaseReadable = true
	health.SchemaVersion = strconv.Itoa(version)

	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info('transcode_jobs')")
	if err != nil {
		return fail("table info", err)
	}
	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fail("scan table info", err)
		}
		present[name] = true
		health.ColumnsPresent = append(health.ColumnsPresent, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fail("table info", err)
	}
	health.TableExists = len(present) > 0
	for _, col := range strings.Split(jobColumns, ", ") {
		if !present[col] {
			health.MissingColumns = append(health.MissingColumns, col)
		}
	}

	if health.TableExists {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transcode_jobs").Scan(&health.TotalJobs); err != nil {
			return fail("count jobs", err)
		}
	}

	var check string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&check); err != nil {
		return fail("integrity check", err)
	}
	health.IntegrityCheck = strings.EqualFold(check, "ok")
	return health, nil
}
