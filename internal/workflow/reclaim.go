package workflow

import (
	"context"
	"time"

	"transcoder/internal/logging"
	"transcoder/internal/metrics"
)

func (m *Manager) runReclaimer(ctx context.Context) {
	defer m.wg.Done()
	if m.settings.StaleAfter <= 0 {
		return
	}
	interval := m.settings.ReclaimInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := m.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(m.logger, "reclaim stale jobs failed; stuck jobs may remain", "reclaim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check job database access"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ReclaimStale requeues in-progress jobs claimed longer ago than the stale
// threshold and returns how many were requeued.
func (m *Manager) ReclaimStale(ctx context.Context) (int64, error) {
	if m.settings.StaleAfter <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-m.settings.StaleAfter)
	reclaimed, err := m.jobs.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		metrics.ReclaimedJobsTotal.Add(float64(reclaimed))
		m.logger.Info("reclaimed stale jobs",
			logging.String(logging.FieldEventType, "jobs_reclaimed"),
			logging.Int64("count", reclaimed),
			logging.String("cutoff", cutoff.UTC().Format(time.RFC3339)),
		)
	}
	return reclaimed, nil
}
