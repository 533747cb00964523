package workflow

import (
	"context"
	"sort"

	"transcoder/internal/logging"
	"transcoder/internal/transcode"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	Workers     int
	Active      []transcode.JobHandle
	LastError   string
	LastJob     *JobReport
	JobsByState map[string]int
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{Running: m.running, Workers: m.settings.Workers}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastJob != nil {
		report := *m.lastJob
		summary.LastJob = &report
	}
	m.mu.RUnlock()

	m.dispatchMu.Lock()
	for _, h := range m.inflight {
		summary.Active = append(summary.Active, h)
	}
	m.dispatchMu.Unlock()
	sort.Slice(summary.Active, func(i, j int) bool {
		if summary.Active[i].AssetID != summary.Active[j].AssetID {
			return summary.Active[i].AssetID < summary.Active[j].AssetID
		}
		return summary.Active[i].VariantKey < summary.Active[j].VariantKey
	})

	counts, err := m.jobs.StateCounts(ctx)
	if err != nil {
		m.logger.Warn("failed to read job state counts", logging.Error(err))
	}
	summary.JobsByState = counts
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(report JobReport) {
	m.mu.Lock()
	m.lastJob = &report
	m.mu.Unlock()
}
