package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// JobLogDir returns the directory holding per-job log files.
func JobLogDir(logDir string) string {
	return filepath.Join(logDir, "jobs")
}

// JobLogPath returns the per-job log location for an asset/variant pair.
func JobLogPath(logDir, assetID, variantKey string) string {
	return filepath.Join(JobLogDir(logDir), sanitizeName(assetID)+"."+sanitizeName(variantKey)+".log")
}

// OpenJobLog tees base into an appended JSON log file dedicated to one job. The
// returned closer must be called once the job finishes.
func OpenJobLog(base *slog.Logger, logDir, assetID, variantKey string) (*slog.Logger, io.Closer, error) {
	if strings.TrimSpace(logDir) == "" {
		return base, io.NopCloser(nil), nil
	}
	file, err := openAppend(JobLogPath(logDir, assetID, variantKey))
	if err != nil {
		return base, io.NopCloser(nil), err
	}
	return TeeLogger(base, newJSONHandler(file, slog.LevelDebug, false)), file, nil
}

// PruneJobLogs removes per-job log files not written to in retentionDays
// days and returns how many were removed. Zero days keeps everything.
func PruneJobLogs(logger *slog.Logger, logDir string, retentionDays int) int {
	if retentionDays <= 0 || strings.TrimSpace(logDir) == "" {
		return 0
	}
	if logger == nil {
		logger = NewNop()
	}
	dir := JobLogDir(logDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "job log not pruned", "job_log_prune_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check ownership of paths.log_dir"),
			)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("job logs pruned",
			String(FieldEventType, "job_logs_pruned"),
			Int("removed", removed),
			Int("retention_days", retentionDays),
		)
	}
	return removed
}

func sanitizeName(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r == '/' || r == '\\' || r == 0:
			b.WriteByte('_')
		case r < ' ':
			continue
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return "_"
	}
	return out
}
