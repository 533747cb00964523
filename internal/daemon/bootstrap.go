package daemon

import (
	"fmt"
	"log/slog"

	"transcoder/internal/config"
	"transcoder/internal/transcode"
	"transcoder/internal/workflow"
)

// Bootstrap opens the configured job store and wires the orchestrator and
// worker pool into a daemon. Close releases everything it opened.
func Bootstrap(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	store, err := transcode.OpenBackend(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	orch, purger, err := transcode.NewFromConfig(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	mgr := workflow.NewManager(workflow.SettingsFromConfig(cfg), store, orch, logger)
	d, err := New(cfg, store, orch, mgr, logger, purger)
	if err != nil {
		_ = purger.Close()
		_ = store.Close()
		return nil, err
	}
	return d, nil
}
