package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"transcoder/internal/config"
	"transcoder/internal/deps"
	"transcoder/internal/logging"
	"transcoder/internal/metrics"
	"transcoder/internal/queue"
	"transcoder/internal/services"
	"transcoder/internal/transcode"
	"transcoder/internal/workflow"
)

// Daemon owns the worker pool and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	jobs     transcode.Backend
	orch     *transcode.Orchestrator
	workflow *workflow.Manager
	closers  []io.Closer
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	depsMu       sync.RWMutex
	dependencies []deps.Status
	collector    *metrics.Collector

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Backend      string
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
	Dependencies []deps.Status
}

// New constructs a daemon. Closers are released by Close after the store.
func New(cfg *config.Config, jobs transcode.Backend, orch *transcode.Orchestrator, wf *workflow.Manager, logger *slog.Logger, closers ...io.Closer) (*Daemon, error) {
	if cfg == nil || jobs == nil || orch == nil || wf == nil {
		return nil, errors.New("daemon requires config, job store, orchestrator, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		jobs:     jobs,
		orch:     orch,
		workflow: wf,
		closers:  closers,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the workers, the metrics
// collector, and the API listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return services.Wrap(services.ErrAlreadyStarted, "daemon", "start",
			"another transcoder daemon instance is already running", nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.refreshDependencies()
	logging.PruneJobLogs(d.logger, d.cfg.Paths.LogDir, d.cfg.Logging.RetentionDays)

	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if d.cfg.Metrics.Enabled {
		states := make([]string, 0, len(queue.AllStates))
		for _, state := range queue.AllStates {
			states = append(states, string(state))
		}
		metrics.InitializeMetrics(states, services.FailureKinds())
		d.collector = metrics.NewCollector(d.jobs, 0, d.logger)
		d.collector.Start()
	}
	if err := d.api.start(runCtx); err != nil {
		d.workflow.Stop()
		d.stopCollector()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("transcoder daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.String("backend", d.backendName()),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	d.stopCollector()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("transcoder daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.jobs != nil {
		errs = append(errs, d.jobs.Close())
	}
	for _, c := range d.closers {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.depsMu.RLock()
	dependencies := append([]deps.Status(nil), d.dependencies...)
	d.depsMu.RUnlock()

	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Backend:      d.backendName(),
		Workflow:     d.workflow.Status(ctx),
		LockFilePath: d.lockPath,
		Dependencies: dependencies,
	}
	if status.Backend == "sqlite" {
		status.QueueDBPath = d.cfg.QueueDBPath()
	}
	return status
}

// Orchestrator exposes the orchestrator used by the API handlers.
func (d *Daemon) Orchestrator() *transcode.Orchestrator {
	return d.orch
}

func (d *Daemon) refreshDependencies() {
	results := deps.Check(d.cfg)
	for _, missing := range deps.Missing(results) {
		logging.WarnWithContext(d.logger, "required dependency unavailable", "dependency_missing",
			logging.String("dependency", missing.Name),
			logging.String("detail", missing.Detail),
			logging.String(logging.FieldErrorHint, "install it or fix the [encoder] paths"),
		)
	}
	d.depsMu.Lock()
	d.dependencies = results
	d.depsMu.Unlock()
}

func (d *Daemon) stopCollector() {
	if d.collector != nil {
		d.collector.Stop()
		d.collector = nil
	}
}

func (d *Daemon) backendName() string {
	driver := strings.ToLower(strings.TrimSpace(d.cfg.Database.Driver))
	if driver == "" {
		return "sqlite"
	}
	return driver
}
