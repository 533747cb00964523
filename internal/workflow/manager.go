package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"transcoder/internal/config"
	"transcoder/internal/logging"
	"transcoder/internal/queue"
	"transcoder/internal/transcode"
)

// JobSource is the slice of the job store the manager polls.
type JobSource interface {
	NextQueued(ctx context.Context) (*queue.Job, error)
	Get(ctx context.Context, assetID, variantKey string) (*queue.Job, error)
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
	StateCounts(ctx context.Context) (map[string]int, error)
}

// Runner executes one job.
type Runner interface {
	Run(ctx context.Context, h transcode.JobHandle) (transcode.Outcome, error)
}

// Settings controls worker and reclaimer timing.
type Settings struct {
	Workers         int
	PollInterval    time.Duration
	ErrorRetry      time.Duration
	StaleAfter      time.Duration
	ReclaimInterval time.Duration
}

// SettingsFromConfig reads the workflow section.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Workers:         cfg.Workflow.Workers,
		PollInterval:    time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		ErrorRetry:      time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		StaleAfter:      cfg.StaleAfter(),
		ReclaimInterval: time.Duration(cfg.Workflow.ReclaimInterval) * time.Second,
	}
}

// Manager coordinates queue processing across a pool of workers.
type Manager struct {
	settings Settings
	jobs     JobSource
	runner   Runner
	logger   *slog.Logger
	now      func() time.Time

	dispatchMu sync.Mutex
	inflight   map[string]transcode.JobHandle

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *JobReport
}

// JobReport describes the most recently finished run.
type JobReport struct {
	Handle   transcode.JobHandle
	Outcome  transcode.Outcome
	Error    string
	Finished time.Time
}

// NewManager constructs a workflow manager.
func NewManager(settings Settings, jobs JobSource, runner Runner, logger *slog.Logger) *Manager {
	if settings.Workers <= 0 {
		settings.Workers = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		settings: settings,
		jobs:     jobs,
		runner:   runner,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		now:      time.Now,
		inflight: make(map[string]transcode.JobHandle),
	}
}
