package transcode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"transcoder/internal/asset"
	"transcoder/internal/config"
	"transcoder/internal/encoding"
	"transcoder/internal/hls"
	"transcoder/internal/publish"
	"transcoder/internal/queue"
	"transcoder/internal/queue/gormstore"
	"transcoder/internal/sandbox"
	"transcoder/internal/storage"
	"transcoder/internal/variant"
)

// Backend is a JobStore with the queue operations used by the worker pool
// and the operator surfaces.
type Backend interface {
	JobStore
	NextQueued(ctx context.Context) (*queue.Job, error)
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
	ListByState(ctx context.Context, states ...queue.State) ([]*queue.Job, error)
	Health(ctx context.Context) (queue.HealthSummary, error)
	StateCounts(ctx context.Context) (map[string]int, error)
	Close() error
}

// OpenBackend opens the job store selected by [database].driver. The sqlite
// driver must be linked by the binary.
func OpenBackend(cfg *config.Config, logger *slog.Logger) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case "", "sqlite":
		store, err := queue.Open(cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := gormstore.Open(cfg, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// LoadCatalog returns the built-in catalog with the configured overrides.
func LoadCatalog(cfg *config.Config) (variant.Catalog, error) {
	catalog, err := variant.LoadFile(variant.Builtin(), cfg.Transcode.VariantsFile)
	if err != nil {
		return variant.Catalog{}, fmt.Errorf("load variants: %w", err)
	}
	return catalog, nil
}

// NewFromConfig wires the production collaborators around jobs. The
// returned closer releases the invalidation sinks.
func NewFromConfig(cfg *config.Config, jobs JobStore, logger *slog.Logger) (*Orchestrator, io.Closer, error) {
	catalog, err := LoadCatalog(cfg)
	if err != nil {
		return nil, nil, err
	}
	deriver := encoding.NewDeriver(encoding.Settings{
		Threads:         cfg.Encoder.Threads,
		VP9RowMT:        cfg.Encoder.VP9RowMT,
		MuxingQueueSize: cfg.Encoder.MuxingQueueSize,
		SegmentSeconds:  cfg.HLS.SegmentSeconds,
		HardLimitKiB:    cfg.Limits.HardSizeKiB,
		SoftLimitKiB:    cfg.Limits.SoftSizeKiB,
	})
	runner := sandbox.New(sandbox.LimitsFromConfig(cfg), logger)
	executor := encoding.NewExecutor(runner, encoding.Binaries{
		FFmpeg:     cfg.Encoder.FFmpegBinary,
		Fluidsynth: cfg.Encoder.FluidsynthBinary,
		SoundFont:  cfg.Encoder.SoundFont,
	}, logger)
	files := storage.NewFileStore(cfg.Storage.Root, cfg.Storage.BaseURL, logger)

	purger, err := publish.NewPurger(cfg.Invalidation, logger)
	if err != nil {
		return nil, nil, err
	}

	orch, err := New(Dependencies{
		Catalog:     catalog,
		Deriver:     deriver,
		Assets:      asset.NewLibrary(cfg.Paths.LibraryDir, cfg.Encoder.FFprobeBinary, logger),
		Jobs:        jobs,
		Encoder:     executor,
		Segmenter:   hls.New(time.Duration(cfg.HLS.SegmentSeconds)*time.Second, logger),
		Publisher:   publish.New(files, jobs, catalog, purger, logger),
		Derivatives: files,
		Logger:      logger,
	}, Options{
		ScratchDir:       cfg.Paths.ScratchDir,
		LogDir:           cfg.Paths.LogDir,
		JobLogs:          cfg.Logging.JobLogs,
		TranscodeEnabled: cfg.Transcode.Enabled,
		EnabledVideo:     cfg.Transcode.EnabledVideo,
		EnabledAudio:     cfg.Transcode.EnabledAudio,
	})
	if err != nil {
		_ = purger.Close()
		return nil, nil, err
	}
	return orch, purger, nil
}
