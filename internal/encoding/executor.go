package encoding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"transcoder/internal/logging"
	"transcoder/internal/sandbox"
	"transcoder/internal/services"
)

// Binaries locates the external tools the executor drives.
type Binaries struct {
	FFmpeg     string
	Fluidsynth string
	SoundFont  string
}

// ExecRequest is one encode attempt.
type ExecRequest struct {
	Params     Params
	OutputPath string
	WorkDir    string
	// OnLine receives encoder output lines, typically the per-job log.
	OnLine func(string)
}

// Executor runs ffmpeg (and fluidsynth for MIDI) through a sandbox.Runner.
// It holds no per-job state and is safe for concurrent use.
type Executor struct {
	runner   sandbox.Runner
	binaries Binaries
	logger   *slog.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(runner sandbox.Runner, binaries Binaries, logger *slog.Logger) *Executor {
	if strings.TrimSpace(binaries.FFmpeg) == "" {
		binaries.FFmpeg = "ffmpeg"
	}
	return &Executor{
		runner:   runner,
		binaries: binaries,
		logger:   logging.NewComponentLogger(logger, "encoder"),
	}
}

// Execute produces req.OutputPath from req.Params. The output must exist and
// be non-empty once every pass has exited cleanly.
func (e *Executor) Execute(ctx context.Context, req ExecRequest) error {
	if e.runner == nil {
		return services.Wrap(services.ErrConfiguration, "encode", "execute", "sandbox runner unavailable", nil)
	}
	if req.OutputPath == "" || req.WorkDir == "" {
		return services.Wrap(services.ErrValidation, "encode", "execute", "output path and work directory required", nil)
	}
	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "encode", "prepare work dir", req.WorkDir, err)
	}

	logger := logging.WithContext(ctx, e.logger)
	p := req.Params
	start := time.Now()
	logger.Info("encode started",
		logging.String("mode", p.Mode.String()),
		logging.String("source", p.SourcePath),
		logging.Bool("remux", p.Remux),
		logging.Float64("fps", p.FrameRate),
		logging.Int64("video_bitrate", p.VideoBitrate),
		logging.Int64("estimated_kib", p.EstimatedKiB),
	)

	var err error
	switch p.Mode {
	case ModeMIDI:
		err = e.runMIDI(ctx, req)
	case ModeTwoPass:
		passLog := filepath.Join(req.WorkDir, "passlog")
		if err = e.runFFmpeg(ctx, req, p.Args(p.SourcePath, req.OutputPath, 1, passLog)); err == nil {
			err = e.runFFmpeg(ctx, req, p.Args(p.SourcePath, req.OutputPath, 2, passLog))
		}
	default:
		err = e.runFFmpeg(ctx, req, p.Args(p.SourcePath, req.OutputPath, 0, ""))
	}
	if err != nil {
		return err
	}
	if err := verifyOutput(req.OutputPath); err != nil {
		return err
	}
	logger.Info("encode finished",
		logging.Duration("duration", time.Since(start)),
		logging.String("output", req.OutputPath),
	)
	return nil
}

func (e *Executor) runMIDI(ctx context.Context, req ExecRequest) error {
	if strings.TrimSpace(e.binaries.Fluidsynth) == "" || strings.TrimSpace(e.binaries.SoundFont) == "" {
		return services.Wrap(services.ErrConfiguration, "encode", "midi", "fluidsynth binary and soundfont are required for MIDI sources", nil)
	}
	p := req.Params
	wav := filepath.Join(req.WorkDir, "synth.wav")
	if _, err := e.runner.Run(ctx, sandbox.Command{
		Binary: e.binaries.Fluidsynth,
		Args:   p.SynthArgs(e.binaries.SoundFont, p.SourcePath, wav),
		Dir:    req.WorkDir,
		OnLine: req.OnLine,
	}); err != nil {
		return err
	}
	if err := verifyOutput(wav); err != nil {
		return err
	}
	return e.runFFmpeg(ctx, req, p.Args(wav, req.OutputPath, 0, ""))
}

func (e *Executor) runFFmpeg(ctx context.Context, req ExecRequest, args PassArgs) error {
	_, err := e.runner.Run(ctx, sandbox.Command{
		Binary: e.binaries.FFmpeg,
		Args:   args,
		Dir:    req.WorkDir,
		OnLine: req.OnLine,
	})
	return err
}

func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return services.Wrap(services.ErrSandboxExecution, "encode", "verify output",
				fmt.Sprintf("encoder exited cleanly but produced no file at %s", filepath.Base(path)), nil)
		}
		return services.Wrap(services.ErrSandboxExecution, "encode", "verify output", "stat output", err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrSandboxExecution, "encode", "verify output",
			fmt.Sprintf("encoder produced an empty file %s", filepath.Base(path)), nil)
	}
	return nil
}
