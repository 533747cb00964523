package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"transcoder/internal/daemon"
	"transcoder/internal/logging"
)

const pidFileName = "transcoderd.pid"

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Work the queue and serve the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonProcess(cmd.Context(), ctx)
		},
	}
}

// runDaemonProcess blocks until runCtx is cancelled. main installs the
// SIGINT/SIGTERM handler on that context.
func runDaemonProcess(runCtx context.Context, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	d, err := daemon.Bootstrap(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Start(runCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	// Written only once Start holds the lock so a refused second instance
	// leaves the running daemon's pid alone.
	pidPath := filepath.Join(cfg.Paths.StateDir, pidFileName)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	if addr := d.APIAddr(); addr != "" {
		logger.Info("api listening", logging.String("addr", addr))
	}
	<-runCtx.Done()
	logger.Info("transcoder daemon shutting down")
	return nil
}
