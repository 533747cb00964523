package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"transcoder/internal/config"
	"transcoder/internal/logging"
	"transcoder/internal/transcode"
)

// skipConfigLoad marks commands that read or write the config file themselves.
const skipConfigLoad = "skipConfigLoad"

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err == nil {
			err = cfg.EnsureDirectories()
		}
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// commandLogger writes to stderr so stdout stays parseable for --json.
func (c *commandContext) commandLogger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// withOrchestrator opens the job store, wires an orchestrator around it, and
// releases both when fn returns.
func (c *commandContext) withOrchestrator(cmd *cobra.Command, fn func(*transcode.Orchestrator) error) (err error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.commandLogger()
	if err != nil {
		return err
	}
	store, err := transcode.OpenBackend(cfg, logger)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	orch, purger, err := transcode.NewFromConfig(cfg, store, logger)
	if err != nil {
		return errors.Join(err, store.Close())
	}
	defer func() {
		err = errors.Join(err, purger.Close(), store.Close())
	}()
	return fn(orch)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		if cmd.Annotations[skipConfigLoad] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
