package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDatabase()
	if err := c.normalizeEncoder(); err != nil {
		return err
	}
	c.normalizeSandbox()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeInvalidation()
	if err := c.normalizeTranscode(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.ScratchDir, err = expandPath(c.Paths.ScratchDir); err != nil {
		return fmt.Errorf("paths.scratch_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeDatabase() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "":
		c.Database.Driver = defaultDatabaseDriver
	case "sqlite3":
		c.Database.Driver = "sqlite"
	case "postgresql":
		c.Database.Driver = "postgres"
	}
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	if c.Database.DSN == "" {
		if value, ok := os.LookupEnv("TRANSCODER_DATABASE_DSN"); ok {
			c.Database.DSN = strings.TrimSpace(value)
		}
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = defaultDatabaseMaxOpenConns
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = defaultDatabaseConnLifetime
	}
}

func (c *Config) normalizeEncoder() error {
	c.Encoder.FFmpegBinary = strings.TrimSpace(c.Encoder.FFmpegBinary)
	if c.Encoder.FFmpegBinary == "" {
		c.Encoder.FFmpegBinary = defaultFFmpegBinary
	}
	c.Encoder.FFprobeBinary = strings.TrimSpace(c.Encoder.FFprobeBinary)
	if c.Encoder.FFprobeBinary == "" {
		c.Encoder.FFprobeBinary = defaultFFprobeBinary
	}
	c.Encoder.FluidsynthBinary = strings.TrimSpace(c.Encoder.FluidsynthBinary)
	if c.Encoder.FluidsynthBinary == "" {
		c.Encoder.FluidsynthBinary = defaultFluidsynthBinary
	}
	if strings.TrimSpace(c.Encoder.SoundFont) != "" {
		var err error
		if c.Encoder.SoundFont, err = expandPath(strings.TrimSpace(c.Encoder.SoundFont)); err != nil {
			return fmt.Errorf("encoder.soundfont: %w", err)
		}
	}
	if c.Encoder.Threads <= 0 {
		c.Encoder.Threads = defaultEncoderThreads
	}
	return nil
}

func (c *Config) normalizeSandbox() {
	c.Sandbox.Network = strings.ToLower(strings.TrimSpace(c.Sandbox.Network))
	if c.Sandbox.Network == "" {
		c.Sandbox.Network = defaultSandboxNetwork
	}
	if c.Sandbox.OutputTailBytes <= 0 {
		c.Sandbox.OutputTailBytes = defaultOutputTailBytes
	}
}

func (c *Config) normalizeStorage() error {
	var err error
	if c.Storage.Root, err = expandPath(c.Storage.Root); err != nil {
		return fmt.Errorf("storage.root: %w", err)
	}
	c.Storage.BaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.BaseURL), "/")
	return nil
}

func (c *Config) normalizeInvalidation() {
	urls := c.Invalidation.PurgeURLs[:0]
	for _, u := range c.Invalidation.PurgeURLs {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	c.Invalidation.PurgeURLs = urls
	c.Invalidation.RedisURL = strings.TrimSpace(c.Invalidation.RedisURL)
	if c.Invalidation.RedisURL == "" {
		if value, ok := os.LookupEnv("TRANSCODER_REDIS_URL"); ok {
			c.Invalidation.RedisURL = strings.TrimSpace(value)
		}
	}
	c.Invalidation.RedisChannel = strings.TrimSpace(c.Invalidation.RedisChannel)
	if c.Invalidation.RequestTimeout <= 0 {
		c.Invalidation.RequestTimeout = defaultInvalidationTimeout
	}
}

func (c *Config) normalizeTranscode() error {
	c.Transcode.EnabledVideo = normalizeKeys(c.Transcode.EnabledVideo)
	c.Transcode.EnabledAudio = normalizeKeys(c.Transcode.EnabledAudio)
	if strings.TrimSpace(c.Transcode.VariantsFile) != "" {
		var err error
		if c.Transcode.VariantsFile, err = expandPath(strings.TrimSpace(c.Transcode.VariantsFile)); err != nil {
			return fmt.Errorf("transcode.variants_file: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkflowWorkers
	}
	if c.Workflow.StaleAfter <= 0 {
		c.Workflow.StaleAfter = 2*c.Sandbox.WallTimeLimit + 3600
	}
	if c.Workflow.ReclaimInterval <= 0 {
		c.Workflow.ReclaimInterval = defaultReclaimInterval
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
