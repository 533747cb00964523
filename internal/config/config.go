package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir   string `toml:"state_dir"`
	ScratchDir string `toml:"scratch_dir"`
	LogDir     string `toml:"log_dir"`
	LibraryDir string `toml:"library_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Database selects the job state backend. The default sqlite driver keeps
// the store in StateDir; postgres and mysql share state across hosts.
type Database struct {
	Driver          string `toml:"driver"`
	DSN             string `toml:"dsn"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	ConnMaxLifetime int    `toml:"conn_max_lifetime"`
}

// Encoder contains external tool locations and encoder-wide knobs.
type Encoder struct {
	FFmpegBinary     string `toml:"ffmpeg_binary"`
	FFprobeBinary    string `toml:"ffprobe_binary"`
	FluidsynthBinary string `toml:"fluidsynth_binary"`
	SoundFont        string `toml:"soundfont"`
	Threads          int    `toml:"threads"`
	VP9RowMT         bool   `toml:"vp9_row_mt"`
	MuxingQueueSize  int    `toml:"muxing_queue_size"`
}

// Sandbox bounds every encoder process.
type Sandbox struct {
	WallTimeLimit   int    `toml:"wall_time_limit"`
	MemoryLimitKiB  int64  `toml:"memory_limit_kib"`
	Network         string `toml:"network"`
	OutputTailBytes int    `toml:"output_tail_bytes"`
}

// Limits contains the estimated-size guards. Zero disables a limit.
type Limits struct {
	HardSizeKiB int64 `toml:"hard_size_kib"`
	SoftSizeKiB int64 `toml:"soft_size_kib"`
}

// HLS contains streaming segmentation settings.
type HLS struct {
	SegmentSeconds int `toml:"segment_seconds"`
}

// Storage contains the durable derivative store.
type Storage struct {
	Root    string `toml:"root"`
	BaseURL string `toml:"base_url"`
}

// Invalidation lists the cache purge sinks notified after publication.
type Invalidation struct {
	PurgeURLs      []string `toml:"purge_urls"`
	RedisURL       string   `toml:"redis_url"`
	RedisChannel   string   `toml:"redis_channel"`
	RedisKeyPrefix string   `toml:"redis_key_prefix"`
	RequestTimeout int      `toml:"request_timeout"`
}

// Transcode controls which derivatives are produced.
type Transcode struct {
	Enabled      bool     `toml:"enabled"`
	EnabledVideo []string `toml:"enabled_video"`
	EnabledAudio []string `toml:"enabled_audio"`
	VariantsFile string   `toml:"variants_file"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	Workers            int `toml:"workers"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	StaleAfter         int `toml:"stale_after"`
	ReclaimInterval    int `toml:"reclaim_interval"`
}

// Metrics controls the Prometheus endpoint on the API listener.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
	JobLogs       bool   `toml:"job_logs"`
}

// Config encapsulates all configuration values for the transcoder.
//
// Configuration sections by subsystem:
//   - Paths: state, scratch, log and source directories plus the API bind address
//   - Database: job state backend selection
//   - Encoder, Sandbox: external tool locations and per-process ceilings
//   - Limits: estimated output size guards
//   - HLS, Storage, Invalidation: post-processing and publication
//   - Transcode: enabled derivative sets and catalog overrides
//   - Workflow, Metrics, Logging: daemon behaviour
type Config struct {
	Paths        Paths        `toml:"paths"`
	Database     Database     `toml:"database"`
	Encoder      Encoder      `toml:"encoder"`
	Sandbox      Sandbox      `toml:"sandbox"`
	Limits       Limits       `toml:"limits"`
	HLS          HLS          `toml:"hls"`
	Storage      Storage      `toml:"storage"`
	Invalidation Invalidation `toml:"invalidation"`
	Transcode    Transcode    `toml:"transcode"`
	Workflow     Workflow     `toml:"workflow"`
	Metrics      Metrics      `toml:"metrics"`
	Logging      Logging      `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("transcoder.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The library directory is read-only input and is never created.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.ScratchDir, c.Paths.LogDir, c.Storage.Root} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite job store location.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.StateDir, "transcode.db")
}

// LockPath returns the daemon single-instance lock location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "transcoderd.lock")
}

// WallTimeLimit returns the sandbox wall clock limit.
func (c *Config) WallTimeLimit() time.Duration {
	return time.Duration(c.Sandbox.WallTimeLimit) * time.Second
}

// CPUTimeLimit returns the per-process CPU budget: threads times wall seconds.
func (c *Config) CPUTimeLimit() time.Duration {
	threads := c.Encoder.Threads
	if threads < 1 {
		threads = 1
	}
	return time.Duration(threads) * c.WallTimeLimit()
}

// MemoryLimitBytes converts the sandbox memory ceiling to bytes.
func (c *Config) MemoryLimitBytes() int64 {
	return c.Sandbox.MemoryLimitKiB * 1024
}

// StaleAfter returns how long a claimed job may stay in progress before the
// reclaimer resets it.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Workflow.StaleAfter) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
