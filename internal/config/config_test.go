package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"transcoder/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("TRANSCODER_DATABASE_DSN", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "transcoder")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.QueueDBPath() != filepath.Join(wantState, "transcode.db") {
		t.Fatalf("unexpected queue db path: %q", cfg.QueueDBPath())
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver by default, got %q", cfg.Database.Driver)
	}
	if cfg.Sandbox.Network != config.NetworkIsolated {
		t.Fatalf("expected isolated network by default, got %q", cfg.Sandbox.Network)
	}
	if cfg.HLS.SegmentSeconds != 10 {
		t.Fatalf("expected 10s segments, got %d", cfg.HLS.SegmentSeconds)
	}
	if len(cfg.Transcode.EnabledVideo) == 0 || len(cfg.Transcode.EnabledAudio) == 0 {
		t.Fatal("expected default enabled variant sets")
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "transcoder.toml")

	type payload struct {
		Encoder struct {
			Threads int `toml:"threads"`
		} `toml:"encoder"`
		Sandbox struct {
			WallTimeLimit  int   `toml:"wall_time_limit"`
			MemoryLimitKiB int64 `toml:"memory_limit_kib"`
		} `toml:"sandbox"`
		Limits struct {
			HardSizeKiB int64 `toml:"hard_size_kib"`
		} `toml:"limits"`
		Transcode struct {
			EnabledVideo []string `toml:"enabled_video"`
		} `toml:"transcode"`
	}
	custom := payload{}
	custom.Encoder.Threads = 4
	custom.Sandbox.WallTimeLimit = 600
	custom.Sandbox.MemoryLimitKiB = 1024
	custom.Limits.HardSizeKiB = 5000
	custom.Transcode.EnabledVideo = []string{" 480p.vp9.webm ", "480p.vp9.webm", ""}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.CPUTimeLimit() != 2400*time.Second {
		t.Fatalf("expected cpu budget threads*wall = 2400s, got %s", cfg.CPUTimeLimit())
	}
	if cfg.MemoryLimitBytes() != 1024*1024 {
		t.Fatalf("expected memory limit in bytes, got %d", cfg.MemoryLimitBytes())
	}
	if cfg.Limits.HardSizeKiB != 5000 {
		t.Fatalf("expected hard limit 5000, got %d", cfg.Limits.HardSizeKiB)
	}
	if len(cfg.Transcode.EnabledVideo) != 1 || cfg.Transcode.EnabledVideo[0] != "480p.vp9.webm" {
		t.Fatalf("expected deduplicated enabled set, got %v", cfg.Transcode.EnabledVideo)
	}
}

func TestEnvFallbacks(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "transcoder.toml")
	if err := os.WriteFile(configPath, []byte("[database]\ndriver = \"postgresql\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TRANSCODER_DATABASE_DSN", "postgres://u:p@db/transcoder")
	t.Setenv("TRANSCODER_REDIS_URL", "redis://cache:6379/0")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("expected driver alias to normalize, got %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN != "postgres://u:p@db/transcoder" {
		t.Fatalf("expected dsn from env, got %q", cfg.Database.DSN)
	}
	if cfg.Invalidation.RedisURL != "redis://cache:6379/0" {
		t.Fatalf("expected redis url from env, got %q", cfg.Invalidation.RedisURL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"driver", func(c *config.Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"dsn", func(c *config.Config) { c.Database.Driver = "mysql"; c.Database.DSN = "" }, "database.dsn"},
		{"network", func(c *config.Config) { c.Sandbox.Network = "host" }, "sandbox.network"},
		{"wall", func(c *config.Config) { c.Sandbox.WallTimeLimit = 0 }, "sandbox.wall_time_limit"},
		{"hard", func(c *config.Config) { c.Limits.HardSizeKiB = -1 }, "limits.hard_size_kib"},
		{"purge", func(c *config.Config) { c.Invalidation.PurgeURLs = []string{"not a url"} }, "invalidation.purge_urls"},
		{"stale", func(c *config.Config) { c.Workflow.StaleAfter = c.Sandbox.WallTimeLimit }, "workflow.stale_after"},
		{"format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "transcoder.toml")
	if err := os.WriteFile(configPath, []byte("[sandbox]\nwall_time = 5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown key to fail parsing")
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Workflow.Workers != 2 {
		t.Fatalf("expected sample workers = 2, got %d", cfg.Workflow.Workers)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.ScratchDir = filepath.Join(base, "scratch")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Storage.Root = filepath.Join(base, "store")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.ScratchDir, cfg.Paths.LogDir, cfg.Storage.Root} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s", dir)
		}
	}
}
