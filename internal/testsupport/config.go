package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"transcoder/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.ScratchDir = filepath.Join(base, "scratch")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.LibraryDir = filepath.Join(base, "library")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Storage.Root = filepath.Join(base, "storage")
	cfgVal.Storage.BaseURL = "http://media.test/transcoded"
	cfgVal.Invalidation.PurgeURLs = nil
	cfgVal.Invalidation.RedisURL = ""
	cfgVal.Sandbox.Network = config.NetworkInherit

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithLimits overrides the estimated size guards on the test config.
func WithLimits(hardKiB, softKiB int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Limits.HardSizeKiB = hardKiB
		b.cfg.Limits.SoftSizeKiB = softKiB
	}
}

// WithEnabled replaces the enabled video and audio variant sets.
func WithEnabled(video, audio []string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transcode.EnabledVideo = append([]string(nil), video...)
		b.cfg.Transcode.EnabledAudio = append([]string(nil), audio...)
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default encoder binaries are
// stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe", "fluidsynth"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			WriteScript(b.t, binDir, name, "exit 0")
		}

		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
		b.cfg.Encoder.FFmpegBinary = filepath.Join(binDir, "ffmpeg")
		b.cfg.Encoder.FFprobeBinary = filepath.Join(binDir, "ffprobe")
		b.cfg.Encoder.FluidsynthBinary = filepath.Join(binDir, "fluidsynth")
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// WriteConfigFile serializes cfg to transcoder.toml under the config's base
// directory and returns the path.
func WriteConfigFile(t testing.TB, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(BaseDir(cfg), "transcoder.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
