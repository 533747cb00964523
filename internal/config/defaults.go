package config

const (
	defaultConfigPath           = "~/.config/transcoder/config.toml"
	defaultStateDir             = "~/.local/share/transcoder"
	defaultScratchDir           = "~/.cache/transcoder/scratch"
	defaultLogDir               = "~/.local/share/transcoder/logs"
	defaultLibraryDir           = "~/media"
	defaultStorageRoot          = "~/.local/share/transcoder/derivatives"
	defaultStorageBaseURL       = "/transcoded"
	defaultAPIBind              = "127.0.0.1:7490"
	defaultDatabaseDriver       = "sqlite"
	defaultFFmpegBinary         = "ffmpeg"
	defaultFFprobeBinary        = "ffprobe"
	defaultFluidsynthBinary     = "fluidsynth"
	defaultSoundFont            = "/usr/share/sounds/sf2/FluidR3_GM.sf2"
	defaultEncoderThreads       = 1
	defaultMuxingQueueSize      = 1024
	defaultWallTimeLimit        = 8 * 60 * 60
	defaultMemoryLimitKiB       = 2 * 1024 * 1024
	defaultSandboxNetwork       = NetworkIsolated
	defaultOutputTailBytes      = 64 * 1024
	defaultHardSizeKiB          = 10 * 1024 * 1024
	defaultSoftSizeKiB          = 2 * 1024 * 1024
	defaultSegmentSeconds       = 10
	defaultRedisChannel         = "transcoder:purge"
	defaultRedisKeyPrefix       = "transcoder:url:"
	defaultInvalidationTimeout  = 10
	defaultWorkflowWorkers      = 2
	defaultQueuePollInterval    = 5
	defaultErrorRetryInterval   = 10
	defaultReclaimInterval      = 300
	defaultMetricsPath          = "/metrics"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultDatabaseMaxOpenConns = 10
	defaultDatabaseConnLifetime = 300

	// NetworkIsolated runs encoders in a private network namespace.
	NetworkIsolated = "isolated"
	// NetworkInherit runs encoders with the daemon's network access.
	NetworkInherit  = "inherit"
)

var (
	defaultEnabledVideo = []string{
		"240p.vp9.webm",
		"360p.vp9.webm",
		"480p.vp9.webm",
		"720p.vp9.webm",
		"1080p.vp9.webm",
		"360p.video.vp9.mp4",
		"720p.video.vp9.mp4",
	}
	defaultEnabledAudio = []string{
		"ogg",
		"mp3",
		"stereo.audio.opus.mp4",
	}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:   defaultStateDir,
			ScratchDir: defaultScratchDir,
			LogDir:     defaultLogDir,
			LibraryDir: defaultLibraryDir,
			APIBind:    defaultAPIBind,
		},
		Database: Database{
			Driver:          defaultDatabaseDriver,
			MaxOpenConns:    defaultDatabaseMaxOpenConns,
			ConnMaxLifetime: defaultDatabaseConnLifetime,
		},
		Encoder: Encoder{
			FFmpegBinary:     defaultFFmpegBinary,
			FFprobeBinary:    defaultFFprobeBinary,
			FluidsynthBinary: defaultFluidsynthBinary,
			SoundFont:        defaultSoundFont,
			Threads:          defaultEncoderThreads,
			VP9RowMT:         true,
			MuxingQueueSize:  defaultMuxingQueueSize,
		},
		Sandbox: Sandbox{
			WallTimeLimit:   defaultWallTimeLimit,
			MemoryLimitKiB:  defaultMemoryLimitKiB,
			Network:         defaultSandboxNetwork,
			OutputTailBytes: defaultOutputTailBytes,
		},
		Limits: Limits{
			HardSizeKiB: defaultHardSizeKiB,
			SoftSizeKiB: defaultSoftSizeKiB,
		},
		HLS: HLS{
			SegmentSeconds: defaultSegmentSeconds,
		},
		Storage: Storage{
			Root:    defaultStorageRoot,
			BaseURL: defaultStorageBaseURL,
		},
		Invalidation: Invalidation{
			RedisChannel:   defaultRedisChannel,
			RedisKeyPrefix: defaultRedisKeyPrefix,
			RequestTimeout: defaultInvalidationTimeout,
		},
		Transcode: Transcode{
			Enabled:      true,
			EnabledVideo: append([]string(nil), defaultEnabledVideo...),
			EnabledAudio: append([]string(nil), defaultEnabledAudio...),
		},
		Workflow: Workflow{
			Workers:            defaultWorkflowWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			StaleAfter:         2*defaultWallTimeLimit + 3600,
			ReclaimInterval:    defaultReclaimInterval,
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    defaultMetricsPath,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
			JobLogs:       true,
		},
	}
}
