package encoding

import (
	"fmt"
	"math"
	"strconv"

	"transcoder/internal/asset"
	"transcoder/internal/services"
	"transcoder/internal/variant"
)

// Bitrates and keyframe distances in the catalog are specified for this
// frame rate and scaled for faster sources.
const (
	DefaultFPS = 30.0
	MaxFPS     = 60.0
	MinFPS     = 24.0
)

// Mode selects the executor strategy.
type Mode int

const (
	ModeSinglePass Mode = iota
	ModeTwoPass
	ModeMIDI
)

func (m Mode) String() string {
	switch m {
	case ModeTwoPass:
		return "two_pass"
	case ModeMIDI:
		return "midi"
	default:
		return "single_pass"
	}
}

// Settings are the encoder-wide knobs shared by every derivation.
type Settings struct {
	Threads         int
	VP9RowMT        bool
	MuxingQueueSize int
	SegmentSeconds  int
	HardLimitKiB    int64
	SoftLimitKiB    int64
}

// Request is the input to Derive.
type Request struct {
	Asset          asset.Asset
	Variant        variant.Spec
	ManualOverride bool
	// RemuxSource is the local path of an existing alternate derivative the
	// video track can be copied from. Empty when no alternate is usable.
	RemuxSource string
}

// Params is the full, immutable description of one encode.
type Params struct {
	Variant          variant.Spec
	Mode             Mode
	SourcePath       string
	Remux            bool
	FrameRate        float64
	KeyframeInterval int
	VideoBitrate     int64
	MinRate          int64
	MaxRate          int64
	EstimatedKiB     int64
	Width            int
	Height           int
	Deinterlace      string
	Format           string
	Extension        string

	videoArgs     []string
	audioArgs     []string
	containerArgs []string
	muxArgs       []string
}

// Passes returns the number of ffmpeg passes the executor runs.
func (p Params) Passes() int {
	if p.Mode == ModeTwoPass {
		return 2
	}
	return 1
}

// Deriver computes Params from a Request.
type Deriver struct {
	settings Settings
}

// NewDeriver returns a Deriver with the provided settings.
func NewDeriver(settings Settings) *Deriver {
	if settings.Threads < 1 {
		settings.Threads = 1
	}
	if settings.SegmentSeconds <= 0 {
		settings.SegmentSeconds = 10
	}
	return &Deriver{settings: settings}
}

// Derive validates the request and computes encode parameters. Size-limit and
// configuration failures are returned before any process is spawned.
func (d *Deriver) Derive(req Request) (Params, error) {
	spec := req.Variant
	src := req.Asset
	if err := spec.Validate(); err != nil {
		return Params{}, err
	}
	if !spec.NoVideo && src.IsAudio() {
		return Params{}, services.Wrap(services.ErrConfiguration, "derive", spec.Key, "video variant requested for a source without video", nil)
	}

	p := Params{
		Variant:    spec,
		SourcePath: src.Path,
		Extension:  spec.Extension(),
		Mode:       ModeSinglePass,
	}

	switch {
	case spec.NoVideo && src.IsMIDI():
		p.Mode = ModeMIDI
	case spec.NoVideo:
		p.videoArgs = []string{"-vn"}
	default:
		if err := d.deriveVideo(&p, req); err != nil {
			return Params{}, err
		}
	}

	p.audioArgs = audioArgs(spec)
	p.muxArgs = d.muxArgs()
	p.containerArgs = d.containerArgs(spec)
	return p, nil
}

func (d *Deriver) deriveVideo(p *Params, req Request) error {
	spec := req.Variant
	src := req.Asset

	if spec.TwoPass {
		p.Mode = ModeTwoPass
	}
	if req.RemuxSource != "" {
		p.Remux = true
		p.SourcePath = req.RemuxSource
		p.Mode = ModeSinglePass
	}

	fps := EffectiveFrameRate(spec, src)
	p.FrameRate = fps

	var args []string
	if spec.FrameRate != "" {
		args = append(args, "-r", spec.FrameRate)
	} else {
		orig := src.FrameRate
		if orig <= 0 {
			orig = DefaultFPS
		}
		if src.Interlaced {
			orig *= 2
		}
		if orig > fps {
			args = append(args, "-r", formatFloat(fps))
		}
	}

	if p.Remux {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args, d.codecArgs(spec)...)
	}

	switch {
	case spec.VideoCodec == "h264" || spec.VideoCodec == "mpeg4" || spec.IsHLS():
		p.Format = "mp4"
	case spec.VideoCodec == "vp8" || spec.VideoCodec == "vp9":
		p.Format = "webm"
	}
	if p.Format != "" {
		args = append(args, "-f", p.Format)
	}

	p.KeyframeInterval = int(math.Round(fps * float64(d.settings.SegmentSeconds)))
	args = append(args, "-g", strconv.Itoa(p.KeyframeInterval))

	if spec.VideoBitrate != "" {
		base, err := variant.ExpandRate(spec.VideoBitrate)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "derive", spec.Key, "video bitrate", err)
		}
		p.VideoBitrate = ScaleRate(base, fps)
		args = append(args, "-b:v", strconv.FormatInt(p.VideoBitrate, 10))

		p.EstimatedKiB = EstimateKiB(p.VideoBitrate, src.Duration)
		if err := d.checkSize(p.EstimatedKiB, req.ManualOverride); err != nil {
			return err
		}

		if spec.MinRate != "" {
			base, err := variant.ExpandRate(spec.MinRate)
			if err != nil {
				return services.Wrap(services.ErrConfiguration, "derive", spec.Key, "minrate", err)
			}
			p.MinRate = ScaleRate(base, fps)
			args = append(args, "-minrate", strconv.FormatInt(p.MinRate, 10))
		}
		if spec.MaxRate != "" {
			base, err := variant.ExpandRate(spec.MaxRate)
			if err != nil {
				return services.Wrap(services.ErrConfiguration, "derive", spec.Key, "maxrate", err)
			}
			p.MaxRate = ScaleRate(base, fps)
			args = append(args, "-maxrate", strconv.FormatInt(p.MaxRate, 10))
		}
	}

	if !p.Remux {
		if src.Interlaced {
			if shouldFrameDouble(spec, src) {
				p.Deinterlace = "yadif=1"
			} else {
				p.Deinterlace = "yadif=0"
			}
			args = append(args, "-vf", p.Deinterlace)
		}
		args = append(args, sizeArgs(p, spec, src)...)
	}

	p.videoArgs = args
	return nil
}

func (d *Deriver) checkSize(estimated int64, manualOverride bool) error {
	if hard := d.settings.HardLimitKiB; hard > 0 && estimated > hard {
		return services.Wrap(services.ErrSizeLimitExceeded, "derive", "size guard",
			fmt.Sprintf("estimated file size %d KiB over hard limit %d KiB", estimated, hard), nil)
	}
	if soft := d.settings.SoftLimitKiB; soft > 0 && estimated > soft && !manualOverride {
		return services.Wrap(services.ErrSizeLimitExceeded, "derive", "size guard",
			fmt.Sprintf("estimated file size %d KiB over soft limit %d KiB", estimated, soft), nil)
	}
	return nil
}

// EffectiveFrameRate returns the frame rate bitrates are scaled for: the
// fixed variant rate, or the source rate (doubled for field-rate
// deinterlacing), clamped to [MinFPS, fpsmax or MaxFPS].
func EffectiveFrameRate(spec variant.Spec, src asset.Asset) float64 {
	var fps float64
	if spec.FrameRate != "" {
		fps, _ = variant.ParseFraction(spec.FrameRate)
	} else {
		fps = src.FrameRate
		if fps <= 0 {
			fps = DefaultFPS
		}
	}
	if shouldFrameDouble(spec, src) {
		fps *= 2
	}
	if fps < MinFPS {
		return MinFPS
	}
	limit := MaxFPS
	if spec.FPSMax != "" {
		if v, err := variant.ParseFraction(spec.FPSMax); err == nil && v > 0 {
			limit = v
		}
	}
	if fps > limit {
		return limit
	}
	return fps
}

func shouldFrameDouble(spec variant.Spec, src asset.Asset) bool {
	if !src.Interlaced {
		return false
	}
	if spec.FrameRate != "" {
		return false
	}
	if spec.FPSMax != "" {
		if v, err := variant.ParseFraction(spec.FPSMax); err == nil && v < MaxFPS {
			return false
		}
	}
	return true
}

// ScaleRate scales a base rate specified at DefaultFPS. Frames above 30 fps
// count half, so 60 fps yields 1.5x the base.
func ScaleRate(base int64, fps float64) int64 {
	lo := math.Min(fps, DefaultFPS)
	hi := fps - lo
	b := float64(base)
	scaled := b*lo/DefaultFPS + 0.5*b*hi/DefaultFPS
	return int64(scaled)
}

// EstimateKiB estimates the output size for a bitrate over duration seconds.
func EstimateKiB(bitsPerSecond int64, durationSeconds float64) int64 {
	return int64(math.Round((float64(bitsPerSecond) / 8) * durationSeconds / 1024))
}

// MaxSizeTransform fits width x height inside the max-size box preserving
// aspect ratio. It never upscales and rounds each dimension up to even.
func MaxSizeTransform(width, height int, maxSize string) (int, int) {
	maxW, maxH, ok := variant.ParseMaxSize(maxSize)
	if !ok || width <= 0 || height <= 0 {
		return 0, 0
	}
	sourceAspect := float64(width) / float64(height)
	maxAspect := float64(maxW) / float64(maxH)
	targetW, targetH := width, height
	if sourceAspect <= maxAspect {
		if height > maxH {
			targetH = maxH
			targetW = int(float64(targetH) * sourceAspect)
		}
	} else if width > maxW {
		targetW = maxW
		targetH = int(float64(targetW) / sourceAspect)
	}
	targetW += targetW % 2
	targetH += targetH % 2
	return targetW, targetH
}

func sizeArgs(p *Params, spec variant.Spec, src asset.Asset) []string {
	if spec.Width > 0 && spec.Height > 0 {
		p.Width, p.Height = spec.Width, spec.Height
		aspect := spec.Aspect
		if aspect == "" {
			aspect = fmt.Sprintf("%d:%d", src.Width, src.Height)
		}
		return []string{"-s", fmt.Sprintf("%dx%d", spec.Width, spec.Height), "-aspect", aspect}
	}
	if spec.MaxSize != "" {
		w, h := MaxSizeTransform(src.Width, src.Height, spec.MaxSize)
		if w > 0 && h > 0 {
			p.Width, p.Height = w, h
			return []string{"-s", fmt.Sprintf("%dx%d", w, h)}
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
