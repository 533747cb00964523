package variant

import (
	"fmt"
	"strconv"
	"strings"

	"transcoder/internal/services"
)

// StreamingHLS marks variants that are post-processed into HLS segments.
const StreamingHLS = "hls"

var (
	videoCodecs = map[string]struct{}{
		"vp8": {}, "vp9": {}, "h264": {}, "h263": {}, "mpeg4": {}, "mjpeg": {},
	}
	baseMediaExtensions = map[string]struct{}{
		"mp4": {}, "m4v": {}, "m4a": {}, "mov": {}, "3gp": {},
	}
)

// Spec describes one derivative encoding. Rates accept k/m/g suffixes.
type Spec struct {
	Key          string   `toml:"-"`
	Type         string   `toml:"type"`
	VideoCodec   string   `toml:"video_codec"`
	AudioCodec   string   `toml:"audio_codec"`
	NoVideo      bool     `toml:"novideo"`
	NoAudio      bool     `toml:"noaudio"`
	VideoBitrate string   `toml:"video_bitrate"`
	MinRate      string   `toml:"minrate"`
	MaxRate      string   `toml:"maxrate"`
	CRF          *int     `toml:"crf"`
	MaxSize      string   `toml:"max_size"`
	Width        int      `toml:"width"`
	Height       int      `toml:"height"`
	Aspect       string   `toml:"aspect"`
	FrameRate    string   `toml:"framerate"`
	FPSMax       string   `toml:"fpsmax"`
	AudioBitrate string   `toml:"audio_bitrate"`
	AudioQuality *int     `toml:"audio_quality"`
	SampleRate   int      `toml:"samplerate"`
	Channels     int      `toml:"channels"`
	Speed        *int     `toml:"speed"`
	TileColumns  *int     `toml:"tile_columns"`
	Slices       *int     `toml:"slices"`
	TwoPass      bool     `toml:"twopass"`
	Intraframe   bool     `toml:"intraframe"`
	Streaming    string   `toml:"streaming"`
	RemuxFrom    []string `toml:"remux_from"`
}

// Extension returns the container extension encoded in the key.
func (s Spec) Extension() string {
	idx := strings.LastIndexByte(s.Key, '.')
	if idx < 0 {
		return s.Key
	}
	return s.Key[idx+1:]
}

// IsHLS reports whether the variant is segmented for HLS delivery.
func (s Spec) IsHLS() bool {
	return s.Streaming == StreamingHLS
}

// IsAudioOnly reports whether the variant carries no video track.
func (s Spec) IsAudioOnly() bool {
	return s.NoVideo
}

// Codec returns the primary codec: video when present, otherwise audio.
func (s Spec) Codec() string {
	if !s.NoVideo && s.VideoCodec != "" {
		return s.VideoCodec
	}
	if s.AudioCodec != "" {
		return s.AudioCodec
	}
	return s.Key
}

// IsOgg reports whether the output is an Ogg container.
func (s Spec) IsOgg() bool {
	return strings.Contains(s.Type, "/ogg")
}

// TargetHeight returns the intended output height, or zero when unbounded.
func (s Spec) TargetHeight() int {
	if s.Height > 0 {
		return s.Height
	}
	_, h, ok := ParseMaxSize(s.MaxSize)
	if !ok {
		return 0
	}
	return h
}

// Validate checks that the spec is internally consistent.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Key) == "" {
		return services.Wrap(services.ErrConfiguration, "catalog", "validate", "variant key is empty", nil)
	}
	fail := func(format string, args ...any) error {
		return services.Wrap(services.ErrConfiguration, "catalog", s.Key, fmt.Sprintf(format, args...), nil)
	}
	if s.NoVideo {
		if s.AudioCodec == "" {
			return fail("audio-only variant requires an audio codec")
		}
	} else {
		if s.VideoCodec == "" {
			return fail("video variant requires a video codec")
		}
		if _, ok := videoCodecs[s.VideoCodec]; !ok {
			return fail("unknown target encode codec %q", s.VideoCodec)
		}
	}
	for name, rate := range map[string]string{
		"video_bitrate": s.VideoBitrate,
		"minrate":       s.MinRate,
		"maxrate":       s.MaxRate,
		"audio_bitrate": s.AudioBitrate,
	} {
		if rate == "" {
			continue
		}
		if _, err := ExpandRate(rate); err != nil {
			return fail("%s: %v", name, err)
		}
	}
	if s.MaxSize != "" {
		if _, _, ok := ParseMaxSize(s.MaxSize); !ok {
			return fail("max_size %q is not WxH or a single dimension", s.MaxSize)
		}
	}
	for name, value := range map[string]string{"framerate": s.FrameRate, "fpsmax": s.FPSMax} {
		if value == "" {
			continue
		}
		if f, err := ParseFraction(value); err != nil || f <= 0 {
			return fail("%s %q is not a positive rate", name, value)
		}
	}
	switch s.Streaming {
	case "":
	case StreamingHLS:
		if !IsBaseMediaFormat(s.Extension()) && s.Extension() != "mp3" {
			return fail("invalid HLS track media type, expected .mp4, .m4v, .m4a, .mov, .3gp, or .mp3")
		}
	default:
		return fail("unsupported streaming mode %q", s.Streaming)
	}
	return nil
}

// IsBaseMediaFormat reports whether ext names an ISO base media container.
func IsBaseMediaFormat(ext string) bool {
	_, ok := baseMediaExtensions[strings.ToLower(ext)]
	return ok
}

// ExpandRate converts a rate with an optional k/m/g suffix to bits per second.
func ExpandRate(rate string) (int64, error) {
	value := strings.ToLower(strings.TrimSpace(rate))
	if value == "" {
		return 0, fmt.Errorf("empty rate")
	}
	multiplier := 1.0
	switch value[len(value)-1] {
	case 'k':
		multiplier = 1e3
		value = value[:len(value)-1]
	case 'm':
		multiplier = 1e6
		value = value[:len(value)-1]
	case 'g':
		multiplier = 1e9
		value = value[:len(value)-1]
	}
	base, err := strconv.ParseFloat(value, 64)
	if err != nil || base < 0 {
		return 0, fmt.Errorf("invalid rate %q", rate)
	}
	return int64(base * multiplier), nil
}

// ParseFraction parses "30000/1001" or "29.97".
func ParseFraction(value string) (float64, error) {
	value = strings.TrimSpace(value)
	num, den, found := strings.Cut(value, "/")
	n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, fmt.Errorf("parse rate %q: %w", value, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
	if err != nil {
		return 0, fmt.Errorf("parse rate %q: %w", value, err)
	}
	if d == 0 {
		return 0, nil
	}
	return n / d, nil
}

// ParseMaxSize parses "WxH" or a single number meaning a bounding square.
func ParseMaxSize(value string) (int, int, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return 0, 0, false
	}
	w, h, found := strings.Cut(value, "x")
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return 0, 0, false
	}
	if !found {
		return width, width, true
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}
