package encoding

import (
	"strconv"

	"transcoder/internal/variant"
)

var audioEncoders = map[string]string{
	"vorbis": "libvorbis",
	"opus":   "libopus",
	"mp3":    "libmp3lame",
}

// PassArgs holds ffmpeg invocation arguments, excluding the binary.
type PassArgs []string

// Args returns the ffmpeg arguments for pass (1 or 2 for two-pass encodes,
// 0 for single pass). passLog is the passlog prefix used by two-pass runs.
func (p Params) Args(input, output string, pass int, passLog string) PassArgs {
	args := []string{"-nostdin", "-hide_banner", "-y", "-i", input}
	args = append(args, p.videoArgs...)
	if pass > 0 {
		args = append(args, "-pass", strconv.Itoa(pass), "-passlogfile", passLog)
	}
	args = append(args, p.muxArgs...)
	if pass == 1 {
		format := p.Format
		if format == "" {
			format = "null"
		}
		return append(args, "-an", "-f", format, "/dev/null")
	}
	args = append(args, p.audioArgs...)
	args = append(args, p.containerArgs...)
	return append(args, output)
}

// SynthArgs returns the fluidsynth arguments that render a MIDI source to a
// WAV file at the variant's sample rate.
func (p Params) SynthArgs(soundFont, input, wavOutput string) PassArgs {
	rate := p.Variant.SampleRate
	if rate <= 0 {
		rate = 44100
	}
	return []string{"-ni", "-F", wavOutput, "-r", strconv.Itoa(rate), soundFont, input}
}

func (d *Deriver) codecArgs(spec variant.Spec) []string {
	threads := strconv.Itoa(d.settings.Threads)
	switch spec.VideoCodec {
	case "vp8", "vp9":
		args := []string{"-threads", threads}
		if d.settings.VP9RowMT && spec.VideoCodec == "vp9" {
			args = append(args, "-row-mt", "1")
		}
		args = append(args, "-pix_fmt", "yuv420p")
		if spec.CRF != nil {
			args = append(args, "-crf", strconv.Itoa(*spec.CRF))
		}
		if spec.VideoCodec == "vp9" {
			args = append(args, "-vcodec", "libvpx-vp9")
			if spec.TileColumns != nil {
				args = append(args, "-tile-columns", strconv.Itoa(*spec.TileColumns))
			}
		} else {
			args = append(args, "-vcodec", "libvpx")
			if spec.Slices != nil {
				args = append(args, "-slices", strconv.Itoa(*spec.Slices))
			}
		}
		args = append(args, "-quality", "good")
		if spec.Speed != nil {
			args = append(args, "-speed", strconv.Itoa(*spec.Speed))
		}
		return args
	case "h264":
		return []string{"-threads", threads, "-vcodec", "libx264", "-pix_fmt", "yuv420p", "-rc-lookahead", "16"}
	case "mpeg4":
		return []string{"-vcodec", "mpeg4", "-pix_fmt", "yuv420p"}
	case "mjpeg":
		return []string{"-vcodec", "mjpeg", "-pix_fmt", "yuvj420p"}
	default:
		return []string{"-vcodec", spec.VideoCodec, "-pix_fmt", "yuv420p"}
	}
}

func audioArgs(spec variant.Spec) []string {
	if spec.NoAudio {
		return []string{"-an"}
	}
	var args []string
	if spec.AudioQuality != nil {
		args = append(args, "-aq", strconv.Itoa(*spec.AudioQuality))
	}
	if spec.AudioBitrate != "" {
		if rate, err := variant.ExpandRate(spec.AudioBitrate); err == nil {
			args = append(args, "-ab", strconv.FormatInt(rate, 10))
		}
	}
	if spec.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(spec.SampleRate))
	}
	if spec.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(spec.Channels))
	}
	codec := "libvorbis"
	if spec.AudioCodec != "" {
		codec = spec.AudioCodec
		if enc, ok := audioEncoders[spec.AudioCodec]; ok {
			codec = enc
		}
	}
	args = append(args, "-acodec", codec)
	if codec == "aac" {
		args = append(args, "-strict", "experimental")
	}
	return args
}

func (d *Deriver) muxArgs() []string {
	if d.settings.MuxingQueueSize <= 0 {
		return nil
	}
	return []string{"-max_muxing_queue_size", strconv.Itoa(d.settings.MuxingQueueSize)}
}

func (d *Deriver) containerArgs(spec variant.Spec) []string {
	ext := spec.Extension()
	if !variant.IsBaseMediaFormat(ext) {
		return nil
	}
	if !spec.IsHLS() {
		return []string{"-movflags", "+faststart"}
	}
	// Fragments are cut here; the segmenter only regroups them.
	if spec.NoVideo || spec.Intraframe {
		return []string{"-movflags", "+empty_moov+default_base_moof", "-frag_duration", strconv.Itoa(d.settings.SegmentSeconds*1_000_000), "-strict", "experimental"}
	}
	return []string{"-movflags", "+frag_keyframe+empty_moov+default_base_moof", "-strict", "experimental"}
}
