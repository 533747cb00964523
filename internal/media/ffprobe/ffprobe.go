package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Result is the decoded -show_streams -show_format payload.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

type Stream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	FieldOrder   string `json:"field_order"`
	SampleRate   string `json:"sample_rate"`
	Channels     int    `json:"channels"`
	Disposition  struct {
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
}

type Format struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

// Inspect runs binary (ffprobe when empty) against path. Stderr is kept out
// of the JSON and attached to the error on failure.
func Inspect(ctx context.Context, binary, path string) (Result, error) {
	if strings.TrimSpace(path) == "" {
		return Result{}, errors.New("ffprobe: empty path")
	}
	if binary = strings.TrimSpace(binary); binary == "" {
		binary = "ffprobe"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary,
		"-v", "error", "-hide_banner", "-of", "json", "-show_format", "-show_streams", "--", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe %s: decode output: %w", path, err)
	}
	return result, nil
}

// PrimaryVideo returns the first video stream that is not attached cover art.
func (r Result) PrimaryVideo() (Stream, bool) {
	for _, s := range r.Streams {
		if s.CodecType == "video" && s.Disposition.AttachedPic == 0 {
			return s, true
		}
	}
	return Stream{}, false
}

// HasAudio reports whether any audio stream is present.
func (r Result) HasAudio() bool {
	for _, s := range r.Streams {
		if s.CodecType == "audio" {
			return true
		}
	}
	return false
}

// Duration returns the container duration in seconds. ok is false when
// ffprobe reported none or the value does not parse.
func (r Result) Duration() (seconds float64, ok bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// FrameRate is avg_frame_rate of the primary video, or r_frame_rate when the
// average is missing or implausible. Zero means unknown.
func (r Result) FrameRate() float64 {
	video, ok := r.PrimaryVideo()
	if !ok {
		return 0
	}
	for _, rate := range []string{video.AvgFrameRate, video.RFrameRate} {
		if fps := ratio(rate); fps > 0 && fps < 1000 {
			return fps
		}
	}
	return 0
}

// Interlaced reports a field-coded primary video stream.
func (r Result) Interlaced() bool {
	video, ok := r.PrimaryVideo()
	if !ok {
		return false
	}
	switch strings.ToLower(video.FieldOrder) {
	case "tt", "bb", "tb", "bt":
		return true
	}
	return false
}

func ratio(value string) float64 {
	num, den, hasDen := strings.Cut(strings.TrimSpace(value), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !hasDen {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
