package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const encoderProbeTimeout = 10 * time.Second

// requiredEncoders maps the ffmpeg encoder names the catalog relies on to the
// codecs that use them. libx264 and aac are optional so builds without them
// can still serve the royalty-free variants.
var requiredEncoders = []struct {
	name     string
	codec    string
	optional bool
}{
	{name: "libvpx-vp9", codec: "vp9"},
	{name: "libvpx", codec: "vp8"},
	{name: "libopus", codec: "opus"},
	{name: "libvorbis", codec: "vorbis"},
	{name: "libmp3lame", codec: "mp3"},
	{name: "mjpeg", codec: "mjpeg"},
	{name: "libtheora", codec: "theora", optional: true},
	{name: "libx264", codec: "h264", optional: true},
	{name: "aac", codec: "aac", optional: true},
}

// CheckFFmpegEncoders lists the encoders compiled into ffmpeg and reports
// one Status per encoder the catalog uses.
func CheckFFmpegEncoders(ffmpeg string) []Status {
	ctx, cancel := context.WithTimeout(context.Background(), encoderProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, ffmpeg, "-hide_banner", "-encoders").Output()
	if err != nil {
		return []Status{{
			Name:        "FFmpeg encoders",
			Command:     ffmpeg,
			Description: "Encoder inventory",
			Detail:      fmt.Sprintf("list encoders: %v", err),
		}}
	}
	available := ParseEncoders(out)

	results := make([]Status, 0, len(requiredEncoders))
	for _, enc := range requiredEncoders {
		status := Status{
			Name:        "ffmpeg " + enc.name,
			Command:     ffmpeg,
			Description: "Encoder for " + enc.codec + " variants",
			Optional:    enc.optional,
		}
		if _, ok := available[enc.name]; ok {
			status.Available = true
		} else {
			status.Detail = fmt.Sprintf("encoder %q not compiled into ffmpeg", enc.name)
		}
		results = append(results, status)
	}
	return results
}

// ParseEncoders reads `ffmpeg -encoders` output. Each encoder line starts
// with a six-character capability column followed by the encoder name.
func ParseEncoders(output []byte) map[string]struct{} {
	encoders := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(output))
	inList := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = struct{}{}
	}
	return encoders
}
