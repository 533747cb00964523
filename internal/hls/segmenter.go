package hls

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"transcoder/internal/logging"
	"transcoder/internal/services"
)

// DefaultTarget is the segment duration HLS tracks aim for.
const DefaultTarget = 10 * time.Second

// PlaylistExt is appended to the media path to name its playlist.
const PlaylistExt = ".m3u8"

// ByteRange addresses part of the media file.
type ByteRange struct {
	Offset uint64
	Length uint64
}

// Segment is one playlist entry.
type Segment struct {
	ByteRange
	Duration time.Duration
	Keyframe bool
}

// Request describes a segmentation job.
type Request struct {
	MediaPath string
	// URI is the name the playlist uses to reference the media, normally the
	// published file's base name.
	URI string
	// FixedInterval treats every fragment as independently decodable, as for
	// audio-only and intraframe tracks.
	FixedInterval bool
}

// Result describes the segmented track.
type Result struct {
	Init         *ByteRange
	Segments     []Segment
	PlaylistPath string
	Total        time.Duration
}

// Segmenter segments encodes and writes playlists.
type Segmenter struct {
	target time.Duration
	logger *slog.Logger
}

// New constructs a Segmenter. A non-positive target uses DefaultTarget.
func New(target time.Duration, logger *slog.Logger) *Segmenter {
	if target <= 0 {
		target = DefaultTarget
	}
	return &Segmenter{target: target, logger: logging.NewComponentLogger(logger, "hls")}
}

// PlaylistPath returns the playlist location for mediaPath.
func PlaylistPath(mediaPath string) string {
	return mediaPath + PlaylistExt
}

// Segment rewrites the media in place where needed and writes its playlist.
func (s *Segmenter) Segment(ctx context.Context, req Request) (Result, error) {
	if req.URI == "" {
		req.URI = filepath.Base(req.MediaPath)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var (
		init     *ByteRange
		segments []Segment
		err      error
	)
	if strings.EqualFold(filepath.Ext(req.MediaPath), ".mp3") {
		segments, err = segmentMP3(req.MediaPath, s.target)
	} else {
		init, segments, err = s.segmentFMP4(ctx, req)
	}
	if err != nil {
		return Result{}, err
	}
	if len(segments) == 0 {
		return Result{}, services.Wrap(services.ErrPublication, "hls", "segment", "no media segments found in "+filepath.Base(req.MediaPath), nil)
	}

	data, err := marshalPlaylist(req.URI, init, segments)
	if err != nil {
		return Result{}, services.Wrap(services.ErrPublication, "hls", "playlist", "marshal playlist", err)
	}
	result := Result{Init: init, Segments: segments, PlaylistPath: PlaylistPath(req.MediaPath)}
	for _, seg := range segments {
		result.Total += seg.Duration
	}
	if err := os.WriteFile(result.PlaylistPath, data, 0o644); err != nil {
		return Result{}, services.Wrap(services.ErrPublication, "hls", "playlist", "write playlist", err)
	}

	logging.WithContext(ctx, s.logger).Info("hls track segmented",
		logging.String("media", filepath.Base(req.MediaPath)),
		logging.Int("segments", len(segments)),
		logging.Duration("total", result.Total),
	)
	return result, nil
}

func marshalPlaylist(uri string, init *ByteRange, segments []Segment) ([]byte, error) {
	vod := playlist.MediaPlaylistTypeVOD
	pl := &playlist.Media{
		Version:        7,
		TargetDuration: targetDuration(segments),
		PlaylistType:   &vod,
		Endlist:        true,
	}
	if init != nil {
		pl.Map = &playlist.MediaMap{
			URI:             uri,
			ByteRangeLength: uint64Ptr(init.Length),
			ByteRangeStart:  uint64Ptr(init.Offset),
		}
	}
	for _, seg := range segments {
		pl.Segments = append(pl.Segments, &playlist.MediaSegment{
			Duration:        seg.Duration,
			URI:             uri,
			ByteRangeLength: uint64Ptr(seg.Length),
			ByteRangeStart:  uint64Ptr(seg.Offset),
		})
	}
	return pl.Marshal()
}

// targetDuration is the longest segment rounded up to whole seconds, as
// EXT-X-TARGETDURATION requires.
func targetDuration(segments []Segment) int {
	longest := 0.0
	for _, seg := range segments {
		longest = math.Max(longest, seg.Duration.Seconds())
	}
	return max(int(math.Ceil(longest)), 1)
}

// consolidate merges fragments into segments no longer than target. A
// fragment that does not start on a keyframe always joins the previous
// segment.
func consolidate(fragments []Segment, target time.Duration) []Segment {
	const slack = time.Millisecond
	out := make([]Segment, 0, len(fragments))
	for _, frag := range fragments {
		if len(out) == 0 {
			out = append(out, frag)
			continue
		}
		last := &out[len(out)-1]
		if frag.Keyframe && last.Duration+frag.Duration > target+slack {
			out = append(out, frag)
			continue
		}
		last.Length = frag.Offset + frag.Length - last.Offset
		last.Duration += frag.Duration
	}
	return out
}

func uint64Ptr(v uint64) *uint64 { return &v }

func ticksToDuration(ticks uint64, timescale uint32) time.Duration {
	if timescale == 0 {
		return 0
	}
	return time.Duration(float64(ticks) / float64(timescale) * float64(time.Second))
}

func malformed(path, format string, args ...any) error {
	return services.Wrap(services.ErrPublication, "hls", filepath.Base(path), fmt.Sprintf(format, args...), nil)
}
