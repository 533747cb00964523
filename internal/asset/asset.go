package asset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"transcoder/internal/logging"
	"transcoder/internal/media/ffprobe"
	"transcoder/internal/services"
)

// MediaType classifies a source for variant selection.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
	MediaMIDI  MediaType = "midi"
)

// Asset is the read-only description of a source media file.
type Asset struct {
	ID         string
	Path       string
	Duration   float64
	Width      int
	Height     int
	FrameRate  float64
	Interlaced bool
	MimeType   string
	Container  string
	MediaType  MediaType
	HasVideo   bool
	HasAudio   bool
}

// IsMIDI reports whether the asset is a MIDI sequence.
func (a Asset) IsMIDI() bool {
	return a.MediaType == MediaMIDI
}

// IsAudio reports whether the asset has no motion video.
func (a Asset) IsAudio() bool {
	return a.MediaType != MediaVideo
}

// ProbeFunc inspects a media file. ffprobe.Inspect satisfies it.
type ProbeFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Library resolves assets beneath a root directory.
type Library struct {
	root    string
	ffprobe string
	probe   ProbeFunc
	logger  *slog.Logger
}

// Option customizes a Library.
type Option func(*Library)

// WithProbe replaces the ffprobe invocation, mainly for tests.
func WithProbe(fn ProbeFunc) Option {
	return func(l *Library) {
		if fn != nil {
			l.probe = fn
		}
	}
}

// NewLibrary constructs a Library rooted at root.
func NewLibrary(root, ffprobeBinary string, logger *slog.Logger, opts ...Option) *Library {
	lib := &Library{
		root:    root,
		ffprobe: ffprobeBinary,
		probe:   ffprobe.Inspect,
		logger:  logging.NewComponentLogger(logger, "asset"),
	}
	for _, opt := range opts {
		opt(lib)
	}
	return lib
}

// Resolve maps an identifier to a path inside the library root. Ids that
// would leave the root are rejected rather than cleaned.
func (l *Library) Resolve(id string) (string, error) {
	if err := services.ValidateAssetID(id); err != nil {
		return "", err
	}
	path := filepath.Join(l.root, filepath.FromSlash(id))
	if rel, err := filepath.Rel(l.root, path); err != nil || !filepath.IsLocal(rel) {
		return "", services.Wrap(services.ErrValidation, "source", "resolve", fmt.Sprintf("%q escapes the media root", id), err)
	}
	return path, nil
}

// Lookup resolves id and probes the file.
func (l *Library) Lookup(ctx context.Context, id string) (Asset, error) {
	path, err := l.Resolve(id)
	if err != nil {
		return Asset{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Asset{}, services.Wrap(services.ErrSourceUnavailable, "source", "lookup", fmt.Sprintf("%s: File not found", id), nil)
		}
		return Asset{}, services.Wrap(services.ErrSourceUnavailable, "source", "lookup", id, err)
	}
	if !info.Mode().IsRegular() {
		return Asset{}, services.Wrap(services.ErrSourceUnavailable, "source", "lookup", fmt.Sprintf("%s: not a regular file", id), nil)
	}

	a := Asset{ID: id, Path: path, MimeType: mimeFor(path)}
	if a.MimeType == "audio/midi" {
		a.MediaType = MediaMIDI
		a.HasAudio = true
		return a, nil
	}

	result, err := l.probe(ctx, l.ffprobe, path)
	if err != nil {
		return Asset{}, services.Wrap(services.ErrSourceUnavailable, "source", "probe", id, err)
	}
	applyProbe(&a, result)
	l.logger.Debug("asset probed",
		logging.String(logging.FieldAssetID, id),
		logging.Float64("duration", a.Duration),
		logging.Float64("fps", a.FrameRate),
		logging.Bool("interlaced", a.Interlaced),
		logging.String("media_type", string(a.MediaType)),
	)
	return a, nil
}

// ProbeDuration reports the duration of an arbitrary media file, used when
// the source itself carries no duration (MIDI).
func (l *Library) ProbeDuration(ctx context.Context, path string) (float64, error) {
	result, err := l.probe(ctx, l.ffprobe, path)
	if err != nil {
		return 0, err
	}
	d, _ := result.Duration()
	return d, nil
}

func applyProbe(a *Asset, result ffprobe.Result) {
	if d, ok := result.Duration(); ok && d > 0 {
		a.Duration = d
	}
	a.Container = containerFor(result.Format.FormatName)
	a.HasAudio = result.HasAudio()
	if video, ok := result.PrimaryVideo(); ok {
		a.HasVideo = true
		a.Width = video.Width
		a.Height = video.Height
		a.FrameRate = result.FrameRate()
		a.Interlaced = result.Interlaced()
	}
	if a.HasVideo {
		a.MediaType = MediaVideo
	} else {
		a.MediaType = MediaAudio
	}
}

func containerFor(formatName string) string {
	names := strings.Split(strings.ToLower(formatName), ",")
	for _, name := range names {
		switch strings.TrimSpace(name) {
		case "webm", "matroska":
			return "webm"
		case "ogg":
			return "ogg"
		case "mp4", "mov", "m4a", "3gp":
			return "mp4"
		case "mpeg", "mpegts", "mpegvideo":
			return "mpeg"
		}
	}
	if len(names) > 0 {
		return strings.TrimSpace(names[0])
	}
	return ""
}

var fallbackMime = map[string]string{
	".webm": "video/webm",
	".ogv":  "video/ogg",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".m4a":  "audio/mp4",
	".mov":  "video/quicktime",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".mid":  "audio/midi",
	".midi": "audio/midi",
	".kar":  "audio/midi",
}

func mimeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if m, ok := fallbackMime[ext]; ok {
		return m
	}
	if m := mime.TypeByExtension(ext); m != "" {
		base, _, _ := strings.Cut(m, ";")
		return strings.TrimSpace(base)
	}
	return "application/octet-stream"
}

// Transcodable reports whether derivatives can be produced for a. Video in
// webm, ogg, mp4, or mpeg containers is transcodable when transcoding is
// enabled; audio and MIDI need a non-empty audio set.
func Transcodable(a Asset, transcodeEnabled bool, audioSet []string) bool {
	if !transcodeEnabled && len(audioSet) == 0 {
		return false
	}
	if !a.IsAudio() {
		if !transcodeEnabled {
			return false
		}
		switch a.Container {
		case "webm", "ogg", "mp4", "mpeg":
			return true
		default:
			return false
		}
	}
	return len(audioSet) > 0
}
