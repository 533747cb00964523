package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"transcoder/internal/hls"
	"transcoder/internal/logging"
	"transcoder/internal/metrics"
	"transcoder/internal/queue"
	"transcoder/internal/services"
	"transcoder/internal/variant"
)

const (
	stagePublish        = "publish"
	playlistContentType = "application/vnd.apple.mpegurl; charset=utf-8"
)

// ObjectStore is the storage surface the publisher writes through.
// storage.FileStore satisfies it.
type ObjectStore interface {
	Import(ctx context.Context, src, assetID, name string, headers map[string]string) error
	Remove(ctx context.Context, assetID, name string) error
	URL(assetID, name string) string
}

// Finisher records the terminal result of a claimed job and lists an
// asset's jobs for the multivariant playlist.
type Finisher interface {
	Get(ctx context.Context, assetID, variantKey string) (*queue.Job, error)
	FinishSuccess(ctx context.Context, token queue.Token, finalBitrate int64) error
	ListByAsset(ctx context.Context, assetID string) ([]*queue.Job, error)
}

// Request is one finished encode ready for publication.
type Request struct {
	Token   queue.Token
	Variant variant.Spec
	// MediaPath is the encoder output in the scratch directory.
	MediaPath string
	// PlaylistPath is set for streaming variants.
	PlaylistPath string
	// Duration of the media in seconds, used for the bitrate and the Ogg
	// duration header.
	Duration float64
}

// Result describes what was published.
type Result struct {
	Bitrate         int64
	Size            int64
	URL             string
	PlaylistURL     string
	MultivariantURL string
}

// Publisher imports derivatives and finishes their jobs.
type Publisher struct {
	store   ObjectStore
	jobs    Finisher
	catalog variant.Catalog
	purger  Purger
	logger  *slog.Logger

	// manifestMu serializes multivariant rebuilds within this process.
	manifestMu sync.Mutex
}

// New constructs a Publisher. catalog resolves the variants listed in an
// asset's multivariant playlist. A nil purger logs instead of purging.
func New(store ObjectStore, jobs Finisher, catalog variant.Catalog, purger Purger, logger *slog.Logger) *Publisher {
	if purger == nil {
		purger = NewLogPurger(logger)
	}
	return &Publisher{
		store:   store,
		jobs:    jobs,
		catalog: catalog,
		purger:  purger,
		logger:  logging.NewComponentLogger(logger, "publisher"),
	}
}

// ObjectName is the stored name of the derivative of assetID for variantKey.
func ObjectName(assetID, variantKey string) string {
	return assetID + "." + variantKey
}

// MultivariantName is the stored name of the playlist that lists every
// published HLS track of assetID.
func MultivariantName(assetID string) string {
	return assetID + hls.PlaylistExt
}

// Bitrate returns the average bitrate in bits per second, or zero when the
// duration is unknown.
func Bitrate(size int64, durationSeconds float64) int64 {
	if durationSeconds <= 0 || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		return 0
	}
	return int64(math.Round(float64(size) * 8 / durationSeconds))
}

// Commit publishes req and records success. It returns ErrRaceDetected
// without touching storage when the token no longer owns the job.
func (p *Publisher) Commit(ctx context.Context, req Request) (Result, error) {
	token := req.Token
	assetID := token.AssetID
	logger := logging.WithContext(ctx, p.logger)

	info, err := os.Stat(req.MediaPath)
	if err != nil || !info.Mode().IsRegular() {
		return Result{}, services.Wrap(services.ErrSandboxExecution, stagePublish, "verify",
			fmt.Sprintf("Target does not exist: %s", filepath.Base(req.MediaPath)), err)
	}
	if info.Size() == 0 {
		return Result{}, services.Wrap(services.ErrSandboxExecution, stagePublish, "verify",
			fmt.Sprintf("Target is empty: %s", filepath.Base(req.MediaPath)), nil)
	}
	if err := p.checkToken(ctx, token); err != nil {
		return Result{}, err
	}

	name := ObjectName(assetID, token.VariantKey)
	result := Result{
		Size:    info.Size(),
		Bitrate: Bitrate(info.Size(), req.Duration),
		URL:     p.store.URL(assetID, name),
	}

	var headers map[string]string
	if req.Variant.IsOgg() && req.Duration > 0 {
		headers = map[string]string{"X-Content-Duration": strconv.FormatFloat(req.Duration, 'f', 6, 64)}
	}
	if err := p.store.Import(ctx, req.MediaPath, assetID, name, headers); err != nil {
		return Result{}, err
	}
	imported := []string{name}

	if req.PlaylistPath != "" {
		playlistName := name + hls.PlaylistExt
		err := p.store.Import(ctx, req.PlaylistPath, assetID, playlistName,
			map[string]string{"Content-Type": playlistContentType})
		if err != nil {
			p.rollback(ctx, logger, assetID, name)
			return Result{}, services.Wrap(services.ErrPublication, stagePublish, "import playlist", playlistName, err)
		}
		imported = append(imported, playlistName)
		result.PlaylistURL = p.store.URL(assetID, playlistName)
	}

	if err := p.jobs.FinishSuccess(ctx, token, result.Bitrate); err != nil {
		// After a race the objects may already belong to the newer attempt.
		if !IsSuperseded(err) {
			p.rollback(ctx, logger, assetID, imported...)
		}
		return Result{}, err
	}
	metrics.PublishedBytes.Add(float64(result.Size))

	urls := []string{result.URL}
	if result.PlaylistURL != "" {
		urls = append(urls, result.PlaylistURL)
	}
	if req.Variant.IsHLS() {
		if mvURL, err := p.updateMultivariant(ctx, assetID, filepath.Dir(req.MediaPath)); err != nil {
			logging.WarnWithContext(logger, "multivariant playlist update failed", "multivariant_failed",
				logging.Error(err),
			)
		} else if mvURL != "" {
			result.MultivariantURL = mvURL
			urls = append(urls, mvURL)
		}
	}
	if err := p.purger.Purge(ctx, urls); err != nil {
		logging.WarnWithContext(logger, "cache purge failed", "purge_failed",
			logging.Any("urls", urls),
			logging.Error(err),
		)
	}

	logger.Info("derivative published",
		logging.String("url", result.URL),
		logging.Int64("bytes", result.Size),
		logging.Int64("bitrate", result.Bitrate),
	)
	return result, nil
}

// rollback removes objects imported by an attempt that could not finish.
func (p *Publisher) rollback(ctx context.Context, logger *slog.Logger, assetID string, names ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, name := range names {
		if err := p.store.Remove(ctx, assetID, name); err != nil {
			logging.WarnWithContext(logger, "failed to remove object after failed publication", "publish_rollback",
				logging.String("object", name),
				logging.Error(err),
			)
		}
	}
}

// updateMultivariant rebuilds the asset's multivariant playlist from its
// succeeded HLS jobs and returns the playlist URL. scratch holds the
// rendered playlist until it is imported.
func (p *Publisher) updateMultivariant(ctx context.Context, assetID, scratch string) (string, error) {
	p.manifestMu.Lock()
	defer p.manifestMu.Unlock()

	jobs, err := p.jobs.ListByAsset(ctx, assetID)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stagePublish, "multivariant", "list jobs", err)
	}
	succeeded := make(map[string]*queue.Job, len(jobs))
	keys := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if job.State() != queue.StateSucceeded {
			continue
		}
		succeeded[job.VariantKey] = job
		keys = append(keys, job.VariantKey)
	}

	var tracks []hls.Track
	for _, key := range p.catalog.SortForDisplay(keys) {
		spec, ok := p.catalog.Lookup(key)
		if !ok || !spec.IsHLS() {
			continue
		}
		tracks = append(tracks, trackFor(assetID, spec, succeeded[key].FinalBitrate))
	}
	if len(tracks) == 0 {
		return "", nil
	}

	data, err := hls.MarshalMultivariant(tracks)
	if err != nil {
		return "", services.Wrap(services.ErrPublication, stagePublish, "multivariant", "marshal playlist", err)
	}
	tmp, err := os.CreateTemp(scratch, "multivariant-*"+hls.PlaylistExt)
	if err != nil {
		return "", services.Wrap(services.ErrPublication, stagePublish, "multivariant", "create scratch playlist", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", services.Wrap(services.ErrPublication, stagePublish, "multivariant", "write scratch playlist", err)
	}
	if err := tmp.Close(); err != nil {
		return "", services.Wrap(services.ErrPublication, stagePublish, "multivariant", "write scratch playlist", err)
	}

	name := MultivariantName(assetID)
	if err := p.store.Import(ctx, tmp.Name(), assetID, name, map[string]string{"Content-Type": playlistContentType}); err != nil {
		return "", err
	}
	return p.store.URL(assetID, name), nil
}

// trackFor describes the published playlist of spec. The measured bitrate
// is preferred; the configured rates stand in when the duration was unknown.
func trackFor(assetID string, spec variant.Spec, bitrate int64) hls.Track {
	if bitrate <= 0 {
		video, _ := variant.ExpandRate(spec.VideoBitrate)
		audio, _ := variant.ExpandRate(spec.AudioBitrate)
		bitrate = video + audio
	}
	track := hls.Track{
		Name:      spec.Key,
		URI:       path.Base(ObjectName(assetID, spec.Key)) + hls.PlaylistExt,
		Bandwidth: int(max(bitrate, 1)),
		Codecs:    typeCodecs(spec),
		AudioOnly: spec.IsAudioOnly(),
	}
	if w, h, ok := variant.ParseMaxSize(spec.MaxSize); ok && !track.AudioOnly {
		track.Resolution = fmt.Sprintf("%dx%d", w, h)
	}
	return track
}

// typeCodecs returns the codecs parameter of the variant's MIME type, or the
// variant's codec name when the type carries none.
func typeCodecs(spec variant.Spec) []string {
	_, params, err := mime.ParseMediaType(spec.Type)
	if err == nil && params["codecs"] != "" {
		var codecs []string
		for _, c := range strings.Split(params["codecs"], ",") {
			if c = strings.TrimSpace(c); c != "" {
				codecs = append(codecs, c)
			}
		}
		return codecs
	}
	return []string{spec.Codec()}
}

// checkToken fails fast when a reset or newer attempt superseded the token.
func (p *Publisher) checkToken(ctx context.Context, token queue.Token) error {
	job, err := p.jobs.Get(ctx, token.AssetID, token.VariantKey)
	if err != nil {
		return services.Wrap(services.ErrTransient, stagePublish, "check token", "read job state", err)
	}
	if job == nil || job.StartedAt == nil || !job.StartedAt.Equal(token.StartedAt) {
		return services.Wrap(services.ErrRaceDetected, stagePublish, "check token",
			fmt.Sprintf("%s/%s was reset or restarted during the encode", token.AssetID, token.VariantKey), nil)
	}
	return nil
}

// IsSuperseded reports whether err means the attempt lost ownership.
func IsSuperseded(err error) bool {
	return errors.Is(err, services.ErrRaceDetected)
}
