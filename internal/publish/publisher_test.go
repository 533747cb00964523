package publish_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	hlsplaylist "github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"transcoder/internal/publish"
	"transcoder/internal/queue"
	"transcoder/internal/services"
	"transcoder/internal/storage"
	"transcoder/internal/testsupport"
	"transcoder/internal/variant"
)

type recordingPurger struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (r *recordingPurger) Purge(_ context.Context, urls []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, urls...)
	return r.err
}

func (r *recordingPurger) Close() error { return nil }

type failingPlaylistStore struct {
	*storage.FileStore
}

func (f failingPlaylistStore) Import(ctx context.Context, src, assetID, name string, headers map[string]string) error {
	if strings.HasSuffix(name, ".m3u8") {
		return errors.New("disk full")
	}
	return f.FileStore.Import(ctx, src, assetID, name, headers)
}

type fixture struct {
	jobs    *queue.Store
	objects *storage.FileStore
	purger  *recordingPurger
	scratch string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return fixture{
		jobs:    testsupport.MustOpenStore(t, cfg),
		objects: storage.NewFileStore(cfg.Storage.Root, cfg.Storage.BaseURL, nil),
		purger:  &recordingPurger{},
		scratch: t.TempDir(),
	}
}

var oggSpec = variant.Spec{Key: "ogg", Type: `audio/ogg; codecs="vorbis"`, NoVideo: true, AudioCodec: "vorbis"}

func TestCommitRecordsRoundTripBitrate(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	token := testsupport.MustClaim(t, fx.jobs, "Song.flac", "ogg")

	media := filepath.Join(fx.scratch, "Song.flac.ogg")
	testsupport.WriteFile(t, media, 125_000)

	pub := publish.New(fx.objects, fx.jobs, variant.Builtin(), fx.purger, nil)
	result, err := pub.Commit(ctx, publish.Request{
		Token:     token,
		Variant:   oggSpec,
		MediaPath: media,
		Duration:  10,
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if result.Bitrate != 100_000 {
		t.Fatalf("bitrate = %d, want 100000", result.Bitrate)
	}

	job, err := fx.jobs.Get(ctx, "Song.flac", "ogg")
	if err != nil {
		t.Fatal(err)
	}
	if job.State() != queue.StateSucceeded || job.FinalBitrate != 100_000 {
		t.Fatalf("job = %+v", job)
	}
	if got := publish.Bitrate(result.Size, 10); got != job.FinalBitrate {
		t.Fatalf("stored bitrate %d does not match size and duration (%d)", job.FinalBitrate, got)
	}

	headers, err := fx.objects.Headers("Song.flac", "Song.flac.ogg")
	if err != nil {
		t.Fatal(err)
	}
	if headers["X-Content-Duration"] != "10.000000" {
		t.Fatalf("headers = %#v", headers)
	}
	if len(fx.purger.urls) != 1 || fx.purger.urls[0] != result.URL {
		t.Fatalf("purged %v, want [%s]", fx.purger.urls, result.URL)
	}
}

func TestCommitPublishesPlaylistAndPurgesBoth(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	token := testsupport.MustClaim(t, fx.jobs, "Clip.webm", "240p.video.vp9.mp4")

	media := filepath.Join(fx.scratch, "out.mp4")
	testsupport.WriteFile(t, media, 4096)
	playlist := media + ".m3u8"
	if err := os.WriteFile(playlist, []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	spec := variant.Spec{Key: "240p.video.vp9.mp4", Type: `video/mp4; codecs="vp09"`, Streaming: variant.StreamingHLS}
	pub := publish.New(fx.objects, fx.jobs, variant.Builtin(), fx.purger, nil)
	result, err := pub.Commit(ctx, publish.Request{
		Token:        token,
		Variant:      spec,
		MediaPath:    media,
		PlaylistPath: playlist,
		Duration:     2,
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if result.PlaylistURL != result.URL+".m3u8" {
		t.Fatalf("playlist url = %q, media url = %q", result.PlaylistURL, result.URL)
	}

	name := publish.ObjectName("Clip.webm", "240p.video.vp9.mp4")
	headers, err := fx.objects.Headers("Clip.webm", name+".m3u8")
	if err != nil {
		t.Fatal(err)
	}
	if headers["Content-Type"] != "application/vnd.apple.mpegurl; charset=utf-8" {
		t.Fatalf("playlist headers = %#v", headers)
	}
	if mediaHeaders, _ := fx.objects.Headers("Clip.webm", name); len(mediaHeaders) != 0 {
		t.Fatalf("non-ogg media should carry no headers, got %#v", mediaHeaders)
	}
	mvURL := fx.objects.URL("Clip.webm", publish.MultivariantName("Clip.webm"))
	if result.MultivariantURL != mvURL {
		t.Fatalf("multivariant url = %q, want %q", result.MultivariantURL, mvURL)
	}
	if len(fx.purger.urls) != 3 || fx.purger.urls[2] != mvURL {
		t.Fatalf("purged %v", fx.purger.urls)
	}
}

func commitHLS(t *testing.T, fx fixture, pub *publish.Publisher, assetID, key string, size int) {
	t.Helper()
	token := testsupport.MustClaim(t, fx.jobs, assetID, key)
	media := filepath.Join(fx.scratch, key)
	testsupport.WriteFile(t, media, int64(size))
	playlist := media + ".m3u8"
	testsupport.WriteFile(t, playlist, 16)
	spec, ok := variant.Builtin().Lookup(key)
	if !ok {
		t.Fatalf("unknown variant %s", key)
	}
	_, err := pub.Commit(context.Background(), publish.Request{
		Token:        token,
		Variant:      spec,
		MediaPath:    media,
		PlaylistPath: playlist,
		Duration:     8,
	})
	if err != nil {
		t.Fatalf("Commit %s: %v", key, err)
	}
}

func TestCommitRebuildsMultivariantPlaylist(t *testing.T) {
	fx := newFixture(t)
	pub := publish.New(fx.objects, fx.jobs, variant.Builtin(), fx.purger, nil)

	commitHLS(t, fx, pub, "Clip.webm", "240p.video.vp9.mp4", 300_000)
	commitHLS(t, fx, pub, "Clip.webm", "stereo.audio.opus.mp4", 96_000)
	// Non-streaming derivatives stay out of the playlist.
	token := testsupport.MustClaim(t, fx.jobs, "Clip.webm", "ogg")
	media := filepath.Join(fx.scratch, "Clip.webm.ogg")
	testsupport.WriteFile(t, media, 1000)
	if _, err := pub.Commit(context.Background(), publish.Request{Token: token, Variant: oggSpec, MediaPath: media, Duration: 8}); err != nil {
		t.Fatalf("Commit ogg: %v", err)
	}

	path, err := fx.objects.LocalPath("Clip.webm", publish.MultivariantName("Clip.webm"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("multivariant playlist not stored: %v", err)
	}
	parsed, err := hlsplaylist.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	mv, ok := parsed.(*hlsplaylist.Multivariant)
	if !ok {
		t.Fatalf("stored %T, want multivariant", parsed)
	}
	if len(mv.Variants) != 1 || len(mv.Renditions) != 1 {
		t.Fatalf("playlist = %s", data)
	}
	v := mv.Variants[0]
	if v.URI != "Clip.webm.240p.video.vp9.mp4.m3u8" || v.Bandwidth != 300_000 || v.Audio == "" {
		t.Fatalf("variant = %+v", v)
	}
	if r := mv.Renditions[0]; r.URI == nil || *r.URI != "Clip.webm.stereo.audio.opus.mp4.m3u8" {
		t.Fatalf("rendition = %+v", r)
	}
	headers, err := fx.objects.Headers("Clip.webm", publish.MultivariantName("Clip.webm"))
	if err != nil || headers["Content-Type"] != "application/vnd.apple.mpegurl; charset=utf-8" {
		t.Fatalf("headers = %#v, %v", headers, err)
	}
	if strings.Contains(string(data), ".ogg") {
		t.Fatalf("ogg derivative listed: %s", data)
	}
}

// finishErrorStore fails FinishSuccess after the imports went through.
type finishErrorStore struct {
	*queue.Store
	err error
}

func (f finishErrorStore) FinishSuccess(context.Context, queue.Token, int64) error {
	return f.err
}

func TestFinishFailureRollsBackImports(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name     string
		err      error
		keepsObj bool
	}{
		{name: "store error", err: services.Wrap(services.ErrTransient, "queue", "finish success", "database is locked", nil)},
		{name: "lost race", err: services.Wrap(services.ErrRaceDetected, "queue", "finish success", "job was reset", nil), keepsObj: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			token := testsupport.MustClaim(t, fx.jobs, "Clip.webm", "240p.video.vp9.mp4")
			media := filepath.Join(fx.scratch, "out.mp4")
			testsupport.WriteFile(t, media, 4096)
			playlist := media + ".m3u8"
			testsupport.WriteFile(t, playlist, 16)

			spec, err := variant.Builtin().MustLookup("240p.video.vp9.mp4")
			if err != nil {
				t.Fatal(err)
			}
			pub := publish.New(fx.objects, finishErrorStore{Store: fx.jobs, err: tc.err}, variant.Builtin(), fx.purger, nil)
			_, err = pub.Commit(ctx, publish.Request{
				Token:        token,
				Variant:      spec,
				MediaPath:    media,
				PlaylistPath: playlist,
				Duration:     2,
			})
			if !errors.Is(err, tc.err) {
				t.Fatalf("Commit = %v, want %v", err, tc.err)
			}

			name := publish.ObjectName("Clip.webm", "240p.video.vp9.mp4")
			for _, object := range []string{name, name + ".m3u8"} {
				ok, err := fx.objects.Exists("Clip.webm", object)
				if err != nil {
					t.Fatal(err)
				}
				if ok != tc.keepsObj {
					t.Fatalf("%s exists = %v, want %v", object, ok, tc.keepsObj)
				}
			}
			if len(fx.purger.urls) != 0 {
				t.Fatalf("nothing should be purged, got %v", fx.purger.urls)
			}
		})
	}
}

func TestPlaylistImportFailureRemovesMedia(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	token := testsupport.MustClaim(t, fx.jobs, "Clip.webm", "360p.webm")

	media := filepath.Join(fx.scratch, "out.webm")
	testsupport.WriteFile(t, media, 2048)
	playlist := media + ".m3u8"
	testsupport.WriteFile(t, playlist, 16)

	pub := publish.New(failingPlaylistStore{fx.objects}, fx.jobs, variant.Builtin(), fx.purger, nil)
	_, err := pub.Commit(ctx, publish.Request{
		Token:        token,
		Variant:      variant.Spec{Key: "360p.webm", Type: "video/webm"},
		MediaPath:    media,
		PlaylistPath: playlist,
		Duration:     1,
	})
	if !errors.Is(err, services.ErrPublication) {
		t.Fatalf("expected publication failure, got %v", err)
	}
	ok, err := fx.objects.Exists("Clip.webm", publish.ObjectName("Clip.webm", "360p.webm"))
	if err != nil || ok {
		t.Fatalf("media should have been removed, exists=%v err=%v", ok, err)
	}
	job, _ := fx.jobs.Get(ctx, "Clip.webm", "360p.webm")
	if job.State() != queue.StateInProgress {
		t.Fatalf("job state = %s, want in_progress", job.State())
	}
	if len(fx.purger.urls) != 0 {
		t.Fatalf("nothing should be purged, got %v", fx.purger.urls)
	}
}

func TestCommitAfterResetDoesNotPublish(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	token := testsupport.MustClaim(t, fx.jobs, "Song.flac", "ogg")
	if err := fx.jobs.Reset(ctx, "Song.flac", "ogg"); err != nil {
		t.Fatal(err)
	}

	media := filepath.Join(fx.scratch, "out.ogg")
	testsupport.WriteFile(t, media, 1024)
	pub := publish.New(fx.objects, fx.jobs, variant.Builtin(), fx.purger, nil)
	_, err := pub.Commit(ctx, publish.Request{Token: token, Variant: oggSpec, MediaPath: media, Duration: 3})
	if !publish.IsSuperseded(err) {
		t.Fatalf("expected race detected, got %v", err)
	}
	if ok, _ := fx.objects.Exists("Song.flac", "Song.flac.ogg"); ok {
		t.Fatal("superseded attempt must not import")
	}
	job, _ := fx.jobs.Get(ctx, "Song.flac", "ogg")
	if job.State() != queue.StatePending || job.SucceededAt != nil {
		t.Fatalf("job = %+v", job)
	}
}

func TestCommitRejectsMissingOrEmptyOutput(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	token := testsupport.MustClaim(t, fx.jobs, "Song.flac", "ogg")
	pub := publish.New(fx.objects, fx.jobs, variant.Builtin(), fx.purger, nil)

	_, err := pub.Commit(ctx, publish.Request{Token: token, Variant: oggSpec, MediaPath: filepath.Join(fx.scratch, "missing.ogg")})
	if !errors.Is(err, services.ErrSandboxExecution) || !strings.Contains(err.Error(), "Target does not exist") {
		t.Fatalf("missing output: %v", err)
	}

	empty := filepath.Join(fx.scratch, "empty.ogg")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = pub.Commit(ctx, publish.Request{Token: token, Variant: oggSpec, MediaPath: empty})
	if !errors.Is(err, services.ErrSandboxExecution) {
		t.Fatalf("empty output: %v", err)
	}
}

func TestPurgeFailureDoesNotFailCommit(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.purger.err = errors.New("cache unreachable")
	token := testsupport.MustClaim(t, fx.jobs, "Song.flac", "ogg")
	media := filepath.Join(fx.scratch, "out.ogg")
	testsupport.WriteFile(t, media, 100)

	pub := publish.New(fx.objects, fx.jobs, variant.Builtin(), fx.purger, nil)
	if _, err := pub.Commit(ctx, publish.Request{Token: token, Variant: oggSpec, MediaPath: media}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	job, _ := fx.jobs.Get(ctx, "Song.flac", "ogg")
	if job.State() != queue.StateSucceeded || job.FinalBitrate != 0 {
		t.Fatalf("job = %+v", job)
	}
}

func TestBitrate(t *testing.T) {
	cases := []struct {
		size     int64
		duration float64
		want     int64
	}{
		{size: 1000, duration: 8, want: 1000},
		{size: 1, duration: 3, want: 3},
		{size: 500, duration: 0, want: 0},
	}
	for _, tc := range cases {
		if got := publish.Bitrate(tc.size, tc.duration); got != tc.want {
			t.Errorf("Bitrate(%d, %v) = %d, want %d", tc.size, tc.duration, got, tc.want)
		}
	}
}
