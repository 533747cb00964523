package encoding_test

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"transcoder/internal/asset"
	"transcoder/internal/encoding"
	"transcoder/internal/services"
	"transcoder/internal/variant"
)

func lookup(t *testing.T, key string) variant.Spec {
	t.Helper()
	spec, err := variant.Builtin().MustLookup(key)
	if err != nil {
		t.Fatalf("lookup %s: %v", key, err)
	}
	return spec
}

func videoAsset(fps float64) asset.Asset {
	return asset.Asset{
		ID:        "clip.webm",
		Path:      "/library/clip.webm",
		Duration:  60,
		Width:     1920,
		Height:    1080,
		FrameRate: fps,
		MediaType: asset.MediaVideo,
		HasVideo:  true,
		HasAudio:  true,
	}
}

func argValue(args []string, flag string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}

func TestScaleRate(t *testing.T) {
	cases := []struct {
		fps  float64
		want int64
	}{
		{24, 800000},
		{30, 1000000},
		{60, 1500000},
	}
	for _, tc := range cases {
		if got := encoding.ScaleRate(1000000, tc.fps); got != tc.want {
			t.Errorf("ScaleRate(1M, %v) = %d, want %d", tc.fps, got, tc.want)
		}
	}
}

func TestDeriveScalesRatesForSixtyFPS(t *testing.T) {
	deriver := encoding.NewDeriver(encoding.Settings{Threads: 2})
	params, err := deriver.Derive(encoding.Request{
		Asset:   videoAsset(60),
		Variant: lookup(t, "720p.vp9.webm"),
	})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if params.FrameRate != 60 {
		t.Fatalf("fps = %v, want 60", params.FrameRate)
	}
	if params.VideoBitrate != 1800000 || params.MinRate != 900000 || params.MaxRate != 2610000 {
		t.Fatalf("rates = %d/%d/%d, want 1.5x base", params.VideoBitrate, params.MinRate, params.MaxRate)
	}
	if params.KeyframeInterval != 600 {
		t.Fatalf("keyframe interval = %d, want 600", params.KeyframeInterval)
	}
	if params.Mode != encoding.ModeTwoPass || params.Passes() != 2 {
		t.Fatalf("expected two-pass mode, got %s", params.Mode)
	}
	args := params.Args("in.webm", "out.webm", 2, "/work/passlog")
	if v, _ := argValue(args, "-b:v"); v != "1800000" {
		t.Fatalf("-b:v = %q", v)
	}
	if v, _ := argValue(args, "-vcodec"); v != "libvpx-vp9" {
		t.Fatalf("-vcodec = %q", v)
	}
	if v, _ := argValue(args, "-s"); v != "1280x720" {
		t.Fatalf("-s = %q", v)
	}
	if v, _ := argValue(args, "-f"); v != "webm" {
		t.Fatalf("-f = %q", v)
	}
	if args[len(args)-1] != "out.webm" {
		t.Fatalf("output should be last argument: %v", args)
	}
}

func TestEffectiveFrameRate(t *testing.T) {
	interlaced := videoAsset(29.97)
	interlaced.Interlaced = true

	spec := lookup(t, "720p.vp9.webm")
	if got := encoding.EffectiveFrameRate(spec, interlaced); got != 59.94 {
		t.Fatalf("interlaced fps = %v, want 59.94", got)
	}

	capped := spec
	capped.FPSMax = "30"
	if got := encoding.EffectiveFrameRate(capped, interlaced); got != 29.97 {
		t.Fatalf("fpsmax 30 should block frame doubling, got %v", got)
	}

	if got := encoding.EffectiveFrameRate(spec, videoAsset(120)); got != 60 {
		t.Fatalf("fps should clamp to 60, got %v", got)
	}
	if got := encoding.EffectiveFrameRate(spec, videoAsset(0)); got != 30 {
		t.Fatalf("unknown fps should default to 30, got %v", got)
	}
	if got := encoding.EffectiveFrameRate(lookup(t, "144p.video.mjpeg.mov"), videoAsset(30)); got != 24 {
		t.Fatalf("fixed 15 fps should clamp to minimum 24, got %v", got)
	}
}

func TestDeriveDeinterlaces(t *testing.T) {
	src := videoAsset(25)
	src.Interlaced = true
	params, err := encoding.NewDeriver(encoding.Settings{}).Derive(encoding.Request{Asset: src, Variant: lookup(t, "360p.webm")})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if params.Deinterlace != "yadif=1" {
		t.Fatalf("deinterlace = %q, want yadif=1", params.Deinterlace)
	}
	args := params.Args("in", "out.webm", 0, "")
	if v, _ := argValue(args, "-vf"); v != "yadif=1" {
		t.Fatalf("-vf = %q", v)
	}
}

func TestDeriveHardSizeLimit(t *testing.T) {
	spec := variant.Spec{Key: "test.webm", VideoCodec: "vp9", AudioCodec: "opus", VideoBitrate: "409600"}
	src := videoAsset(30)
	src.Duration = 120

	deriver := encoding.NewDeriver(encoding.Settings{HardLimitKiB: 5000})
	_, err := deriver.Derive(encoding.Request{Asset: src, Variant: spec, ManualOverride: true})
	if !errors.Is(err, services.ErrSizeLimitExceeded) {
		t.Fatalf("expected size limit error, got %v", err)
	}
	if !strings.Contains(err.Error(), "estimated file size 6000 KiB over hard limit 5000 KiB") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestDeriveSoftSizeLimitHonoursOverride(t *testing.T) {
	spec := variant.Spec{Key: "test.webm", VideoCodec: "vp9", AudioCodec: "opus", VideoBitrate: "409600"}
	src := videoAsset(30)
	src.Duration = 120

	deriver := encoding.NewDeriver(encoding.Settings{HardLimitKiB: 10000, SoftLimitKiB: 5000})
	if _, err := deriver.Derive(encoding.Request{Asset: src, Variant: spec}); !errors.Is(err, services.ErrSizeLimitExceeded) {
		t.Fatalf("expected soft limit error, got %v", err)
	}
	params, err := deriver.Derive(encoding.Request{Asset: src, Variant: spec, ManualOverride: true})
	if err != nil {
		t.Fatalf("manual override should bypass soft limit: %v", err)
	}
	if params.EstimatedKiB != 6000 {
		t.Fatalf("estimated = %d, want 6000", params.EstimatedKiB)
	}
}

func TestDeriveRemuxCopiesVideo(t *testing.T) {
	src := videoAsset(30)
	src.Interlaced = true
	params, err := encoding.NewDeriver(encoding.Settings{}).Derive(encoding.Request{
		Asset:       src,
		Variant:     lookup(t, "720p.video.vp9.mp4"),
		RemuxSource: "/store/clip.webm.720p.vp9.webm",
	})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !params.Remux || params.Mode != encoding.ModeSinglePass {
		t.Fatalf("remux should force single pass, got remux=%v mode=%s", params.Remux, params.Mode)
	}
	if params.SourcePath != "/store/clip.webm.720p.vp9.webm" {
		t.Fatalf("source = %q", params.SourcePath)
	}
	args := params.Args(params.SourcePath, "out.mp4", 0, "")
	if v, _ := argValue(args, "-c:v"); v != "copy" {
		t.Fatalf("expected -c:v copy in %v", args)
	}
	for _, flag := range []string{"-vf", "-s", "-pass", "-vcodec"} {
		if slices.Contains(args, flag) {
			t.Fatalf("remux args should not contain %s: %v", flag, args)
		}
	}
	if v, _ := argValue(args, "-movflags"); v != "+frag_keyframe+empty_moov+default_base_moof" {
		t.Fatalf("-movflags = %q", v)
	}
	if !slices.Contains(args, "-an") {
		t.Fatalf("noaudio track should pass -an: %v", args)
	}
}

func TestDeriveAudioOnly(t *testing.T) {
	src := asset.Asset{ID: "song.flac", Path: "/library/song.flac", Duration: 200, MediaType: asset.MediaAudio, HasAudio: true}
	deriver := encoding.NewDeriver(encoding.Settings{MuxingQueueSize: 1024})

	params, err := deriver.Derive(encoding.Request{Asset: src, Variant: lookup(t, "stereo.audio.opus.mp4")})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	args := params.Args(src.Path, "out.mp4", 0, "")
	if !slices.Contains(args, "-vn") {
		t.Fatalf("audio variant should pass -vn: %v", args)
	}
	if v, _ := argValue(args, "-acodec"); v != "libopus" {
		t.Fatalf("-acodec = %q", v)
	}
	if v, _ := argValue(args, "-frag_duration"); v != "10000000" {
		t.Fatalf("audio HLS should use fixed fragment duration: %v", args)
	}
	if v, _ := argValue(args, "-max_muxing_queue_size"); v != "1024" {
		t.Fatalf("-max_muxing_queue_size = %q", v)
	}

	short := encoding.NewDeriver(encoding.Settings{SegmentSeconds: 6})
	params, err = short.Derive(encoding.Request{Asset: src, Variant: lookup(t, "stereo.audio.opus.mp4")})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if v, _ := argValue(params.Args(src.Path, "out.mp4", 0, ""), "-frag_duration"); v != "6000000" {
		t.Fatalf("-frag_duration = %q, want the configured segment length", v)
	}

	if _, err := deriver.Derive(encoding.Request{Asset: src, Variant: lookup(t, "360p.vp9.webm")}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("video variant on audio source should be a configuration error, got %v", err)
	}
}

func TestDeriveMIDI(t *testing.T) {
	src := asset.Asset{ID: "tune.mid", Path: "/library/tune.mid", MediaType: asset.MediaMIDI}
	params, err := encoding.NewDeriver(encoding.Settings{}).Derive(encoding.Request{Asset: src, Variant: lookup(t, "ogg")})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if params.Mode != encoding.ModeMIDI {
		t.Fatalf("mode = %s, want midi", params.Mode)
	}
	synth := params.SynthArgs("/sf/font.sf2", src.Path, "/work/synth.wav")
	if synth[len(synth)-1] != src.Path || !slices.Contains(synth, "/sf/font.sf2") {
		t.Fatalf("unexpected synth args: %v", synth)
	}
}

func TestMaxSizeTransform(t *testing.T) {
	cases := []struct {
		w, h         int
		max          string
		wantW, wantH int
	}{
		{1920, 1080, "640x360", 640, 360},
		{1440, 1080, "640x360", 480, 360},
		{320, 240, "640x360", 320, 240},
		{1000, 563, "640x360", 640, 360},
		{2000, 500, "640x360", 640, 160},
		{1080, 1920, "480", 270, 480},
	}
	for _, tc := range cases {
		w, h := encoding.MaxSizeTransform(tc.w, tc.h, tc.max)
		if w != tc.wantW || h != tc.wantH {
			t.Errorf("MaxSizeTransform(%d, %d, %q) = %dx%d, want %dx%d", tc.w, tc.h, tc.max, w, h, tc.wantW, tc.wantH)
		}
	}
}

func TestEstimateKiB(t *testing.T) {
	if got := encoding.EstimateKiB(409600, 120); got != 6000 {
		t.Fatalf("EstimateKiB = %d, want 6000", got)
	}
}
