package asset_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"transcoder/internal/asset"
	"transcoder/internal/logging"
	"transcoder/internal/media/ffprobe"
	"transcoder/internal/services"
)

func fakeProbe(result ffprobe.Result) asset.ProbeFunc {
	return func(context.Context, string, string) (ffprobe.Result, error) {
		return result, nil
	}
}

func TestLookupVideoAsset(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "Clip.webm"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	probe := ffprobe.Result{
		Streams: []ffprobe.Stream{
			{CodecType: "video", Width: 1920, Height: 1080, AvgFrameRate: "60/1", FieldOrder: "progressive"},
			{CodecType: "audio"},
		},
		Format: ffprobe.Format{Duration: "35.0", FormatName: "matroska,webm"},
	}
	lib := asset.NewLibrary(root, "ffprobe", logging.NewNop(), asset.WithProbe(fakeProbe(probe)))

	a, err := lib.Lookup(context.Background(), "Clip.webm")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if a.MediaType != asset.MediaVideo || a.Width != 1920 || a.Height != 1080 || a.FrameRate != 60 {
		t.Fatalf("unexpected asset: %+v", a)
	}
	if a.Duration != 35 || a.Container != "webm" || !a.HasAudio {
		t.Fatalf("unexpected asset container data: %+v", a)
	}
	if !asset.Transcodable(a, true, nil) {
		t.Fatal("webm video should be transcodable")
	}
	if asset.Transcodable(a, false, []string{"ogg"}) {
		t.Fatal("video should not be transcodable with video transcoding disabled")
	}
}

func TestLookupMissingSource(t *testing.T) {
	lib := asset.NewLibrary(t.TempDir(), "ffprobe", logging.NewNop(), asset.WithProbe(fakeProbe(ffprobe.Result{})))
	_, err := lib.Lookup(context.Background(), "missing.ogv")
	if !errors.Is(err, services.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable, got %v", err)
	}
}

func TestResolveStaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	lib := asset.NewLibrary(root, "ffprobe", logging.NewNop())

	path, err := lib.Resolve("Nested/Clip.webm")
	if err != nil || path != filepath.Join(root, "Nested", "Clip.webm") {
		t.Fatalf("Resolve = %q, %v", path, err)
	}
	for _, id := range []string{"../../etc/passwd", "x/../../../../../escaped", "/etc/passwd", "  "} {
		if _, err := lib.Resolve(id); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Resolve(%q) = %v, want validation error", id, err)
		}
	}
}

func TestLookupMIDISkipsProbe(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "Tune.mid"), []byte("MThd"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	probe := func(context.Context, string, string) (ffprobe.Result, error) {
		t.Fatal("probe should not run for MIDI")
		return ffprobe.Result{}, nil
	}
	lib := asset.NewLibrary(root, "ffprobe", logging.NewNop(), asset.WithProbe(probe))
	a, err := lib.Lookup(context.Background(), "Tune.mid")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if !a.IsMIDI() || !a.IsAudio() || a.MimeType != "audio/midi" {
		t.Fatalf("unexpected midi asset: %+v", a)
	}
	if asset.Transcodable(a, true, nil) {
		t.Fatal("midi should need an audio set")
	}
	if !asset.Transcodable(a, false, []string{"mp3"}) {
		t.Fatal("midi with an audio set should be transcodable")
	}
}
