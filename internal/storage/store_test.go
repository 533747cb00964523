package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"transcoder/internal/services"
	"transcoder/internal/storage"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func mustLocalPath(t *testing.T, store *storage.FileStore, assetID, name string) string {
	t.Helper()
	p, err := store.LocalPath(assetID, name)
	if err != nil {
		t.Fatalf("LocalPath(%q, %q): %v", assetID, name, err)
	}
	return p
}

func TestRelativePathLayout(t *testing.T) {
	rel := storage.RelativePath("Example.ogv", "Example.ogv.360p.webm")
	parts := strings.Split(rel, "/")
	if len(parts) != 5 || parts[0] != "transcoded" {
		t.Fatalf("unexpected layout %q", rel)
	}
	if len(parts[1]) != 1 || len(parts[2]) != 2 || !strings.HasPrefix(parts[2], parts[1]) {
		t.Fatalf("unexpected hash dirs in %q", rel)
	}
	if parts[3] != "Example.ogv" || parts[4] != "Example.ogv.360p.webm" {
		t.Fatalf("unexpected tail in %q", rel)
	}
}

func TestImportExistsHeadersRemove(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := storage.NewFileStore(root, "https://cdn.test/media/", nil)
	src := writeSource(t, t.TempDir(), "out.ogg", "ogg payload")

	headers := map[string]string{"X-Content-Duration": "12.500000"}
	if err := store.Import(ctx, src, "Song.flac", "Song.flac.ogg", headers); err != nil {
		t.Fatalf("Import: %v", err)
	}

	ok, err := store.Exists("Song.flac", "Song.flac.ogg")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	size, err := store.Size("Song.flac", "Song.flac.ogg")
	if err != nil || size != int64(len("ogg payload")) {
		t.Fatalf("Size = %d, %v", size, err)
	}
	got, err := store.Headers("Song.flac", "Song.flac.ogg")
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	if got["X-Content-Duration"] != "12.500000" {
		t.Fatalf("headers = %#v", got)
	}

	url := store.URL("Song.flac", "Song.flac.ogg")
	if !strings.HasPrefix(url, "https://cdn.test/media/transcoded/") || !strings.HasSuffix(url, "/Song.flac/Song.flac.ogg") {
		t.Fatalf("URL = %q", url)
	}

	if err := store.Remove(ctx, "Song.flac", "Song.flac.ogg"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	ok, err = store.Exists("Song.flac", "Song.flac.ogg")
	if err != nil || ok {
		t.Fatalf("Exists after remove = %v, %v", ok, err)
	}
	if err := store.Remove(ctx, "Song.flac", "Song.flac.ogg"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestImportReplacesAndDropsStaleHeaders(t *testing.T) {
	ctx := context.Background()
	store := storage.NewFileStore(t.TempDir(), "", nil)
	dir := t.TempDir()

	first := writeSource(t, dir, "a", "one")
	if err := store.Import(ctx, first, "a.webm", "a.webm.m3u8", map[string]string{"Content-Type": "x"}); err != nil {
		t.Fatalf("Import: %v", err)
	}
	second := writeSource(t, dir, "b", "two two")
	if err := store.Import(ctx, second, "a.webm", "a.webm.m3u8", nil); err != nil {
		t.Fatalf("Import: %v", err)
	}

	data, err := os.ReadFile(mustLocalPath(t, store, "a.webm", "a.webm.m3u8"))
	if err != nil || string(data) != "two two" {
		t.Fatalf("stored content = %q, %v", data, err)
	}
	headers, err := store.Headers("a.webm", "a.webm.m3u8")
	if err != nil || len(headers) != 0 {
		t.Fatalf("expected headers cleared, got %#v %v", headers, err)
	}
	if url := store.URL("a.webm", "a.webm.m3u8"); !strings.HasPrefix(url, "transcoded/") {
		t.Fatalf("relative URL = %q", url)
	}
}

func TestKeysCannotEscapeRoot(t *testing.T) {
	ctx := context.Background()
	parent := t.TempDir()
	store := storage.NewFileStore(filepath.Join(parent, "store"), "", nil)
	src := writeSource(t, t.TempDir(), "payload", "payload")

	cases := []struct{ assetID, name string }{
		{"x/../../../../../escaped", "escaped.360p.webm"},
		{"/tmp/abs.webm", "abs.webm.360p.webm"},
		{"a.webm", "../../../../../../escaped"},
		{"a.webm", ".."},
	}
	for _, tc := range cases {
		if _, err := store.LocalPath(tc.assetID, tc.name); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("LocalPath(%q, %q) = %v, want validation error", tc.assetID, tc.name, err)
		}
		if err := store.Import(ctx, src, tc.assetID, tc.name, nil); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Import(%q, %q) = %v, want validation error", tc.assetID, tc.name, err)
		}
		if err := store.Remove(ctx, tc.assetID, tc.name); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Remove(%q, %q) = %v, want validation error", tc.assetID, tc.name, err)
		}
		if _, err := store.Exists(tc.assetID, tc.name); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Exists(%q, %q) = %v, want validation error", tc.assetID, tc.name, err)
		}
	}

	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if entry.Name() != "store" {
			t.Fatalf("object written outside the store root: %s", entry.Name())
		}
	}
	if _, err := os.Stat(filepath.Join(parent, "escaped")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("escaped directory created: %v", err)
	}
}

func TestConcurrentImportsLeaveOneCompleteObject(t *testing.T) {
	ctx := context.Background()
	store := storage.NewFileStore(t.TempDir(), "", nil)
	dir := t.TempDir()

	contents := []string{strings.Repeat("a", 4096), strings.Repeat("b", 8192), strings.Repeat("c", 2048)}
	var wg sync.WaitGroup
	errs := make(chan error, len(contents))
	for i, content := range contents {
		src := writeSource(t, dir, string(rune('x'+i)), content)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Import(ctx, src, "race.webm", "race.webm.360p.webm", nil)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Import: %v", err)
		}
	}

	data, err := os.ReadFile(mustLocalPath(t, store, "race.webm", "race.webm.360p.webm"))
	if err != nil {
		t.Fatal(err)
	}
	matched := false
	for _, content := range contents {
		if string(data) == content {
			matched = true
		}
	}
	if !matched {
		t.Fatalf("stored object is not one of the inputs (len %d)", len(data))
	}
}
