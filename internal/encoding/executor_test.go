package encoding_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"transcoder/internal/asset"
	"transcoder/internal/encoding"
	"transcoder/internal/logging"
	"transcoder/internal/sandbox"
	"transcoder/internal/services"
)

type fakeRunner struct {
	calls  []sandbox.Command
	write  func(cmd sandbox.Command) error
	failAt int
}

func (f *fakeRunner) Run(_ context.Context, cmd sandbox.Command) (sandbox.Result, error) {
	f.calls = append(f.calls, cmd)
	if f.failAt > 0 && len(f.calls) == f.failAt {
		return sandbox.Result{ExitCode: 1, Output: "boom"}, &services.SandboxError{Command: filepath.Base(cmd.Binary), ExitCode: 1, Output: "boom"}
	}
	if f.write != nil {
		if err := f.write(cmd); err != nil {
			return sandbox.Result{}, err
		}
	}
	return sandbox.Result{}, nil
}

// writeLastArg creates the file named by the final argument unless it is
// /dev/null, mimicking an encoder.
func writeLastArg(content string) func(sandbox.Command) error {
	return func(cmd sandbox.Command) error {
		target := cmd.Args[len(cmd.Args)-1]
		if cmd.Binary == "fluidsynth" {
			target, _ = argValue(cmd.Args, "-F")
		}
		if target == "/dev/null" {
			return nil
		}
		return os.WriteFile(target, []byte(content), 0o644)
	}
}

func newExecutor(runner sandbox.Runner) *encoding.Executor {
	return encoding.NewExecutor(runner, encoding.Binaries{FFmpeg: "ffmpeg", Fluidsynth: "fluidsynth", SoundFont: "/sf/font.sf2"}, logging.NewNop())
}

func TestExecuteTwoPass(t *testing.T) {
	params, err := encoding.NewDeriver(encoding.Settings{}).Derive(encoding.Request{
		Asset:   videoAsset(30),
		Variant: lookup(t, "360p.vp9.webm"),
	})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	work := t.TempDir()
	out := filepath.Join(work, "transcoded.webm")
	runner := &fakeRunner{write: writeLastArg("webm")}

	if err := newExecutor(runner).Execute(context.Background(), encoding.ExecRequest{Params: params, OutputPath: out, WorkDir: work}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected two passes, got %d", len(runner.calls))
	}
	first, second := runner.calls[0].Args, runner.calls[1].Args
	if v, _ := argValue(first, "-pass"); v != "1" || first[len(first)-1] != "/dev/null" {
		t.Fatalf("unexpected pass 1 args: %v", first)
	}
	if !slices.Contains(first, "-an") {
		t.Fatalf("pass 1 should drop audio: %v", first)
	}
	if v, _ := argValue(second, "-pass"); v != "2" || second[len(second)-1] != out {
		t.Fatalf("unexpected pass 2 args: %v", second)
	}
	if v, _ := argValue(second, "-passlogfile"); v != filepath.Join(work, "passlog") {
		t.Fatalf("passlog = %q", v)
	}
}

func TestExecuteMIDIRendersThenEncodes(t *testing.T) {
	src := asset.Asset{ID: "tune.mid", Path: "/library/tune.mid", MediaType: asset.MediaMIDI}
	params, err := encoding.NewDeriver(encoding.Settings{}).Derive(encoding.Request{Asset: src, Variant: lookup(t, "mp3")})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	work := t.TempDir()
	out := filepath.Join(work, "transcoded.mp3")
	runner := &fakeRunner{write: writeLastArg("audio")}

	if err := newExecutor(runner).Execute(context.Background(), encoding.ExecRequest{Params: params, OutputPath: out, WorkDir: work}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(runner.calls) != 2 || runner.calls[0].Binary != "fluidsynth" || runner.calls[1].Binary != "ffmpeg" {
		t.Fatalf("unexpected calls: %+v", runner.calls)
	}
	if v, _ := argValue(runner.calls[1].Args, "-i"); v != filepath.Join(work, "synth.wav") {
		t.Fatalf("ffmpeg should read the rendered wav, got %q", v)
	}
}

func TestExecuteRejectsEmptyOutput(t *testing.T) {
	params, err := encoding.NewDeriver(encoding.Settings{}).Derive(encoding.Request{Asset: videoAsset(30), Variant: lookup(t, "360p.webm")})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	work := t.TempDir()
	runner := &fakeRunner{write: writeLastArg("")}
	err = newExecutor(runner).Execute(context.Background(), encoding.ExecRequest{Params: params, OutputPath: filepath.Join(work, "out.webm"), WorkDir: work})
	if !errors.Is(err, services.ErrSandboxExecution) {
		t.Fatalf("expected sandbox failure for empty output, got %v", err)
	}
}

func TestExecuteMissingOutput(t *testing.T) {
	params, err := encoding.NewDeriver(encoding.Settings{}).Derive(encoding.Request{Asset: videoAsset(30), Variant: lookup(t, "360p.webm")})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	work := t.TempDir()
	err = newExecutor(&fakeRunner{}).Execute(context.Background(), encoding.ExecRequest{Params: params, OutputPath: filepath.Join(work, "out.webm"), WorkDir: work})
	if !errors.Is(err, services.ErrSandboxExecution) {
		t.Fatalf("expected sandbox failure for missing output, got %v", err)
	}
}

func TestExecuteStopsAfterFailedFirstPass(t *testing.T) {
	params, err := encoding.NewDeriver(encoding.Settings{}).Derive(encoding.Request{Asset: videoAsset(30), Variant: lookup(t, "360p.vp9.webm")})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	work := t.TempDir()
	runner := &fakeRunner{failAt: 1}
	err = newExecutor(runner).Execute(context.Background(), encoding.ExecRequest{Params: params, OutputPath: filepath.Join(work, "out.webm"), WorkDir: work})
	var sbErr *services.SandboxError
	if !errors.As(err, &sbErr) || sbErr.ExitCode != 1 {
		t.Fatalf("expected sandbox error with exit 1, got %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("pass 2 should not run after pass 1 fails, got %d calls", len(runner.calls))
	}
}
