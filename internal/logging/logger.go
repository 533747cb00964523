package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"transcoder/internal/config"
)

// DaemonLogName is the file the daemon logger appends to inside the log
// directory.
const DaemonLogName = "transcoder.log"

// Options describes logger construction parameters.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	// Development adds caller locations regardless of level.
	Development bool
	// Color forces ANSI level colouring in console output. Without it the
	// console handler colours only when every destination is a terminal
	// stream and stdout is a terminal.
	Color bool
}

// New builds a console or JSON logger writing to every distinct output and
// error path. "stdout" and "stderr" name the process streams; anything else
// is appended to as a file.
func New(opts Options) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))

	paths := append(append([]string{}, opts.OutputPaths...), opts.ErrorOutputPaths...)
	w, err := openSinks(paths)
	if err != nil {
		return nil, err
	}
	addSource := opts.Development || level.Level() <= slog.LevelDebug

	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "json":
		return slog.New(newJSONHandler(w, level, addSource)), nil
	case "", "console":
		color := opts.Color || (streamsOnly(paths) && isTerminal(os.Stdout))
		return slog.New(newConsoleHandler(w, level, addSource, color)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig logs to stdout and to DaemonLogName under the configured
// log directory.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "console", OutputPaths: []string{"stdout"}})
	}
	outputs := []string{"stdout"}
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
		outputs = append(outputs, filepath.Join(dir, DaemonLogName))
	}
	return New(Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func streamsOnly(paths []string) bool {
	for _, p := range paths {
		switch strings.TrimSpace(p) {
		case "", "stdout", "stderr":
		default:
			return false
		}
	}
	return true
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// openSinks resolves paths into one writer. Duplicates are written once and
// an empty list falls back to stdout.
func openSinks(paths []string) (io.Writer, error) {
	seen := make(map[string]bool, len(paths))
	var sinks []io.Writer
	for _, raw := range paths {
		p := strings.TrimSpace(raw)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		switch p {
		case "stdout":
			sinks = append(sinks, os.Stdout)
		case "stderr":
			sinks = append(sinks, os.Stderr)
		default:
			f, err := openAppend(p)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, f)
		}
	}
	switch len(sinks) {
	case 0:
		return os.Stdout, nil
	case 1:
		return sinks[0], nil
	default:
		return io.MultiWriter(sinks...), nil
	}
}

func openAppend(path string) (*os.File, error) {
	if err := ensureLogDir(path); err != nil {
		return nil, fmt.Errorf("ensure log directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// newJSONHandler renames the built-in keys to ts/level/msg, writes UTC
// timestamps with millisecond precision, and shortens source locations to
// file:line.
func newJSONHandler(w io.Writer, level slog.Leveler, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return attr
			}
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "ts"
				if attr.Value.Kind() == slog.KindTime {
					attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(timestampLayout))
				}
			case slog.LevelKey:
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			case slog.SourceKey:
				if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
					attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return attr
		},
	})
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

