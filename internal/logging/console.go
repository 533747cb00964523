package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset = "\033[0m"
	ansiDim   = "\033[90m"
)

var levelColors = map[slog.Level]string{
	slog.LevelDebug: ansiDim,
	slog.LevelInfo:  "\033[32m",
	slog.LevelWarn:  "\033[33m",
	slog.LevelError: "\033[31m",
}

// consoleHandler writes one human-readable line per record:
//
//	<ts> <LEVEL> <component>: <asset>/<variant>: <msg> key=value ...
//
// The component and job identity are lifted out of the key/value tail.
type consoleHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     slog.Leveler
	addSource bool
	color     bool
	prefix    string
	fields    []field
}

type field struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, level slog.Leveler, addSource, color bool) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level, addSource: addSource, color: color}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.fields = append(append([]field(nil), h.fields...), collect(h.prefix, attrs)...)
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	fields := append([]field(nil), h.fields...)
	record.Attrs(func(attr slog.Attr) bool {
		fields = append(fields, collect(h.prefix, []slog.Attr{attr})...)
		return true
	})

	var component, assetID, variant string
	tail := fields[:0]
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			if component == "" {
				component = f.value.String()
			}
		case FieldAssetID:
			assetID = f.value.String()
		case FieldVariant:
			variant = f.value.String()
		default:
			tail = append(tail, f)
		}
	}

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(ts.UTC().Format(timestampLayout))
	b.WriteByte(' ')
	label := levelLabel(record.Level)
	if h.color {
		b.WriteString(levelColors[bucket(record.Level)] + label + ansiReset)
	} else {
		b.WriteString(label)
	}
	b.WriteByte(' ')
	if component != "" {
		b.WriteString(component)
		b.WriteString(": ")
	}
	if job := jobTag(assetID, variant); job != "" {
		b.WriteString(job)
		b.WriteString(": ")
	}
	if msg := strings.TrimSpace(record.Message); msg != "" {
		b.WriteString(msg)
	} else {
		b.WriteString("(no message)")
	}
	if h.addSource && record.PC != 0 {
		if src := record.Source(); src != nil {
			fmt.Fprintf(&b, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range tail {
		b.WriteByte(' ')
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(render(f.value))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// collect flattens attrs, joining group names with dots.
func collect(prefix string, attrs []slog.Attr) []field {
	var out []field
	for _, attr := range attrs {
		if attr.Equal(slog.Attr{}) {
			continue
		}
		v := attr.Value.Resolve()
		if v.Kind() == slog.KindGroup {
			inner := prefix
			if attr.Key != "" {
				inner = prefix + attr.Key + "."
			}
			out = append(out, collect(inner, v.Group())...)
			continue
		}
		out = append(out, field{key: prefix + attr.Key, value: v})
	}
	return out
}

func jobTag(assetID, variant string) string {
	switch {
	case assetID != "" && variant != "":
		return assetID + "/" + variant
	default:
		return assetID + variant
	}
}

func render(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(timestampLayout)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if s == "" || strings.ContainsAny(s, " \t\n\r=\"") {
		return strconv.Quote(s)
	}
	return s
}

func bucket(level slog.Level) slog.Level {
	switch {
	case level >= slog.LevelError:
		return slog.LevelError
	case level >= slog.LevelWarn:
		return slog.LevelWarn
	case level >= slog.LevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func levelLabel(level slog.Level) string {
	return bucket(level).String()
}
