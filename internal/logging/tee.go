package logging

import (
	"context"
	"errors"
	"log/slog"
)

// teeHandler forwards each record to the daemon handler and to a job sink.
// Each side applies its own level, so a job log can keep debug lines the
// daemon log drops.
type teeHandler struct {
	primary slog.Handler
	sink    slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.sink.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errPrimary, errSink error
	if h.primary.Enabled(ctx, record.Level) {
		errPrimary = h.primary.Handle(ctx, record.Clone())
	}
	if h.sink.Enabled(ctx, record.Level) {
		errSink = h.sink.Handle(ctx, record)
	}
	return errors.Join(errPrimary, errSink)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{primary: h.primary.WithAttrs(attrs), sink: h.sink.WithAttrs(attrs)}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{primary: h.primary.WithGroup(name), sink: h.sink.WithGroup(name)}
}

// TeeLogger returns a logger writing to both base and sink. A nil base
// logs to sink only.
func TeeLogger(base *slog.Logger, sink slog.Handler) *slog.Logger {
	if sink == nil {
		if base == nil {
			return NewNop()
		}
		return base
	}
	if base == nil {
		return slog.New(sink)
	}
	return slog.New(&teeHandler{primary: base.Handler(), sink: sink})
}
