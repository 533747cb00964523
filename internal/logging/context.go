package logging

import (
	"context"
	"log/slog"

	"transcoder/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldAssetID is the standardized structured logging key for source asset identifiers.
	FieldAssetID = "asset_id"
	// FieldVariant is the standardized structured logging key for derivative variant keys.
	FieldVariant = "variant"
	// FieldStage is the standardized structured logging key for job step names.
	FieldStage = "stage"
	// FieldWorker is the standardized structured logging key for worker pool slots.
	FieldWorker = "worker"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering (e.g. job_claimed).
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next operator step for warnings and errors.
	FieldErrorHint = "error_hint"
	// FieldFailureKind carries services.FailureKind for failed jobs.
	FieldFailureKind = "failure_kind"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := services.AssetIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldAssetID, id))
	}
	if key, ok := services.VariantFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldVariant, key))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if worker, ok := services.WorkerFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWorker, worker))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
