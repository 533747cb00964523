package services

import "context"

type contextKey int

const (
	assetIDKey contextKey = iota
	variantKey
	stageKey
	workerKey
	requestIDKey
)

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func valueOf(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

// WithAssetID tags ctx with the source asset. Empty ids leave ctx unchanged,
// as do the other With helpers.
func WithAssetID(ctx context.Context, id string) context.Context {
	return withValue(ctx, assetIDKey, id)
}

func AssetIDFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, assetIDKey) }

// WithVariant tags ctx with the variant key being produced.
func WithVariant(ctx context.Context, key string) context.Context {
	return withValue(ctx, variantKey, key)
}

func VariantFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, variantKey) }

// WithStage tags ctx with the job step (derive, encode, segment, publish).
func WithStage(ctx context.Context, stage string) context.Context {
	return withValue(ctx, stageKey, stage)
}

func StageFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, stageKey) }

// WithWorker tags ctx with the worker pool slot.
func WithWorker(ctx context.Context, worker string) context.Context {
	return withValue(ctx, workerKey, worker)
}

func WorkerFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, workerKey) }

// WithRequestID tags ctx with the API request or CLI invocation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, requestIDKey) }
