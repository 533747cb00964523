package transcode

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"transcoder/internal/asset"
	"transcoder/internal/encoding"
	"transcoder/internal/hls"
	"transcoder/internal/logging"
	"transcoder/internal/publish"
	"transcoder/internal/queue"
	"transcoder/internal/variant"
)

// AssetSource resolves source media. asset.Library satisfies it.
type AssetSource interface {
	Lookup(ctx context.Context, id string) (asset.Asset, error)
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// JobStore is the durable job state. queue.Store and gormstore.Store satisfy it.
type JobStore interface {
	Enqueue(ctx context.Context, assetID, variantKey string, opts queue.Options) (bool, error)
	Claim(ctx context.Context, assetID, variantKey string) (queue.Token, error)
	FinishSuccess(ctx context.Context, token queue.Token, finalBitrate int64) error
	FinishFailure(ctx context.Context, token queue.Token, message string) error
	RecordUnclaimedFailure(ctx context.Context, assetID, variantKey, message string) (bool, error)
	Reset(ctx context.Context, assetID, variantKey string) error
	Get(ctx context.Context, assetID, variantKey string) (*queue.Job, error)
	ListByAsset(ctx context.Context, assetID string) ([]*queue.Job, error)
	ReleaseIdle()
}

// Encoder produces the output file. encoding.Executor satisfies it.
type Encoder interface {
	Execute(ctx context.Context, req encoding.ExecRequest) error
}

// Segmenter writes the HLS playlist for a streaming encode.
type Segmenter interface {
	Segment(ctx context.Context, req hls.Request) (hls.Result, error)
}

// Publisher commits a finished encode.
type Publisher interface {
	Commit(ctx context.Context, req publish.Request) (publish.Result, error)
}

// DerivativeChecker answers questions about already published derivatives.
// storage.FileStore satisfies it.
type DerivativeChecker interface {
	Exists(assetID, name string) (bool, error)
	LocalPath(assetID, name string) (string, error)
	Size(assetID, name string) (int64, error)
	URL(assetID, name string) string
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Catalog     variant.Catalog
	Deriver     *encoding.Deriver
	Assets      AssetSource
	Jobs        JobStore
	Encoder     Encoder
	Segmenter   Segmenter
	Publisher   Publisher
	Derivatives DerivativeChecker
	Logger      *slog.Logger
}

// Options are the orchestrator settings taken from configuration.
type Options struct {
	ScratchDir       string
	LogDir           string
	JobLogs          bool
	TranscodeEnabled bool
	EnabledVideo     []string
	EnabledAudio     []string
}

// Outcome is the terminal status of one RunJob call.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkipped means another attempt already owns or finished the job.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeSuperseded means the job was reset or restarted while this
	// attempt ran and its result was discarded.
	OutcomeSuperseded Outcome = "superseded"
)

// JobHandle identifies a job to run.
type JobHandle struct {
	AssetID    string
	VariantKey string
}

// EnqueueOptions are the flags stored with a queued job.
type EnqueueOptions = queue.Options

// Orchestrator drives jobs through derive, claim, encode, segment and
// publish.
type Orchestrator struct {
	catalog     variant.Catalog
	deriver     *encoding.Deriver
	assets      AssetSource
	jobs        JobStore
	encoder     Encoder
	segmenter   Segmenter
	publisher   Publisher
	derivatives DerivativeChecker
	opts        Options
	logger      *slog.Logger
	now         func() time.Time
}

// New validates deps and returns an Orchestrator.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Catalog.Len() == 0:
		return nil, errors.New("transcode: variant catalog is empty")
	case deps.Deriver == nil:
		return nil, errors.New("transcode: deriver is required")
	case deps.Assets == nil:
		return nil, errors.New("transcode: asset source is required")
	case deps.Jobs == nil:
		return nil, errors.New("transcode: job store is required")
	case deps.Encoder == nil:
		return nil, errors.New("transcode: encoder is required")
	case deps.Publisher == nil:
		return nil, errors.New("transcode: publisher is required")
	}
	if strings.TrimSpace(opts.ScratchDir) == "" {
		return nil, errors.New("transcode: scratch directory is required")
	}
	if deps.Segmenter == nil {
		deps.Segmenter = hls.New(hls.DefaultTarget, deps.Logger)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		catalog:     deps.Catalog,
		deriver:     deps.Deriver,
		assets:      deps.Assets,
		jobs:        deps.Jobs,
		encoder:     deps.Encoder,
		segmenter:   deps.Segmenter,
		publisher:   deps.Publisher,
		derivatives: deps.Derivatives,
		opts:        opts,
		logger:      logging.NewComponentLogger(logger, "orchestrator"),
		now:         time.Now,
	}, nil
}

// Catalog returns the variant catalog the orchestrator was built with.
func (o *Orchestrator) Catalog() variant.Catalog {
	return o.catalog
}
