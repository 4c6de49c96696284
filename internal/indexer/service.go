package indexer

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/indexflow/internal/mapping"
	"github.com/your-org/indexflow/pkg/procrun"
	"github.com/your-org/indexflow/pkg/repository"
	"github.com/your-org/indexflow/pkg/storage/objectstore"
	"github.com/your-org/indexflow/pkg/tracing"
)

// Repository is the part of the repository API the indexer depends on.
type Repository interface {
	FetchResourceAsText(ctx context.Context, entityID string) (string, error)
	UploadArtifact(ctx context.Context, entityID, targetPath, localFile string, info repository.ContentInformation) (int, error)
	WasUploadedBy(ctx context.Context, entityID, path, uploader string) (bool, error)
}

// ProcessRunner executes the external transformer.
type ProcessRunner interface {
	Run(ctx context.Context, executable, script string, args ...string) procrun.Outcome
	RunWithSinks(ctx context.Context, stdout, stderr io.Writer, executable, script string, args ...string) procrun.Outcome
}

// Publisher emits notifications about generated artifacts.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, headers map[string]string, v any) error
	Close(ctx context.Context) error
}

// Settings is the immutable handler configuration.
type Settings struct {
	// HandlerID is matched against event addressees and stamped as uploader.
	HandlerID string
	// BaseURL is the repository endpoint; only checked for presence here.
	BaseURL string
	// Runtime is the transformer executable, Script its optional first argument.
	Runtime string
	Script  string
	// WorkDir receives per-call scratch directories.
	WorkDir string
}

// Service classifies repository events, runs the transformer and uploads the
// produced documents.
type Service struct {
	settings  Settings
	registry  *mapping.Registry
	runner    ProcessRunner
	repo      Repository
	store     objectstore.Client
	publisher Publisher
	metrics   *Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	locks     *keyedMutex
}

// Params carries the collaborators of a Service. Store, Publisher and
// Metrics are optional.
type Params struct {
	Settings  Settings
	Registry  *mapping.Registry
	Runner    ProcessRunner
	Repo      Repository
	Store     objectstore.Client
	Publisher Publisher
	Metrics   *Metrics
	Logger    *zap.Logger
}

// NewService constructs an indexer Service.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		settings:  p.Settings,
		registry:  p.Registry,
		runner:    p.Runner,
		repo:      p.Repo,
		store:     p.Store,
		publisher: p.Publisher,
		metrics:   p.Metrics,
		logger:    logger,
		tracer:    tracing.Tracer(),
		locks:     newKeyedMutex(),
	}
}

// HandlerID returns the identifier this service answers to.
func (s *Service) HandlerID() string {
	return s.settings.HandlerID
}

// Handle processes one event. It never panics or returns an error; every
// failure is reported as ResultFailed.
func (s *Service) Handle(ctx context.Context, ev InboundEvent) (result Result) {
	ctx, span := s.tracer.Start(ctx, "indexer.handle", trace.WithAttributes(
		attribute.String("entity.id", ev.EntityID),
		attribute.String("event.sub_category", ev.SubCategory),
	))
	start := time.Now()
	log := s.logger.With(
		zap.String("entity_id", ev.EntityID),
		zap.String("category", ev.Category),
		zap.String("sub_category", ev.SubCategory),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("event handling panicked", zap.Any("panic", r), zap.Stack("stack"))
			span.SetStatus(codes.Error, fmt.Sprint(r))
			result = ResultFailed
		}
		span.SetAttributes(attribute.String("indexer.result", result.String()))
		span.End()
		s.metrics.observeEvent(result, time.Since(start))
		log.Info("event handled", zap.Stringer("result", result), zap.Duration("took", time.Since(start)))
	}()

	if !ev.IsAddressedTo(s.settings.HandlerID) {
		log.Debug("handler not addressed, rejecting", zap.Strings("addressees", ev.Addressees))
		return ResultRejected
	}
	if err := validateEntityID(ev.EntityID); err != nil {
		log.Error("invalid event", zap.Error(err))
		return ResultFailed
	}

	if !ev.IsContentEvent() {
		return s.handleResourceEvent(ctx, ev, log)
	}

	if path := ev.ContentPath(); path != "" {
		self, err := s.repo.WasUploadedBy(ctx, ev.EntityID, path, s.settings.HandlerID)
		switch {
		case err != nil:
			log.Warn("could not determine uploader, processing content anyway", zap.String("path", path), zap.Error(err))
		case self:
			log.Debug("content was uploaded by this handler, skipping", zap.String("path", path))
			return ResultRejected
		}
	}
	return s.handleContentEvent(ctx, ev, log)
}

// Close releases the optional collaborators.
func (s *Service) Close(ctx context.Context) error {
	if s.publisher != nil {
		if err := s.publisher.Close(ctx); err != nil {
			return err
		}
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
