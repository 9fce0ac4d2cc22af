package usecase

import (
	"context"

	"element-indexer/internal/config"
	"element-indexer/internal/entity"
	"element-indexer/internal/index"
	"element-indexer/internal/ports"
	"element-indexer/internal/resolve"
	"element-indexer/pkg/apperr"
	"element-indexer/pkg/logg"
	"element-indexer/pkg/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	engineServiceName = "EngineService"
	engineTracer      = "usecase.engine"
)

// EngineService owns the index lifecycle: it snapshots the page, builds
// a generation, swaps it in atomically and keeps the selector cache
// partitioned by page fingerprint. Resolution and diagnostics are
// delegated to the resolve layer against whatever generation is live.
type EngineService struct {
	config      *config.Config
	logger      *zap.Logger
	tracer      trace.Tracer
	driver      ports.Driver
	builder     *index.Builder
	holder      *index.Holder
	cache       *resolve.Cache
	resolver    *resolve.Resolver
	diagnostics *resolve.Diagnostics
}

type EngineServiceParams struct {
	fx.In

	Config      *config.Config
	Logger      *zap.Logger
	Driver      ports.Driver
	Builder     *index.Builder
	Holder      *index.Holder
	Cache       *resolve.Cache
	Resolver    *resolve.Resolver
	Diagnostics *resolve.Diagnostics
}

func NewEngineService(params EngineServiceParams) *EngineService {
	return &EngineService{
		config:      params.Config,
		logger:      params.Logger.With(zap.String(logg.Layer, engineServiceName)),
		tracer:      otel.Tracer(engineTracer),
		driver:      params.Driver,
		builder:     params.Builder,
		holder:      params.Holder,
		cache:       params.Cache,
		resolver:    params.Resolver,
		diagnostics: params.Diagnostics,
	}
}

// BuildIndex captures a snapshot and replaces the live generation. A
// fingerprint change relative to the previous generation drops that
// fingerprint's whole cache partition; individual entries are never
// evicted on their own.
func (s *EngineService) BuildIndex(ctx context.Context) (id uuid.UUID, err error) {
	const op = "BuildIndex"
	logger := s.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	if !s.driver.IsReady() {
		return uuid.Nil, apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	step.AddEvent("computing page fingerprint")

	inputs, err := s.driver.FingerprintInputs(ctx)
	if err != nil {
		return uuid.Nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "fingerprint_failed",
			apperr.MetaStage:  apperr.StageSnapshot,
		})
	}

	fingerprint := entity.NewFingerprint(inputs)

	step.AddEvent("taking snapshot")

	root, err := s.driver.TakeSnapshot(ctx)
	if err != nil {
		return uuid.Nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "snapshot_failed",
			apperr.MetaStage:  apperr.StageSnapshot,
		})
	}

	step.AddEvent("building generation")

	gen := s.builder.Build(root, fingerprint)

	previous := s.holder.Swap(gen)
	if previous != nil && previous.Fingerprint != fingerprint {
		s.cache.Invalidate(previous.Fingerprint)
		logger.Info("Page fingerprint changed, dropped stale cache partition",
			zap.String(logg.Fingerprint, string(previous.Fingerprint)))
	}

	logger.Info("Index built",
		zap.String(logg.Generation, gen.ID.String()),
		zap.String(logg.Fingerprint, string(fingerprint)),
		zap.Int("elements", len(gen.Records)))

	step.AddEvent("generation installed", attribute.Int("elements", len(gen.Records)))

	return gen.ID, nil
}

func (s *EngineService) Resolve(ctx context.Context, handle int) (*entity.ResolutionResult, error) {
	return s.resolver.Resolve(ctx, handle)
}

func (s *EngineService) ResolveByDescription(ctx context.Context, query entity.Query) (*entity.ResolutionResult, error) {
	return s.resolver.ResolveByDescription(ctx, query)
}

func (s *EngineService) Diagnose(ctx context.Context, handle int, selector string) (*entity.DiagnosticReport, error) {
	return s.diagnostics.Diagnose(ctx, handle, selector)
}

// Invalidate drops the live generation and every cache partition.
// Previously issued handles become unresolvable until the next build.
func (s *EngineService) Invalidate() {
	const op = "Invalidate"
	logger := s.logger.With(zap.String(logg.Operation, op))

	s.holder.Swap(nil)
	s.cache.InvalidateAll()

	logger.Info("Index and cache invalidated")
}

func (s *EngineService) CurrentGeneration() *entity.Generation {
	return s.holder.Current()
}
