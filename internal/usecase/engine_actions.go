package usecase

import (
	"context"
	"errors"
	"fmt"

	"element-indexer/internal/entity"
	"element-indexer/pkg/apperr"
	"element-indexer/pkg/logg"
	"element-indexer/pkg/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Open navigates and immediately rebuilds the index, so handles are
// usable as soon as the call returns.
func (s *EngineService) Open(ctx context.Context, url string) (id uuid.UUID, err error) {
	const op = "Open"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, url))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op,
		attribute.String("url", url))
	defer func() {
		step.End(err)
	}()

	if url == "" {
		return uuid.Nil, apperr.InvalidReqError(op, "url", errors.New("url cannot be empty"))
	}

	step.AddEvent("navigating to URL")

	if err := s.driver.Navigate(ctx, url); err != nil {
		return uuid.Nil, apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "navigation_failed",
			apperr.MetaStage:  apperr.StageNavigation,
			apperr.MetaURL:    url,
		})
	}

	step.AddEvent("rebuilding index")

	return s.BuildIndex(ctx)
}

// Click resolves the handle and clicks the live element the resolution
// produced. The resolution result is returned even on interaction
// failure so callers can see which selector matched.
func (s *EngineService) Click(ctx context.Context, handle int) (result *entity.ResolutionResult, err error) {
	const op = "Click"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.Int(logg.Handle, handle))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op,
		attribute.Int("handle", handle))
	defer func() {
		step.End(err)
	}()

	result, err = s.resolveForInteraction(ctx, op, handle)
	if err != nil {
		return result, err
	}

	step.AddEvent("clicking element")

	if err := s.driver.Interact(ctx, *result.Live, entity.InteractClick, ""); err != nil {
		return result, apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "click_failed",
			apperr.MetaStage:  apperr.StageInteraction,
			apperr.MetaHandle: handle,
		})
	}

	return result, nil
}

// Type resolves the handle and fills the live element with text.
func (s *EngineService) Type(ctx context.Context, handle int, text string) (result *entity.ResolutionResult, err error) {
	const op = "Type"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.Int(logg.Handle, handle))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op,
		attribute.Int("handle", handle))
	defer func() {
		step.End(err)
	}()

	result, err = s.resolveForInteraction(ctx, op, handle)
	if err != nil {
		return result, err
	}

	step.AddEvent("typing into element")

	if err := s.driver.Interact(ctx, *result.Live, entity.InteractType, text); err != nil {
		return result, apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "type_failed",
			apperr.MetaStage:  apperr.StageInteraction,
			apperr.MetaHandle: handle,
		})
	}

	return result, nil
}

func (s *EngineService) resolveForInteraction(ctx context.Context, op string, handle int) (*entity.ResolutionResult, error) {
	result, err := s.resolver.Resolve(ctx, handle)
	if err != nil {
		return result, err
	}

	if result.FinalOutcome != entity.ResolutionSuccess || result.Live == nil {
		return result, apperr.Wrap(op, outcomeCode(result.FinalOutcome),
			fmt.Errorf("element %d did not resolve: %s", handle, result.FinalOutcome),
			map[string]any{
				apperr.MetaReason: "resolution_failed",
				apperr.MetaStage:  apperr.StageResolve,
				apperr.MetaHandle: handle,
			})
	}

	return result, nil
}

func outcomeCode(outcome entity.ResolutionOutcome) string {
	switch outcome {
	case entity.ResolutionAmbiguous:
		return apperr.CodeAmbiguous
	case entity.ResolutionCancelled:
		return apperr.CodeCancelled
	default:
		return apperr.CodeNotFound
	}
}
