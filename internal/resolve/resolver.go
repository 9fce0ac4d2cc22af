package resolve

import (
	"context"
	"errors"
	"strings"
	"time"

	"element-indexer/internal/config"
	"element-indexer/internal/entity"
	"element-indexer/internal/index"
	"element-indexer/internal/ports"
	"element-indexer/internal/selector"
	"element-indexer/pkg/apperr"
	"element-indexer/pkg/logg"
	"element-indexer/pkg/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	resolverName   = "Resolver"
	resolverTracer = "resolve.resolver"
)

// Resolver turns a handle (or an ad hoc description) back into a live
// element reference. Candidates run in strict priority order within a
// round; fully failed rounds back off and repeat up to the configured
// bound. Every completed resolution, success or failure, refreshes the
// cache entry for its handle.
type Resolver struct {
	config    *config.Config
	logger    *zap.Logger
	tracer    trace.Tracer
	driver    ports.Driver
	holder    *index.Holder
	cache     *Cache
	generator *selector.Generator
}

type ResolverParams struct {
	fx.In

	Config    *config.Config
	Logger    *zap.Logger
	Driver    ports.Driver
	Holder    *index.Holder
	Cache     *Cache
	Generator *selector.Generator
}

func NewResolver(params ResolverParams) *Resolver {
	return &Resolver{
		config:    params.Config,
		logger:    params.Logger.With(zap.String(logg.Layer, resolverName)),
		tracer:    otel.Tracer(resolverTracer),
		driver:    params.Driver,
		holder:    params.Holder,
		cache:     params.Cache,
		generator: params.Generator,
	}
}

func (r *Resolver) Resolve(ctx context.Context, handle int) (result *entity.ResolutionResult, err error) {
	const op = "Resolve"
	logger := r.logger.With(zap.String(logg.Operation, op), zap.Int(logg.Handle, handle))

	ctx, step := tracing.StartSpan(ctx, r.tracer, logger, op, attribute.Int("handle", handle))
	defer func() {
		step.End(err)
	}()

	gen := r.holder.Current()
	if gen == nil {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeInvalidArgument, "index_not_built")
	}

	rec := gen.Record(handle)
	if rec == nil {
		// Handles never survive a re-index; an unknown handle is a
		// caller error, not a retryable page condition.
		return nil, apperr.Wrap(op, apperr.CodeNotFound, errors.New("handle not in current generation"), map[string]any{
			apperr.MetaHandle:     handle,
			apperr.MetaGeneration: gen.ID.String(),
			apperr.MetaReason:     "unknown_handle",
		})
	}

	candidates := rec.Selectors
	fromCache := false

	if entry, ok := r.cache.Get(gen.Fingerprint, handle); ok && len(entry.Selectors) > 0 {
		candidates = entry.Selectors
		fromCache = true
		step.AddEvent("using cached selectors")
	}

	result, finalCandidates, regenerated, err := r.run(ctx, step, handle, rec, candidates, fromCache)
	if err != nil {
		return nil, err
	}

	r.cache.Put(r.cacheEntry(gen.Fingerprint, handle, finalCandidates, result, regenerated))

	logger.Debug("Resolution finished",
		zap.String("outcome", string(result.FinalOutcome)),
		zap.Int("attempts", len(result.Attempts)),
		zap.Duration("elapsed", step.Elapsed()))

	return result, nil
}

// ResolveByDescription locates an element with no handle: the current
// generation is scanned first (normalized text containment, or role
// plus accessible name), falling back to ad hoc TEXT/ROLE candidates
// run through the same state machine. Descriptive lookups bypass the
// cache entirely since cache entries are keyed by handle.
func (r *Resolver) ResolveByDescription(ctx context.Context, query entity.Query) (result *entity.ResolutionResult, err error) {
	const op = "ResolveByDescription"
	logger := r.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, r.tracer, logger, op,
		attribute.String("text", query.Text),
		attribute.String("role", query.Role))
	defer func() {
		step.End(err)
	}()

	if query.Empty() {
		return nil, apperr.InvalidReqError(op, "query", errors.New("either text or role is required"))
	}

	if gen := r.holder.Current(); gen != nil {
		if handle := matchQuery(gen, query); handle != 0 {
			step.AddEvent("matched indexed element")

			return r.Resolve(ctx, handle)
		}
	}

	var candidates []entity.Selector

	if query.Role != "" {
		candidates = append(candidates, entity.Selector{
			Kind:     entity.SelectorKindRole,
			Value:    selector.RoleValue(query.Role, query.Name),
			Priority: entity.SelectorKindRole.BasePriority(),
		})
	}

	if query.Text != "" {
		candidates = append(candidates, entity.Selector{
			Kind:     entity.SelectorKindText,
			Value:    entity.NormalizeText(query.Text),
			Priority: entity.SelectorKindText.BasePriority(),
		})
	}

	result, _, _, err = r.run(ctx, step, 0, nil, candidates, false)

	return result, err
}

// run is the per-resolution state machine: pending, trying selector i,
// success or failed, then retry or escalate until the round budget is
// spent.
func (r *Resolver) run(
	ctx context.Context,
	step *tracing.Span,
	handle int,
	rec *entity.ElementRecord,
	candidates []entity.Selector,
	fromCache bool,
) (*entity.ResolutionResult, []entity.Selector, bool, error) {
	const op = "run"

	started := time.Now()
	result := &entity.ResolutionResult{Handle: handle}
	sawAmbiguous := false
	regenerated := false
	rounds := r.config.ResolverConfig.Rounds

	for round := 0; round < rounds; round++ {
		for _, sel := range candidates {
			if ctx.Err() != nil {
				// Superseded mid-flight: drop partial results, nothing
				// reaches the cache.
				return nil, nil, false, apperr.WrapWithReason(op, apperr.CodeCancelled, ctx.Err(), "resolution_cancelled")
			}

			attempt, live, err := r.attempt(ctx, sel)
			if err != nil {
				return nil, nil, false, err
			}

			result.Attempts = append(result.Attempts, attempt)

			switch attempt.Outcome {
			case entity.AttemptMatched:
				used := sel
				result.Live = live
				result.SelectorUsed = &used
				result.FinalOutcome = entity.ResolutionSuccess
				result.Elapsed = time.Since(started)

				return result, candidates, regenerated, nil
			case entity.AttemptAmbiguous:
				sawAmbiguous = true
			}
		}

		// A cached selector set that fails wholesale means the page
		// mutated under us: re-derive candidates from a fresh snapshot
		// before burning the remaining rounds on dead selectors.
		if fromCache && !regenerated && rec != nil {
			if fresh := r.regenerate(ctx, rec); len(fresh) > 0 {
				candidates = fresh
				regenerated = true
				step.AddEvent("selectors regenerated after staleness")

				// Recovery is not a retry: the fresh list gets a full
				// round even when the budget is already spent.
				round--

				continue
			}
		}

		if round < rounds-1 {
			r.logger.Debug("Round exhausted, backing off", zap.Int(logg.Round, round+1))

			select {
			case <-ctx.Done():
				return nil, nil, false, apperr.WrapWithReason(op, apperr.CodeCancelled, ctx.Err(), "resolution_cancelled")
			case <-time.After(r.config.ResolverConfig.Backoff()):
			}
		}
	}

	if sawAmbiguous {
		result.FinalOutcome = entity.ResolutionAmbiguous
	} else {
		result.FinalOutcome = entity.ResolutionNotFound
	}

	result.Elapsed = time.Since(started)

	return result, candidates, regenerated, nil
}

// attempt runs one selector against the live page under its own
// timeout. Exactly one visible, enabled match is a success; zero is a
// miss; more than one is ambiguous and never silently resolved.
func (r *Resolver) attempt(ctx context.Context, sel entity.Selector) (entity.Attempt, *entity.LiveElement, error) {
	const op = "attempt"

	timeout := r.config.ResolverConfig.QueryTimeout()
	started := time.Now()

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	matches, err := r.driver.QueryLive(qctx, sel.Kind, sel.Value, timeout)
	elapsed := time.Since(started)

	if err != nil {
		if apperr.Is(err, apperr.CodeDriverUnavailable) {
			return entity.Attempt{}, nil, apperr.Wrap(op, apperr.CodeDriverUnavailable, err, map[string]any{
				apperr.MetaSelector: sel.Value,
				apperr.MetaStage:    apperr.StageResolve,
			})
		}

		if ctx.Err() != nil {
			return entity.Attempt{}, nil, apperr.WrapWithReason(op, apperr.CodeCancelled, ctx.Err(), "resolution_cancelled")
		}

		outcome := entity.AttemptError
		if apperr.Is(err, apperr.CodeTimeout) || errors.Is(err, context.DeadlineExceeded) {
			outcome = entity.AttemptTimeout
		}

		return entity.Attempt{Selector: sel, Outcome: outcome, Elapsed: elapsed}, nil, nil
	}

	usable := matches[:0:0]

	for _, m := range matches {
		if m.Visible && m.Enabled {
			usable = append(usable, m)
		}
	}

	switch len(usable) {
	case 1:
		live := usable[0]

		return entity.Attempt{Selector: sel, Outcome: entity.AttemptMatched, Elapsed: elapsed}, &live, nil
	case 0:
		return entity.Attempt{Selector: sel, Outcome: entity.AttemptNoMatch, Elapsed: elapsed}, nil, nil
	default:
		return entity.Attempt{Selector: sel, Outcome: entity.AttemptAmbiguous, Elapsed: elapsed}, nil, nil
	}
}

// regenerate takes a fresh snapshot and re-derives selectors for the
// record's last-known identity: id first, then a stable test
// attribute, then tag plus normalized text.
func (r *Resolver) regenerate(ctx context.Context, rec *entity.ElementRecord) []entity.Selector {
	root, err := r.driver.TakeSnapshot(ctx)
	if err != nil {
		r.logger.Warn("Staleness recovery snapshot failed", zap.Error(err))

		return nil
	}

	flat := index.Ingest(root)

	node := matchRecord(flat, rec)
	if node == nil {
		return nil
	}

	return r.generator.Generate(root, node)
}

func matchRecord(flat []*entity.Node, rec *entity.ElementRecord) *entity.Node {
	if id := rec.Attributes["id"]; id != "" {
		for _, n := range flat {
			if n.Attr("id") == id {
				return n
			}
		}
	}

	for _, attr := range []string{"data-testid", "data-test-id", "data-test", "data-qa", "data-cy"} {
		want := rec.Attributes[attr]
		if want == "" {
			continue
		}

		for _, n := range flat {
			if n.Attr(attr) == want {
				return n
			}
		}
	}

	if rec.Text != "" {
		for _, n := range flat {
			if strings.EqualFold(n.Tag, rec.Tag) && entity.NormalizeText(n.Text) == rec.Text {
				return n
			}
		}
	}

	return nil
}

func matchQuery(gen *entity.Generation, query entity.Query) int {
	for i := range gen.Records {
		rec := &gen.Records[i]

		if query.Role != "" {
			if rec.Attributes["role"] != query.Role {
				continue
			}

			if query.Name != "" {
				name := rec.Attributes["aria-label"]
				if name == "" {
					name = rec.Text
				}

				if !strings.Contains(strings.ToLower(name), strings.ToLower(query.Name)) {
					continue
				}
			}

			return rec.Handle
		}

		if query.Text != "" {
			if strings.Contains(strings.ToLower(rec.Text), strings.ToLower(entity.NormalizeText(query.Text))) {
				return rec.Handle
			}
		}
	}

	return 0
}

// cacheEntry builds the entry written back after a resolution. The
// winning selector moves to the front so the next call tries it first.
func (r *Resolver) cacheEntry(
	fingerprint entity.PageFingerprint,
	handle int,
	candidates []entity.Selector,
	result *entity.ResolutionResult,
	regenerated bool,
) entity.CacheEntry {
	selectors := candidates

	outcome := entity.CacheOutcomeNotFound

	switch {
	case result.FinalOutcome == entity.ResolutionSuccess:
		outcome = entity.CacheOutcomeResolved
		selectors = promote(candidates, *result.SelectorUsed)
	case regenerated:
		outcome = entity.CacheOutcomeStale
	}

	return entity.CacheEntry{
		Fingerprint:    fingerprint,
		Handle:         handle,
		Selectors:      selectors,
		LastResolvedAt: time.Now(),
		LastOutcome:    outcome,
	}
}

func promote(selectors []entity.Selector, used entity.Selector) []entity.Selector {
	promoted := make([]entity.Selector, 0, len(selectors))
	promoted = append(promoted, used)

	for _, s := range selectors {
		if s != used {
			promoted = append(promoted, s)
		}
	}

	return promoted
}
