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
	diagnosticsName   = "Diagnostics"
	diagnosticsTracer = "resolve.diagnostics"
)

// Diagnostics answers "why does this handle or selector not resolve"
// with live match counts. It is strictly read-only: the resolver's
// control flow never consults it and it never writes to the cache or
// the index.
type Diagnostics struct {
	config *config.Config
	logger *zap.Logger
	tracer trace.Tracer
	driver ports.Driver
	holder *index.Holder
	cache  *Cache
}

type DiagnosticsParams struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
	Driver ports.Driver
	Holder *index.Holder
	Cache  *Cache
}

func NewDiagnostics(params DiagnosticsParams) *Diagnostics {
	return &Diagnostics{
		config: params.Config,
		logger: params.Logger.With(zap.String(logg.Layer, diagnosticsName)),
		tracer: otel.Tracer(diagnosticsTracer),
		driver: params.Driver,
		holder: params.Holder,
		cache:  params.Cache,
	}
}

// Diagnose inspects either an indexed handle (rawSelector empty) or a
// caller-supplied selector string (handle 0).
func (d *Diagnostics) Diagnose(ctx context.Context, handle int, rawSelector string) (report *entity.DiagnosticReport, err error) {
	const op = "Diagnose"
	logger := d.logger.With(zap.String(logg.Operation, op), zap.Int(logg.Handle, handle))

	ctx, step := tracing.StartSpan(ctx, d.tracer, logger, op,
		attribute.Int("handle", handle),
		attribute.String("selector", rawSelector))
	defer func() {
		step.End(err)
	}()

	selectors, err := d.targetSelectors(handle, rawSelector)
	if err != nil {
		return nil, err
	}

	report = &entity.DiagnosticReport{
		Handle:    handle,
		CheckedAt: time.Now(),
	}

	timeout := d.config.ResolverConfig.QueryTimeout()

	for _, sel := range selectors {
		qctx, cancel := context.WithTimeout(ctx, timeout)
		matches, queryErr := d.driver.QueryLive(qctx, sel.Kind, sel.Value, timeout)
		cancel()

		diag := entity.SelectorDiagnostic{Selector: sel}

		if queryErr == nil {
			diag.MatchCount = len(matches)

			for _, m := range matches {
				if m.Visible {
					diag.VisibleCount++
				}
			}
		} else if apperr.Is(queryErr, apperr.CodeDriverUnavailable) {
			return nil, queryErr
		}

		report.Selectors = append(report.Selectors, diag)
	}

	if gen := d.holder.Current(); gen != nil && handle != 0 {
		if entry, ok := d.cache.Get(gen.Fingerprint, handle); ok {
			report.LastResolvedAt = entry.LastResolvedAt
			report.LastOutcome = entry.LastOutcome
		}
	}

	return report, nil
}

func (d *Diagnostics) targetSelectors(handle int, rawSelector string) ([]entity.Selector, error) {
	const op = "targetSelectors"

	if rawSelector != "" {
		kind := entity.SelectorKindCSS
		if strings.HasPrefix(rawSelector, "/") {
			kind = entity.SelectorKindXPath
		}

		return []entity.Selector{{Kind: kind, Value: rawSelector, Priority: kind.BasePriority()}}, nil
	}

	gen := d.holder.Current()
	if gen == nil {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeInvalidArgument, "index_not_built")
	}

	rec := gen.Record(handle)
	if rec == nil {
		return nil, apperr.Wrap(op, apperr.CodeNotFound, errors.New("handle not in current generation"), map[string]any{
			apperr.MetaHandle: handle,
			apperr.MetaReason: "unknown_handle",
		})
	}

	return rec.Selectors, nil
}
