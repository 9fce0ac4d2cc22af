package resolve

import (
	"context"
	"testing"
	"time"

	"element-indexer/internal/entity"
	"element-indexer/internal/index"
	"element-indexer/pkg/apperr"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type diagFixture struct {
	diagnostics *Diagnostics
	driver      *fakeDriver
	holder      *index.Holder
	cache       *Cache
}

func newDiagFixture() *diagFixture {
	driver := newFakeDriver()
	holder := index.NewHolder()
	cache := NewCache()

	diagnostics := NewDiagnostics(DiagnosticsParams{
		Config: testConfig(),
		Logger: zap.NewNop(),
		Driver: driver,
		Holder: holder,
		Cache:  cache,
	})

	return &diagFixture{diagnostics: diagnostics, driver: driver, holder: holder, cache: cache}
}

func (f *diagFixture) install(records ...entity.ElementRecord) {
	f.holder.Swap(entity.NewGeneration("fp", records))
}

func TestDiagnoseReportsPerSelectorCounts(t *testing.T) {
	f := newDiagFixture()
	f.install(buttonRecord())

	f.driver.respond(entity.SelectorKindID, "#add", liveMatch())
	f.driver.respond(entity.SelectorKindXPath, "/html/body[1]/button[1]",
		liveMatch(),
		entity.LiveElement{Token: "hidden", Visible: false, Enabled: true},
	)

	report, err := f.diagnostics.Diagnose(context.Background(), 1, "")
	require.NoError(t, err)

	require.Equal(t, 1, report.Handle)
	require.Len(t, report.Selectors, 2)

	require.Equal(t, 1, report.Selectors[0].MatchCount)
	require.Equal(t, 1, report.Selectors[0].VisibleCount)

	require.Equal(t, 2, report.Selectors[1].MatchCount)
	require.Equal(t, 1, report.Selectors[1].VisibleCount)
	require.False(t, report.CheckedAt.IsZero())
}

func TestDiagnoseRawSelectorKinds(t *testing.T) {
	f := newDiagFixture()

	report, err := f.diagnostics.Diagnose(context.Background(), 0, ".card button")
	require.NoError(t, err)
	require.Equal(t, entity.SelectorKindCSS, report.Selectors[0].Selector.Kind)

	report, err = f.diagnostics.Diagnose(context.Background(), 0, "/html/body[1]/div[2]")
	require.NoError(t, err)
	require.Equal(t, entity.SelectorKindXPath, report.Selectors[0].Selector.Kind,
		"a leading slash means xpath")
}

func TestDiagnoseAttachesCacheHistory(t *testing.T) {
	f := newDiagFixture()
	f.install(buttonRecord())

	resolvedAt := time.Now().Add(-time.Minute)
	f.cache.Put(entity.CacheEntry{
		Fingerprint:    "fp",
		Handle:         1,
		Selectors:      []entity.Selector{sel(entity.SelectorKindID, "#add")},
		LastResolvedAt: resolvedAt,
		LastOutcome:    entity.CacheOutcomeStale,
	})

	report, err := f.diagnostics.Diagnose(context.Background(), 1, "")
	require.NoError(t, err)

	require.Equal(t, entity.CacheOutcomeStale, report.LastOutcome)
	require.Equal(t, resolvedAt, report.LastResolvedAt)
}

func TestDiagnoseIsReadOnly(t *testing.T) {
	f := newDiagFixture()
	f.install(buttonRecord())

	f.cache.Put(entity.CacheEntry{
		Fingerprint: "fp",
		Handle:      1,
		Selectors:   []entity.Selector{sel(entity.SelectorKindID, "#add")},
		LastOutcome: entity.CacheOutcomeResolved,
	})

	before, _ := f.cache.Get("fp", 1)

	_, err := f.diagnostics.Diagnose(context.Background(), 1, "")
	require.NoError(t, err)

	after, ok := f.cache.Get("fp", 1)
	require.True(t, ok)
	require.Equal(t, before, after, "diagnostics never mutate the cache")
	require.Equal(t, 1, f.cache.Len())
}

func TestDiagnoseUnknownHandle(t *testing.T) {
	f := newDiagFixture()
	f.install(buttonRecord())

	_, err := f.diagnostics.Diagnose(context.Background(), 42, "")
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestDiagnoseWithoutIndex(t *testing.T) {
	f := newDiagFixture()

	_, err := f.diagnostics.Diagnose(context.Background(), 1, "")
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
}

func TestDiagnoseDriverUnavailable(t *testing.T) {
	f := newDiagFixture()
	f.install(buttonRecord())

	f.driver.fail(entity.SelectorKindID, "#add",
		apperr.WrapErrorWithReason("QueryLive", apperr.CodeDriverUnavailable, "page_gone"))

	_, err := f.diagnostics.Diagnose(context.Background(), 1, "")
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.CodeDriverUnavailable))
}

func TestDiagnoseQueryErrorCountsAsZero(t *testing.T) {
	f := newDiagFixture()
	f.install(buttonRecord())

	f.driver.fail(entity.SelectorKindID, "#add",
		apperr.WrapErrorWithReason("QueryLive", apperr.CodeTimeout, "query_timeout"))
	f.driver.respond(entity.SelectorKindXPath, "/html/body[1]/button[1]", liveMatch())

	report, err := f.diagnostics.Diagnose(context.Background(), 1, "")
	require.NoError(t, err)

	require.Len(t, report.Selectors, 2, "a failing selector still appears in the report")
	require.Zero(t, report.Selectors[0].MatchCount)
	require.Equal(t, 1, report.Selectors[1].MatchCount)
}
