package resolve

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"element-indexer/internal/config"
	"element-indexer/internal/entity"
	"element-indexer/internal/index"
	"element-indexer/internal/selector"
	"element-indexer/pkg/apperr"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDriver scripts QueryLive responses per selector and records every
// query issued, which is how the tests assert attempt ordering.
type fakeDriver struct {
	mu        sync.Mutex
	results   map[string][]entity.LiveElement
	errs      map[string]error
	queries   []string
	snapshot  *entity.Node
	snapshots int
	ready     bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		results: make(map[string][]entity.LiveElement),
		errs:    make(map[string]error),
		ready:   true,
	}
}

func queryKey(kind entity.SelectorKind, value string) string {
	return fmt.Sprintf("%s:%s", kind, value)
}

func (d *fakeDriver) respond(kind entity.SelectorKind, value string, matches ...entity.LiveElement) {
	d.results[queryKey(kind, value)] = matches
}

func (d *fakeDriver) fail(kind entity.SelectorKind, value string, err error) {
	d.errs[queryKey(kind, value)] = err
}

func (d *fakeDriver) recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.queries...)
}

func (d *fakeDriver) Launch(ctx context.Context) error { return nil }
func (d *fakeDriver) Close(ctx context.Context) error  { return nil }

func (d *fakeDriver) Navigate(ctx context.Context, url string) error { return nil }

func (d *fakeDriver) TakeSnapshot(ctx context.Context) (*entity.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snapshots++

	if d.snapshot == nil {
		return nil, apperr.WrapErrorWithReason("TakeSnapshot", apperr.CodeInternal, "no_snapshot_scripted")
	}

	return d.snapshot, nil
}

func (d *fakeDriver) QueryLive(ctx context.Context, kind entity.SelectorKind, value string, timeout time.Duration) ([]entity.LiveElement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := queryKey(kind, value)
	d.queries = append(d.queries, key)

	if err, ok := d.errs[key]; ok {
		return nil, err
	}

	return d.results[key], nil
}

func (d *fakeDriver) Interact(ctx context.Context, ref entity.LiveElement, kind entity.InteractionKind, payload string) error {
	return nil
}

func (d *fakeDriver) FingerprintInputs(ctx context.Context) (entity.FingerprintInputs, error) {
	return entity.FingerprintInputs{URL: "https://example.com", StructuralHash: "abc"}, nil
}

func (d *fakeDriver) IsReady() bool { return d.ready }

func liveMatch() entity.LiveElement {
	return entity.LiveElement{Token: "tok", Visible: true, Enabled: true}
}

func testConfig() *config.Config {
	return &config.Config{
		ResolverConfig: &config.ResolverConfig{
			Rounds:         2,
			BackoffMs:      1,
			QueryTimeoutMs: 100,
			MaxTextLen:     80,
		},
	}
}

func sel(kind entity.SelectorKind, value string) entity.Selector {
	return entity.Selector{Kind: kind, Value: value, Priority: kind.BasePriority()}
}

type fixture struct {
	resolver *Resolver
	driver   *fakeDriver
	holder   *index.Holder
	cache    *Cache
}

func newFixture() *fixture {
	driver := newFakeDriver()
	holder := index.NewHolder()
	cache := NewCache()

	resolver := NewResolver(ResolverParams{
		Config:    testConfig(),
		Logger:    zap.NewNop(),
		Driver:    driver,
		Holder:    holder,
		Cache:     cache,
		Generator: selector.NewGenerator(80),
	})

	return &fixture{resolver: resolver, driver: driver, holder: holder, cache: cache}
}

func (f *fixture) install(records ...entity.ElementRecord) *entity.Generation {
	gen := entity.NewGeneration("fp", records)
	f.holder.Swap(gen)

	return gen
}

func buttonRecord() entity.ElementRecord {
	return entity.ElementRecord{
		Handle:     1,
		Tag:        "button",
		Text:       "Add to cart",
		Attributes: map[string]string{"id": "add"},
		Clickable:  true,
		Selectors: []entity.Selector{
			sel(entity.SelectorKindID, "#add"),
			sel(entity.SelectorKindXPath, "/html/body[1]/button[1]"),
		},
	}
}

func TestResolveSuccessFirstCandidate(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())
	f.driver.respond(entity.SelectorKindID, "#add", liveMatch())

	result, err := f.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, entity.ResolutionSuccess, result.FinalOutcome)
	require.NotNil(t, result.Live)
	require.Equal(t, entity.SelectorKindID, result.SelectorUsed.Kind)
	require.Len(t, result.Attempts, 1)
	require.Equal(t, []string{"id:#add"}, f.driver.recorded())

	entry, ok := f.cache.Get("fp", 1)
	require.True(t, ok)
	require.Equal(t, entity.CacheOutcomeResolved, entry.LastOutcome)
}

func TestResolveFallsThroughPriorities(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())
	f.driver.respond(entity.SelectorKindXPath, "/html/body[1]/button[1]", liveMatch())

	result, err := f.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, entity.ResolutionSuccess, result.FinalOutcome)
	require.Equal(t, entity.SelectorKindXPath, result.SelectorUsed.Kind)
	require.Len(t, result.Attempts, 2)
	require.Equal(t, entity.AttemptNoMatch, result.Attempts[0].Outcome)

	// The winner moves to the cache front for the next resolve.
	entry, ok := f.cache.Get("fp", 1)
	require.True(t, ok)
	require.Equal(t, entity.SelectorKindXPath, entry.Selectors[0].Kind)
}

func TestResolveAmbiguousNeverSuccess(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())
	f.driver.respond(entity.SelectorKindID, "#add", liveMatch(), liveMatch())
	f.driver.respond(entity.SelectorKindXPath, "/html/body[1]/button[1]", liveMatch(), liveMatch())

	result, err := f.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, entity.ResolutionAmbiguous, result.FinalOutcome)
	require.Nil(t, result.Live, "multiple matches must never pick an arbitrary element")
	require.Len(t, result.Attempts, 4, "2 candidates x 2 rounds")
}

func TestResolveMixedFailuresReportAmbiguous(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())
	f.driver.respond(entity.SelectorKindID, "#add", liveMatch(), liveMatch())
	// xpath yields nothing at all.

	result, err := f.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, entity.ResolutionAmbiguous, result.FinalOutcome,
		"any ambiguous attempt dominates plain misses")
}

func TestResolveFiltersInvisibleMatches(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())
	f.driver.respond(entity.SelectorKindID, "#add",
		entity.LiveElement{Token: "hidden", Visible: false, Enabled: true},
		liveMatch(),
		entity.LiveElement{Token: "disabled", Visible: true, Enabled: false},
	)

	result, err := f.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, entity.ResolutionSuccess, result.FinalOutcome,
		"invisible and disabled matches do not count toward ambiguity")
	require.Equal(t, "tok", result.Live.Token)
}

func TestResolveNotFoundAfterBoundedRounds(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())

	result, err := f.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, entity.ResolutionNotFound, result.FinalOutcome)
	require.Len(t, result.Attempts, 4, "2 candidates x 2 rounds, then stop")

	entry, ok := f.cache.Get("fp", 1)
	require.True(t, ok)
	require.Equal(t, entity.CacheOutcomeNotFound, entry.LastOutcome)
}

func TestResolveUnknownHandle(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())

	_, err := f.resolver.Resolve(context.Background(), 99)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.CodeNotFound))
	require.Empty(t, f.driver.recorded(), "no live queries for a dead handle")
}

func TestResolveWithoutIndex(t *testing.T) {
	f := newFixture()

	_, err := f.resolver.Resolve(context.Background(), 1)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
}

func TestResolvePrefersCachedSelectors(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())

	f.cache.Put(entity.CacheEntry{
		Fingerprint: "fp",
		Handle:      1,
		Selectors: []entity.Selector{
			sel(entity.SelectorKindXPath, "/html/body[1]/button[1]"),
		},
		LastOutcome: entity.CacheOutcomeResolved,
	})
	f.driver.respond(entity.SelectorKindXPath, "/html/body[1]/button[1]", liveMatch())

	result, err := f.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, entity.ResolutionSuccess, result.FinalOutcome)
	require.Equal(t, []string{"xpath:/html/body[1]/button[1]"}, f.driver.recorded(),
		"cached order replaces the generation's own list")
}

func TestResolveCacheIsolatedByFingerprint(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())

	// Same handle cached under a different page fingerprint.
	f.cache.Put(entity.CacheEntry{
		Fingerprint: "other-page",
		Handle:      1,
		Selectors:   []entity.Selector{sel(entity.SelectorKindText, "Add to cart")},
	})
	f.driver.respond(entity.SelectorKindID, "#add", liveMatch())

	result, err := f.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, entity.ResolutionSuccess, result.FinalOutcome)
	require.Equal(t, "id:#add", f.driver.recorded()[0],
		"entries from another fingerprint are never consulted")
}

func staleSnapshot() *entity.Node {
	button := &entity.Node{
		Tag:        "button",
		Text:       "Add to cart",
		Attributes: map[string]string{"id": "add"},
		Display:    "block",
		Visibility: "visible",
		Opacity:    1,
	}
	body := &entity.Node{Tag: "body", Display: "block", Visibility: "visible", Opacity: 1, Children: []*entity.Node{button}}

	return &entity.Node{Tag: "html", Display: "block", Visibility: "visible", Opacity: 1, Children: []*entity.Node{body}}
}

func TestResolveStalenessRecovery(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())

	// Cached selectors point at a node that no longer exists.
	f.cache.Put(entity.CacheEntry{
		Fingerprint: "fp",
		Handle:      1,
		Selectors:   []entity.Selector{sel(entity.SelectorKindCSS, ".old-btn")},
		LastOutcome: entity.CacheOutcomeResolved,
	})

	f.driver.snapshot = staleSnapshot()
	f.driver.respond(entity.SelectorKindID, "#add", liveMatch())

	result, err := f.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, entity.ResolutionSuccess, result.FinalOutcome)
	require.Equal(t, 1, f.driver.snapshots, "exactly one re-derivation per resolution")

	entry, ok := f.cache.Get("fp", 1)
	require.True(t, ok)
	require.Equal(t, entity.CacheOutcomeResolved, entry.LastOutcome)
	require.Equal(t, entity.SelectorKindID, entry.Selectors[0].Kind,
		"regenerated winner replaces the dead cached list")
}

func TestResolveStalenessRecoverySingleRound(t *testing.T) {
	f := newFixture()
	f.resolver.config.ResolverConfig.Rounds = 1
	f.install(buttonRecord())

	f.cache.Put(entity.CacheEntry{
		Fingerprint: "fp",
		Handle:      1,
		Selectors:   []entity.Selector{sel(entity.SelectorKindCSS, ".old-btn")},
		LastOutcome: entity.CacheOutcomeResolved,
	})

	f.driver.snapshot = staleSnapshot()
	f.driver.respond(entity.SelectorKindID, "#add", liveMatch())

	result, err := f.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, entity.ResolutionSuccess, result.FinalOutcome,
		"regenerated selectors get a full round even when the budget is spent")
	require.Equal(t, "id:#add", f.driver.recorded()[len(f.driver.recorded())-1])
	require.Equal(t, 1, f.driver.snapshots)

	entry, ok := f.cache.Get("fp", 1)
	require.True(t, ok)
	require.Equal(t, entity.CacheOutcomeResolved, entry.LastOutcome)
}

func TestResolveRegeneratedFailureMarksStale(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())

	f.cache.Put(entity.CacheEntry{
		Fingerprint: "fp",
		Handle:      1,
		Selectors:   []entity.Selector{sel(entity.SelectorKindCSS, ".old-btn")},
		LastOutcome: entity.CacheOutcomeResolved,
	})

	// Regeneration finds the node again but the live page still matches
	// nothing.
	f.driver.snapshot = staleSnapshot()

	result, err := f.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, entity.ResolutionNotFound, result.FinalOutcome)

	entry, ok := f.cache.Get("fp", 1)
	require.True(t, ok)
	require.Equal(t, entity.CacheOutcomeStale, entry.LastOutcome)
}

func TestResolveCancellationSkipsCacheWrite(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.resolver.Resolve(ctx, 1)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.CodeCancelled))
	require.Zero(t, f.cache.Len(), "a superseded resolution leaves no cache trace")
}

func TestResolveTimeoutIsFailedAttempt(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())

	f.driver.fail(entity.SelectorKindID, "#add",
		apperr.WrapErrorWithReason("QueryLive", apperr.CodeTimeout, "query_timeout"))
	f.driver.respond(entity.SelectorKindXPath, "/html/body[1]/button[1]", liveMatch())

	result, err := f.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err, "a per-query timeout is a failed attempt, not a fatal error")

	require.Equal(t, entity.ResolutionSuccess, result.FinalOutcome)
	require.Equal(t, entity.AttemptTimeout, result.Attempts[0].Outcome)
}

func TestResolveDriverUnavailableIsFatal(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())

	f.driver.fail(entity.SelectorKindID, "#add",
		apperr.WrapErrorWithReason("QueryLive", apperr.CodeDriverUnavailable, "page_gone"))

	_, err := f.resolver.Resolve(context.Background(), 1)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.CodeDriverUnavailable))
	require.Len(t, f.driver.recorded(), 1, "no retries once the driver is gone")
	require.Zero(t, f.cache.Len())
}

func TestResolveByDescriptionScansIndexFirst(t *testing.T) {
	f := newFixture()
	f.install(buttonRecord())
	f.driver.respond(entity.SelectorKindID, "#add", liveMatch())

	result, err := f.resolver.ResolveByDescription(context.Background(), entity.Query{Text: "add to"})
	require.NoError(t, err)

	require.Equal(t, entity.ResolutionSuccess, result.FinalOutcome)
	require.Equal(t, 1, result.Handle, "matched the indexed element, case-insensitive containment")
}

func TestResolveByDescriptionAdHocFallback(t *testing.T) {
	f := newFixture()

	f.driver.respond(entity.SelectorKindRole, selector.RoleValue("button", "Checkout"), liveMatch())

	result, err := f.resolver.ResolveByDescription(context.Background(), entity.Query{Role: "button", Name: "Checkout"})
	require.NoError(t, err)

	require.Equal(t, entity.ResolutionSuccess, result.FinalOutcome)
	require.Zero(t, result.Handle)
	require.Zero(t, f.cache.Len(), "descriptive lookups have no handle to cache under")
}

func TestResolveByDescriptionEmptyQuery(t *testing.T) {
	f := newFixture()

	_, err := f.resolver.ResolveByDescription(context.Background(), entity.Query{})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
}
