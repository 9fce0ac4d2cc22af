package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"sync"
	"time"

	"element-indexer/internal/config"
	"element-indexer/internal/entity"
	"element-indexer/internal/selector"
	"element-indexer/pkg/apperr"
	"element-indexer/pkg/logg"
	"element-indexer/pkg/tracing"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	driverName   = "BrowserDriver"
	driverTracer = "browser.driver"

	interactRetries    = 2
	interactRetryDelay = 300 * time.Millisecond
)

// Driver implements the primitive page surface over one playwright
// Chromium page. The page is a single shared mutable resource: every
// snapshot, live query and interaction passes through a weight-1
// semaphore, so exactly one page operation runs at a time.
type Driver struct {
	config         *config.Config
	logger         *zap.Logger
	tracer         trace.Tracer
	playwright     *playwright.Playwright
	browser        playwright.Browser
	browserContext playwright.BrowserContext
	page           playwright.Page
	ready          bool

	pageSem *semaphore.Weighted

	mu       sync.Mutex
	liveRefs map[string]playwright.ElementHandle
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewDriver(params Params) *Driver {
	return &Driver{
		config:   params.Config,
		logger:   params.Logger.With(zap.String(logg.Layer, driverName)),
		tracer:   otel.Tracer(driverTracer),
		pageSem:  semaphore.NewWeighted(1),
		liveRefs: make(map[string]playwright.ElementHandle),
	}
}

func (d *Driver) Launch(ctx context.Context) (err error) {
	const op = "Launch"
	logger := d.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, d.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	logger.Info("Launching browser...")
	step.AddEvent("installing playwright")

	err = playwright.Install()
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "playwright_install_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	step.AddEvent("starting playwright")

	pw, err := playwright.Run()
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "playwright_start_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	d.playwright = pw

	if d.config.BrowserConfig.UserDataDir != "" {
		return d.launchPersistent(ctx)
	}

	return d.launchNew(ctx)
}

func (d *Driver) launchPersistent(ctx context.Context) (err error) {
	const op = "launchPersistent"
	logger := d.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, d.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	logger.Info("Launching persistent browser context")

	userDataDir := d.config.BrowserConfig.UserDataDir

	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "mkdir_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	options := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:          playwright.Bool(d.config.BrowserConfig.Headless),
		SlowMo:            playwright.Float(float64(d.config.BrowserConfig.SlowMo)),
		Viewport:          &playwright.Size{Width: 1920, Height: 1080},
		AcceptDownloads:   playwright.Bool(true),
		JavaScriptEnabled: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--window-size=1920,1080",
		},
	}

	browserContext, err := d.playwright.Chromium.LaunchPersistentContext(userDataDir, options)
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "launch_persistent_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	d.browserContext = browserContext

	pages := browserContext.Pages()

	if len(pages) > 0 {
		d.page = pages[0]
		logger.Info("Using existing page")
	} else {
		page, err := browserContext.NewPage()
		if err != nil {
			return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
				apperr.MetaReason: "new_page_failed",
				apperr.MetaStage:  apperr.StageBrowser,
			})
		}
		d.page = page
		logger.Info("Created new page")
	}

	d.ready = true
	logger.Info("Browser launched successfully")

	return nil
}

func (d *Driver) launchNew(ctx context.Context) (err error) {
	const op = "launchNew"
	logger := d.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, d.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	logger.Info("Launching new browser")

	browserOptions := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.config.BrowserConfig.Headless),
		SlowMo:   playwright.Float(float64(d.config.BrowserConfig.SlowMo)),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
		},
	}

	browser, err := d.playwright.Chromium.Launch(browserOptions)
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "browser_launch_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	d.browser = browser

	contextOptions := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  1280,
			Height: 720,
		},
		AcceptDownloads:   playwright.Bool(true),
		JavaScriptEnabled: playwright.Bool(true),
	}

	browserContext, err := browser.NewContext(contextOptions)
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "context_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	d.browserContext = browserContext

	page, err := browserContext.NewPage()
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "page_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	d.page = page

	d.ready = true
	logger.Info("Browser launched successfully")

	return nil
}

func (d *Driver) Close(ctx context.Context) (err error) {
	const op = "Close"
	logger := d.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, d.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	logger.Info("Closing connection to browser...")

	if d.config.BrowserConfig.UserDataDir != "" {
		logger.Info("Persistent browser - keeping it open")
		d.ready = false

		return nil
	}

	if d.browserContext != nil {
		if err := d.browserContext.Close(); err != nil {
			logger.Warn("Failed to close context", zap.Error(err))
		}
	}

	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			logger.Warn("Failed to close browser", zap.Error(err))
		}
	}

	if d.playwright != nil {
		if err := d.playwright.Stop(); err != nil {
			return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
				apperr.MetaReason: "playwright_stop_failed",
			})
		}
	}

	d.ready = false
	logger.Info("Browser closed")

	return nil
}

func (d *Driver) ensurePageActive(ctx context.Context) error {
	const op = "ensurePageActive"

	if d.browserContext == nil {
		return apperr.WrapErrorWithReason(op, apperr.CodeDriverUnavailable, "browser_context_nil")
	}

	if d.page != nil && !d.page.IsClosed() {
		return nil
	}

	d.logger.Info("Page closed, reconnecting to active page...")

	for _, p := range d.browserContext.Pages() {
		if !p.IsClosed() {
			d.page = p
			d.logger.Info("Reconnected to existing page")

			return nil
		}
	}

	page, err := d.browserContext.NewPage()
	if err != nil {
		return apperr.Wrap(op, apperr.CodeDriverUnavailable, err, map[string]any{
			apperr.MetaReason: "new_page_failed",
		})
	}

	d.page = page
	d.logger.Info("Created new page")

	return nil
}

func (d *Driver) Navigate(ctx context.Context, url string) (err error) {
	const op = "Navigate"
	logger := d.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, url))

	ctx, step := tracing.StartSpan(ctx, d.tracer, logger, op, attribute.String("url", url))
	defer func() {
		step.End(err)
	}()

	if !d.ready {
		return apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	if err := d.ensurePageActive(ctx); err != nil {
		return err
	}

	if err := d.pageSem.Acquire(ctx, 1); err != nil {
		return apperr.WrapWithReason(op, apperr.CodeCancelled, err, "acquire_interrupted")
	}
	defer d.pageSem.Release(1)

	d.dropLiveRefs()

	step.AddEvent("navigating to URL")

	_, err = d.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(d.config.BrowserConfig.Timeout)),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})

	if err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "goto_failed",
			apperr.MetaStage:  apperr.StageNavigation,
			apperr.MetaURL:    url,
		})
	}

	step.AddEvent("navigation completed")

	return nil
}

// TakeSnapshot captures the full raw node tree. It invalidates every
// previously issued live reference, since a new snapshot means the
// caller is about to rebuild its view of the page.
func (d *Driver) TakeSnapshot(ctx context.Context) (root *entity.Node, err error) {
	const op = "TakeSnapshot"
	logger := d.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, d.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	if !d.ready {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	if err := d.ensurePageActive(ctx); err != nil {
		return nil, err
	}

	if err := d.pageSem.Acquire(ctx, 1); err != nil {
		return nil, apperr.WrapWithReason(op, apperr.CodeCancelled, err, "acquire_interrupted")
	}
	defer d.pageSem.Release(1)

	d.dropLiveRefs()

	d.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(5000),
	})

	result, err := d.page.Evaluate(getSnapshotScript())
	if err != nil {
		return nil, d.classifyPageError(op, err, apperr.StageSnapshot)
	}

	root, err = decodeNode(result)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "snapshot_decode_failed",
			apperr.MetaStage:  apperr.StageSnapshot,
		})
	}

	step.AddEvent("snapshot captured")

	return root, nil
}

// QueryLive runs one read-only selector query against the live page,
// bounded by the caller-supplied timeout. Matches come back with their
// visibility and enabled flags plus an opaque token usable in Interact
// until the next navigation or snapshot.
func (d *Driver) QueryLive(ctx context.Context, kind entity.SelectorKind, value string, timeout time.Duration) (refs []entity.LiveElement, err error) {
	const op = "QueryLive"
	logger := d.logger.With(
		zap.String(logg.Operation, op),
		zap.String(logg.Kind, string(kind)),
		zap.String(logg.Selector, value))

	ctx, step := tracing.StartSpan(ctx, d.tracer, logger, op,
		attribute.String("kind", string(kind)),
		attribute.String("selector", value))
	defer func() {
		step.End(err)
	}()

	if !d.ready {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeDriverUnavailable, "browser_not_ready")
	}

	if err := d.ensurePageActive(ctx); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := d.pageSem.Acquire(queryCtx, 1); err != nil {
		return nil, queryWaitError(op, queryCtx, err)
	}
	defer d.pageSem.Release(1)

	pwSelector, roleName, err := playwrightSelector(kind, value)
	if err != nil {
		return nil, apperr.InvalidReqError(op, "selector", err)
	}

	type queryResult struct {
		handles []playwright.ElementHandle
		err     error
	}

	// Playwright calls have no context plumbing; run the query aside
	// and honor the per-query bound here.
	resultCh := make(chan queryResult, 1)
	go func() {
		handles, queryErr := d.page.QuerySelectorAll(pwSelector)
		resultCh <- queryResult{handles: handles, err: queryErr}
	}()

	var handles []playwright.ElementHandle

	select {
	case <-queryCtx.Done():
		return nil, queryWaitError(op, queryCtx, queryCtx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, d.classifyPageError(op, res.err, apperr.StageResolve)
		}

		handles = res.handles
	}

	for _, handle := range handles {
		if roleName != "" && !matchesAccessibleName(handle, roleName) {
			continue
		}

		visible, _ := handle.IsVisible()
		enabled, _ := handle.IsEnabled()

		token := uuid.NewString()
		d.storeLiveRef(token, handle)

		refs = append(refs, entity.LiveElement{
			Token:   token,
			Visible: visible,
			Enabled: enabled,
		})
	}

	step.AddEvent("query completed", attribute.Int("matches", len(refs)))

	return refs, nil
}

// Interact is the only mutating primitive; it holds the page
// exclusively for the duration of the click or type.
func (d *Driver) Interact(ctx context.Context, ref entity.LiveElement, kind entity.InteractionKind, payload string) (err error) {
	const op = "Interact"
	logger := d.logger.With(zap.String(logg.Operation, op), zap.String(logg.Action, string(kind)))

	ctx, step := tracing.StartSpan(ctx, d.tracer, logger, op,
		attribute.String("interaction", string(kind)))
	defer func() {
		step.End(err)
	}()

	if !d.ready {
		return apperr.WrapErrorWithReason(op, apperr.CodeDriverUnavailable, "browser_not_ready")
	}

	handle, ok := d.lookupLiveRef(ref.Token)
	if !ok {
		return apperr.WrapErrorWithReason(op, apperr.CodeStale, "live_ref_expired")
	}

	if err := d.pageSem.Acquire(ctx, 1); err != nil {
		return apperr.WrapWithReason(op, apperr.CodeCancelled, err, "acquire_interrupted")
	}
	defer d.pageSem.Release(1)

	var lastErr error

	for attempt := 0; attempt <= interactRetries; attempt++ {
		if attempt > 0 {
			logger.Info("Retrying interaction", zap.Int("attempt", attempt))
			time.Sleep(interactRetryDelay)
		}

		step.AddEvent(fmt.Sprintf("interaction attempt %d", attempt+1))

		switch kind {
		case entity.InteractClick:
			lastErr = d.tryClick(handle, attempt)
		case entity.InteractType:
			lastErr = d.tryType(handle, payload, attempt)
		default:
			return apperr.WrapErrorWithReason(op, apperr.CodeInvalidArgument, "unknown_interaction_kind")
		}

		if lastErr == nil {
			step.AddEvent("interaction completed")

			return nil
		}
	}

	return apperr.Wrap(op, apperr.CodeActionFailed, lastErr, map[string]any{
		apperr.MetaReason: "interaction_failed",
		apperr.MetaStage:  apperr.StageInteraction,
	})
}

// tryClick escalates from a regular click to a scripted one, the same
// ladder the page sometimes needs for overlapped or animated targets.
func (d *Driver) tryClick(handle playwright.ElementHandle, attempt int) error {
	if attempt == 0 {
		if err := handle.ScrollIntoViewIfNeeded(); err != nil {
			return fmt.Errorf("scroll into view: %w", err)
		}

		if err := handle.Click(playwright.ElementHandleClickOptions{
			Timeout: playwright.Float(5000),
		}); err != nil {
			return fmt.Errorf("click failed: %w", err)
		}

		return nil
	}

	if _, err := handle.Evaluate("el => el.click()"); err != nil {
		return fmt.Errorf("scripted click failed: %w", err)
	}

	return nil
}

func (d *Driver) tryType(handle playwright.ElementHandle, payload string, attempt int) error {
	if attempt == 0 {
		if err := handle.Fill(payload, playwright.ElementHandleFillOptions{
			Timeout: playwright.Float(5000),
		}); err != nil {
			return fmt.Errorf("fill failed: %w", err)
		}

		return nil
	}

	if err := handle.Click(playwright.ElementHandleClickOptions{
		Timeout: playwright.Float(3000),
	}); err != nil {
		return fmt.Errorf("focus click failed: %w", err)
	}

	if err := d.page.Keyboard().Type(payload); err != nil {
		return fmt.Errorf("keyboard type failed: %w", err)
	}

	return nil
}

func (d *Driver) FingerprintInputs(ctx context.Context) (inputs entity.FingerprintInputs, err error) {
	const op = "FingerprintInputs"
	logger := d.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, d.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	if !d.ready {
		return inputs, apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	if err := d.ensurePageActive(ctx); err != nil {
		return inputs, err
	}

	if err := d.pageSem.Acquire(ctx, 1); err != nil {
		return inputs, apperr.WrapWithReason(op, apperr.CodeCancelled, err, "acquire_interrupted")
	}
	defer d.pageSem.Release(1)

	result, err := d.page.Evaluate(getStructureScript())
	if err != nil {
		return inputs, d.classifyPageError(op, err, apperr.StageSnapshot)
	}

	resultMap, ok := result.(map[string]interface{})
	if !ok {
		return inputs, apperr.WrapErrorWithReason(op, apperr.CodeInternal, "unexpected_result_type")
	}

	hasher := fnv.New64a()
	fmt.Fprintf(hasher, "%d|%s", int(getFloat(resultMap, "nodeCount")), getString(resultMap, "topLevel"))

	inputs.URL = getString(resultMap, "url")
	inputs.StructuralHash = fmt.Sprintf("%016x", hasher.Sum64())

	return inputs, nil
}

func (d *Driver) IsReady() bool {
	return d.ready
}

func (d *Driver) classifyPageError(op string, err error, stage string) error {
	if d.page == nil || d.page.IsClosed() || strings.Contains(err.Error(), "Target closed") {
		return apperr.Wrap(op, apperr.CodeDriverUnavailable, err, map[string]any{
			apperr.MetaReason: "page_gone",
			apperr.MetaStage:  stage,
		})
	}

	return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
		apperr.MetaReason: "evaluate_failed",
		apperr.MetaStage:  stage,
	})
}

func queryWaitError(op string, ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return apperr.WrapWithReason(op, apperr.CodeTimeout, err, "query_timeout")
	}

	return apperr.WrapWithReason(op, apperr.CodeCancelled, err, "query_cancelled")
}

// playwrightSelector maps a selector kind to playwright's selector
// engine syntax. For role selectors the accessible name cannot be
// expressed in the engine string, so it comes back separately and is
// filtered per match.
func playwrightSelector(kind entity.SelectorKind, value string) (string, string, error) {
	switch kind {
	case entity.SelectorKindID, entity.SelectorKindDataAttr, entity.SelectorKindCSS:
		return value, "", nil
	case entity.SelectorKindXPath:
		return "xpath=" + value, "", nil
	case entity.SelectorKindRole:
		role, name := selector.SplitRoleValue(value)
		if role == "" {
			return "", "", fmt.Errorf("role selector without role: %q", value)
		}

		return fmt.Sprintf("[role='%s']", role), name, nil
	case entity.SelectorKindText:
		return fmt.Sprintf("text=%q", value), "", nil
	default:
		return "", "", fmt.Errorf("unknown selector kind: %s", kind)
	}
}

func matchesAccessibleName(handle playwright.ElementHandle, name string) bool {
	want := strings.ToLower(name)

	if label, err := handle.GetAttribute("aria-label"); err == nil && label != "" {
		if strings.Contains(strings.ToLower(label), want) {
			return true
		}
	}

	if text, err := handle.InnerText(); err == nil {
		return strings.Contains(strings.ToLower(entity.NormalizeText(text)), want)
	}

	return false
}

func (d *Driver) storeLiveRef(token string, handle playwright.ElementHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.liveRefs[token] = handle
}

func (d *Driver) lookupLiveRef(token string) (playwright.ElementHandle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	handle, ok := d.liveRefs[token]

	return handle, ok
}

func (d *Driver) dropLiveRefs() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.liveRefs = make(map[string]playwright.ElementHandle)
}

func decodeNode(result interface{}) (*entity.Node, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	var node entity.Node
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &node, nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}

	return ""
}

func getFloat(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}

	if v, ok := m[key].(int); ok {
		return float64(v)
	}

	return 0
}
