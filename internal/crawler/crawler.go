package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/v0xg/pagegrab/internal/config"
	"github.com/v0xg/pagegrab/internal/scraper"
)

var (
	_ scraper.Inspector        = (*Browser)(nil)
	_ scraper.ScreenshotSource = (*Browser)(nil)
)

// maxOpenPages bounds how many idle inspected pages stay loaded for captures.
// Pages in use are never evicted, so more may be open under load.
const maxOpenPages = 4

// Options configures the browser behavior
type Options struct {
	Width      int
	Height     int
	Headless   bool
	ProfileDir string // Chrome/Chromium profile directory for authenticated sessions
	Timeout    time.Duration
	IdleWait   time.Duration
}

// OptionsFrom converts the browser configuration section.
func OptionsFrom(cfg config.BrowserConfig) Options {
	return Options{
		Width:      cfg.Width,
		Height:     cfg.Height,
		Headless:   cfg.Headless,
		ProfileDir: cfg.ProfileDir,
		Timeout:    cfg.NavigationTimeout,
		IdleWait:   cfg.IdleWait,
	}
}

// Browser drives a Chromium instance. It implements scraper.Inspector and
// scraper.ScreenshotSource, and opens pages for the action executor.
type Browser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     Options
	logger   *zap.Logger
	pages    *pagePool[*rod.Page]
}

// Launch starts a browser.
func Launch(opts Options, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.IdleWait == 0 {
		opts.IdleWait = 500 * time.Millisecond
	}
	if opts.Width == 0 || opts.Height == 0 {
		opts.Width, opts.Height = 1280, 720
	}

	l := launcher.New().Headless(opts.Headless)
	if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	}
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	logger = logger.Named("crawler")
	logger.Info("Browser launched", zap.Bool("headless", opts.Headless), zap.Int("width", opts.Width), zap.Int("height", opts.Height))

	return &Browser{
		browser:  browser,
		launcher: l,
		opts:     opts,
		logger:   logger,
		pages:    newPagePool[*rod.Page](maxOpenPages),
	}, nil
}

// Close cleans up browser resources
func (b *Browser) Close() {
	b.pages.closeAll()

	if b.browser != nil {
		_ = b.browser.Close()
	}
	if b.launcher != nil {
		b.launcher.Kill()
	}
}

// Inspect loads pageURL and extracts elements for the given depth.
func (b *Browser) Inspect(ctx context.Context, pageURL string, depth scraper.Depth) ([]scraper.RawElement, error) {
	pp, err := b.load(ctx, pageURL, true)
	if err != nil {
		return nil, err
	}
	defer b.pages.release(pp)
	return extractElements(pp.page.Context(ctx), depth)
}

// Capture screenshots region of pageURL as PNG. An empty region captures the
// whole page.
func (b *Browser) Capture(ctx context.Context, pageURL string, region scraper.Bounds) ([]byte, error) {
	pp, err := b.load(ctx, pageURL, false)
	if err != nil {
		return nil, err
	}
	defer b.pages.release(pp)

	req := &proto.PageCaptureScreenshot{
		Format:                proto.PageCaptureScreenshotFormatPng,
		CaptureBeyondViewport: true,
	}
	full := region.Width <= 0 || region.Height <= 0
	if !full {
		req.Clip = &proto.PageViewport{
			X:      region.X,
			Y:      region.Y,
			Width:  region.Width,
			Height: region.Height,
			Scale:  1,
		}
	}

	data, err := pp.page.Context(ctx).Screenshot(full, req)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return data, nil
}

// Open navigates a fresh tab to pageURL for interactive use. The caller owns
// the returned page.
func (b *Browser) Open(ctx context.Context, pageURL string) (*Page, error) {
	page, err := b.newPage()
	if err != nil {
		return nil, err
	}
	if err := b.navigate(ctx, page, pageURL); err != nil {
		_ = page.Close()
		return nil, err
	}
	return &Page{page: page, timeout: b.opts.Timeout}, nil
}

// load returns a settled, pinned page for pageURL. The caller releases it.
// Unless fresh is set, a page loaded earlier is reused as is; a fresh load
// renavigates an idle page or opens a new one.
func (b *Browser) load(ctx context.Context, pageURL string, fresh bool) (*pooledPage[*rod.Page], error) {
	if pp, ok := b.pages.pin(pageURL, fresh); ok {
		if !fresh {
			return pp, nil
		}
		if err := b.navigate(ctx, pp.page, pageURL); err != nil {
			b.pages.release(pp)
			return nil, err
		}
		return pp, nil
	}

	page, err := b.newPage()
	if err != nil {
		return nil, err
	}
	if err := b.navigate(ctx, page, pageURL); err != nil {
		_ = page.Close()
		return nil, err
	}
	return b.pages.add(pageURL, page), nil
}

func (b *Browser) newPage() (*rod.Page, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	// Set viewport
	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.Width,
		Height:            b.opts.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}
	return page, nil
}

func (b *Browser) navigate(ctx context.Context, page *rod.Page, pageURL string) error {
	start := time.Now()
	p := page.Context(ctx).Timeout(b.opts.Timeout)
	defer p.CancelTimeout()

	if err := p.Navigate(pageURL); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", err)
	}

	// Wait for network to be idle (important for SPAs)
	// Use timeout to avoid hanging on persistent connections (WebSockets, polling, etc.)
	page.Context(ctx).Timeout(5*time.Second).WaitRequestIdle(b.opts.IdleWait, nil, nil, nil)()

	// SPAs need time to hydrate and fetch client-side data
	spa := detectSPA(page)
	if spa {
		waitForInteractiveElements(ctx, page, 5*time.Second)
	}

	b.logger.Debug("Page loaded",
		zap.String("url", pageURL),
		zap.Bool("spa", spa),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// waitForInteractiveElements polls until interactive elements appear or timeout
func waitForInteractiveElements(ctx context.Context, page *rod.Page, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	checkInterval := 200 * time.Millisecond

	for time.Now().Before(deadline) {
		res, err := page.Context(ctx).Eval(`() => {
			const nodes = document.querySelectorAll('button, [role="button"], input:not([type="hidden"]), textarea, a[href]');
			let visible = 0;
			nodes.forEach(el => { if (el.offsetParent) visible++; });
			return visible;
		}`)
		if err != nil {
			return
		}
		if res.Value.Int() > 0 {
			// Found elements, wait a tiny bit more for any final renders
			time.Sleep(300 * time.Millisecond)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(checkInterval):
		}
	}
}

// detectSPA checks if the page is a Single Page Application
func detectSPA(page *rod.Page) bool {
	res, err := page.Eval(`() => {
		// React
		if (window.__REACT_DEVTOOLS_GLOBAL_HOOK__ || document.querySelector('[data-reactroot]') || document.querySelector('#__next')) return true;
		// Vue
		if (window.__VUE__ || document.querySelector('[data-v-]')) return true;
		// Angular
		if (window.ng || document.querySelector('[ng-version]') || document.querySelector('app-root')) return true;
		// Svelte
		if (document.querySelector('[class*="svelte-"]')) return true;
		return false;
	}`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}
