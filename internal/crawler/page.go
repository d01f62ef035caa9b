package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/v0xg/pagegrab/internal/executor"
)

var _ executor.Page = (*Page)(nil)

// Page is a browser tab opened for scripted interaction.
type Page struct {
	page    *rod.Page
	timeout time.Duration
}

// Close closes the tab.
func (p *Page) Close() error {
	return p.page.Close()
}

// URL returns the tab's current location.
func (p *Page) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	page, done := p.bound(ctx)
	defer done()
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", err)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	page, done := p.bound(ctx)
	defer done()
	el, err := element(page, selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Input replaces the field's contents with text.
func (p *Page) Input(ctx context.Context, selector, text string) error {
	page, done := p.bound(ctx)
	defer done()
	el, err := element(page, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("failed to select text in %s: %w", selector, err)
	}
	return el.Input(text)
}

func (p *Page) Hover(ctx context.Context, selector string) error {
	page, done := p.bound(ctx)
	defer done()
	el, err := element(page, selector)
	if err != nil {
		return err
	}
	return el.Hover()
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	page, done := p.bound(ctx)
	defer done()
	el, err := element(page, selector)
	if err != nil {
		return "", err
	}
	return el.Text()
}

// Attribute returns the attribute value and whether it is present.
func (p *Page) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	page, done := p.bound(ctx)
	defer done()
	el, err := element(page, selector)
	if err != nil {
		return "", false, err
	}
	v, err := el.Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// WaitVisible blocks until selector is visible or timeout elapses.
func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.timeout
	}
	page := p.page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()
	el, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %s", selector)
	}
	return el.WaitVisible()
}

// Eval runs script, a function expression, and returns its result as JSON.
func (p *Page) Eval(ctx context.Context, script string) (string, error) {
	page, done := p.bound(ctx)
	defer done()
	res, err := page.Eval(script)
	if err != nil {
		return "", fmt.Errorf("script failed: %w", err)
	}
	return res.Value.JSON("", ""), nil
}

// Screenshot captures one element as PNG, or the viewport when selector is
// empty.
func (p *Page) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	page, done := p.bound(ctx)
	defer done()
	if selector == "" {
		return page.Screenshot(false, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
	}
	el, err := element(page, selector)
	if err != nil {
		return nil, err
	}
	return el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}

// bound scopes the page to ctx and the action timeout. Call done once the
// action, including any element it found, is finished.
func (p *Page) bound(ctx context.Context) (*rod.Page, func()) {
	page := p.page.Context(ctx).Timeout(p.timeout)
	return page, func() { page.CancelTimeout() }
}

func element(page *rod.Page, selector string) (*rod.Element, error) {
	el, err := page.Element(selector)
	if err != nil {
		return nil, fmt.Errorf("element not found: %s", selector)
	}
	return el, nil
}
