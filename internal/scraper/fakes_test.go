package scraper

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeInspector struct {
	mu    sync.Mutex
	pages map[string][]RawElement
	errs  map[string]error
	calls map[string]int

	// block, when set for a page, is waited on before Inspect returns.
	block   map[string]chan struct{}
	started chan string
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{
		pages: make(map[string][]RawElement),
		errs:  make(map[string]error),
		calls: make(map[string]int),
		block: make(map[string]chan struct{}),
	}
}

func (f *fakeInspector) Inspect(ctx context.Context, pageURL string, depth Depth) ([]RawElement, error) {
	f.mu.Lock()
	f.calls[pageURL]++
	gate := f.block[pageURL]
	started := f.started
	elements := append([]RawElement(nil), f.pages[pageURL]...)
	err := f.errs[pageURL]
	f.mu.Unlock()

	if started != nil {
		started <- pageURL
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return elements, nil
}

func (f *fakeInspector) Calls(pageURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[pageURL]
}

type fakeScreenshots struct {
	mu    sync.Mutex
	image []byte
	calls int
}

func (f *fakeScreenshots) Capture(_ context.Context, _ string, _ Bounds) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.image, nil
}

// selectorScreenshots maps regions back to selectors so individual elements
// can be made to fail.
type selectorScreenshots struct {
	byRegion map[Bounds]string
	fail     map[string]bool
}

func (f *selectorScreenshots) Capture(_ context.Context, _ string, region Bounds) ([]byte, error) {
	sel := f.byRegion[region]
	if f.fail[sel] {
		return nil, errors.New("element detached")
	}
	return []byte("shot:" + sel), nil
}

// steppingClock advances by step on every call.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func button(sel string, x float64) RawElement {
	return RawElement{Selector: sel, Kind: "button", Text: sel, X: x, Y: 10, Width: 80, Height: 24}
}
