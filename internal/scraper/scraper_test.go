package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/v0xg/pagegrab/internal/artifact"
	"github.com/v0xg/pagegrab/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const pageA = "https://a.test"

func newTestScraper(t *testing.T, insp Inspector, opts ...Option) *Scraper {
	t.Helper()
	return New(insp, zaptest.NewLogger(t), opts...)
}

func newMemoryStore(t *testing.T, opts ...artifact.Option) *artifact.Store {
	t.Helper()
	s, err := artifact.Open(artifact.MemoryLocation, zap.NewNop(), opts...)
	require.NoError(t, err)
	return s
}

func mixedPage() []RawElement {
	return []RawElement{
		{Selector: "#buy", Kind: "button", Width: 80, Height: 30},
		{Selector: "a.home", Kind: "link", URL: "/", Width: 40, Height: 16},
		{Selector: "[name=\"q\"]", Kind: "input", Width: 200, Height: 30},
		{Selector: "div.card", Kind: "div", Width: 300, Height: 200, Interactive: true},
		{Selector: "div.footer", Kind: "div", Width: 800, Height: 60},
		{Selector: "span.badge", Kind: "span", Width: 20, Height: 12},
	}
}

func TestScraper_CacheIdempotence(t *testing.T) {
	insp := newFakeInspector()
	insp.pages[pageA] = mixedPage()
	s := newTestScraper(t, insp)
	ctx := context.Background()

	first := s.Scrape(ctx, pageA, DepthStandard)
	second := s.Scrape(ctx, pageA, DepthStandard)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, insp.Calls(pageA), "a cache hit must not inspect again")
	assert.Equal(t, 1, s.Stats().ScrapeCount, "a cache hit must not add statistics")

	t.Run("should hand out private copies", func(t *testing.T) {
		first.Elements[0].Selector = "mutated"
		cached, ok := s.GetCached(pageA)
		require.True(t, ok)
		assert.Equal(t, "#buy", cached.Elements[0].Selector)
	})

	t.Run("should normalize the page identity", func(t *testing.T) {
		out := s.Scrape(ctx, "HTTPS://A.TEST#section", DepthStandard)
		assert.Equal(t, second, out)
		assert.Equal(t, 1, insp.Calls(pageA))
	})
}

func TestScraper_Classification(t *testing.T) {
	insp := newFakeInspector()
	insp.pages[pageA] = mixedPage()
	s := newTestScraper(t, insp, WithConfig(Config{Depth: DepthStandard, CacheEnabled: true, MaxElements: 500}))

	out := s.Scrape(context.Background(), pageA, DepthDeep)

	require.True(t, out.Succeeded)
	assert.Equal(t, DepthDeep, out.Depth)
	assert.Equal(t, 6, out.TotalCount)
	assert.Equal(t, 6, out.DiscoveredCount)
	assert.Equal(t, 4, out.InteractiveCount)
	assert.LessOrEqual(t, out.InteractiveCount, out.TotalCount)

	interactive := 0
	for _, el := range out.Elements {
		if IsInteractive(el.Kind, el.IsInteractive) {
			interactive++
		}
		assert.Empty(t, el.ArtifactKey, "capture is off")
		assert.False(t, el.DiscoveredAt.IsZero())
	}
	assert.Equal(t, out.InteractiveCount, interactive)
	assert.Equal(t, "/", out.Elements[1].TargetURL)
}

func TestScraper_EmptyPage(t *testing.T) {
	s := newTestScraper(t, newFakeInspector())

	out := s.Scrape(context.Background(), "https://empty.test", DepthQuick)

	assert.True(t, out.Succeeded)
	assert.Empty(t, out.ErrorDetail)
	assert.Equal(t, 0, out.TotalCount)
	assert.True(t, s.IsCached("https://empty.test"))
}

func TestScraper_ClearCacheKeepsStats(t *testing.T) {
	insp := newFakeInspector()
	insp.pages[pageA] = mixedPage()
	insp.pages["https://b.test"] = []RawElement{button("#ok", 1)}
	s := newTestScraper(t, insp)
	ctx := context.Background()

	s.Scrape(ctx, pageA, DepthStandard)
	s.Scrape(ctx, "https://b.test", DepthStandard)
	before := s.Stats()
	require.Equal(t, 2, s.CacheEntryCount())

	s.ClearCache()

	assert.False(t, s.IsCached(pageA))
	assert.False(t, s.IsCached("https://b.test"))
	assert.Equal(t, 0, s.CacheEntryCount())
	assert.Equal(t, before, s.Stats())
	assert.Equal(t, 7, before.TotalElementsDiscovered)
}

func TestScraper_Truncation(t *testing.T) {
	insp := newFakeInspector()
	insp.pages[pageA] = []RawElement{
		{Selector: "#tiny", Kind: "button", Width: 5, Height: 5},
		button("#one", 1),
		button("#two", 2),
		{Selector: "#thin", Kind: "div", Width: 300, Height: 2},
		button("#three", 3),
		button("#four", 4),
	}
	cfg := DefaultConfig()
	cfg.MaxElements = 3
	cfg.CaptureArtifacts = false
	s := newTestScraper(t, insp, WithConfig(cfg))

	out := s.Scrape(context.Background(), pageA, DepthStandard)

	var selectors []string
	for _, el := range out.Elements {
		selectors = append(selectors, el.Selector)
	}
	assert.Equal(t, []string{"#one", "#two", "#three"}, selectors)
	assert.Equal(t, 3, out.TotalCount)
	assert.Equal(t, 6, out.DiscoveredCount)

	t.Run("should be deterministic", func(t *testing.T) {
		s.InvalidateCache(pageA)
		again := s.Scrape(context.Background(), pageA, DepthStandard)
		assert.Equal(t, out.Elements[2].Selector, again.Elements[2].Selector)
		assert.Len(t, again.Elements, 3)
	})

	t.Run("should leave lists within the cap alone", func(t *testing.T) {
		s.SetMaxElements(10)
		s.InvalidateCache(pageA)
		full := s.Scrape(context.Background(), pageA, DepthStandard)
		assert.Equal(t, 6, full.TotalCount)
		assert.Equal(t, "#tiny", full.Elements[0].Selector)
	})
}

func TestScraper_DiscoveryFailure(t *testing.T) {
	insp := newFakeInspector()
	insp.errs[pageA] = errors.New("navigation timed out")
	s := newTestScraper(t, insp)
	ctx := context.Background()

	out := s.Scrape(ctx, pageA, DepthStandard)
	assert.False(t, out.Succeeded)
	assert.Equal(t, "navigation timed out", out.ErrorDetail)
	assert.Empty(t, out.Elements)

	t.Run("should cache the failure", func(t *testing.T) {
		again := s.Scrape(ctx, pageA, DepthStandard)
		assert.False(t, again.Succeeded)
		assert.Equal(t, 1, insp.Calls(pageA))
	})

	t.Run("should retry after invalidation", func(t *testing.T) {
		insp.mu.Lock()
		delete(insp.errs, pageA)
		insp.pages[pageA] = []RawElement{button("#ok", 1)}
		insp.mu.Unlock()

		s.InvalidateCache(pageA)
		retried := s.Scrape(ctx, pageA, DepthStandard)
		assert.True(t, retried.Succeeded)
		assert.Equal(t, 2, insp.Calls(pageA))
	})

	t.Run("should not cache a cancelled run", func(t *testing.T) {
		const page = "https://slow.test"
		insp.mu.Lock()
		insp.block[page] = make(chan struct{})
		insp.mu.Unlock()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		out := s.Scrape(cctx, page, DepthStandard)
		assert.False(t, out.Succeeded)
		assert.False(t, s.IsCached(page))
	})
}

func TestScraper_ArtifactCapture(t *testing.T) {
	elements := []RawElement{
		button("#save", 10),
		button("#cancel", 100),
		{Selector: "p.note", Kind: "p", X: 5, Y: 200, Width: 300, Height: 40},
	}
	regions := map[Bounds]string{}
	for _, r := range elements {
		regions[Bounds{Point{r.X, r.Y}, Size{r.Width, r.Height}}] = r.Selector
	}

	t.Run("should capture every interactive element", func(t *testing.T) {
		insp := newFakeInspector()
		insp.pages[pageA] = elements
		store := newMemoryStore(t)
		s := newTestScraper(t, insp,
			WithScreenshotSource(&selectorScreenshots{byRegion: regions}),
			WithArtifactStore(store))

		out := s.Scrape(context.Background(), pageA, DepthStandard)

		require.True(t, out.Succeeded)
		assert.NotEmpty(t, out.Elements[0].ArtifactKey)
		assert.NotEmpty(t, out.Elements[1].ArtifactKey)
		assert.NotEqual(t, out.Elements[0].ArtifactKey, out.Elements[1].ArtifactKey)
		assert.Empty(t, out.Elements[2].ArtifactKey)
		assert.Equal(t, []byte("shot:#save"), store.Get(out.Elements[0].ArtifactKey))
		assert.Equal(t, 2, s.Stats().TotalArtifactsCaptured)
	})

	t.Run("should survive a partial capture failure", func(t *testing.T) {
		insp := newFakeInspector()
		insp.pages[pageA] = elements
		store := newMemoryStore(t)
		core, logs := observer.New(zapcore.WarnLevel)
		s := New(insp, zap.New(core),
			WithScreenshotSource(&selectorScreenshots{byRegion: regions, fail: map[string]bool{"#save": true}}),
			WithArtifactStore(store))

		out := s.Scrape(context.Background(), pageA, DepthStandard)

		assert.True(t, out.Succeeded)
		assert.Empty(t, out.Elements[0].ArtifactKey)
		assert.NotEmpty(t, out.Elements[1].ArtifactKey)
		assert.Equal(t, 1, store.Len())
		assert.Equal(t, 1, s.Stats().TotalArtifactsCaptured)

		failures := logs.FilterMessage("Artifact capture failed").All()
		require.Len(t, failures, 1)
		assert.Equal(t, "#save", failures[0].ContextMap()["selector"])
	})

	t.Run("should treat an unavailable store as a capture failure", func(t *testing.T) {
		insp := newFakeInspector()
		insp.pages[pageA] = elements
		s := newTestScraper(t, insp,
			WithScreenshotSource(&selectorScreenshots{byRegion: regions}),
			WithArtifactStore(artifact.New(nil)))

		out := s.Scrape(context.Background(), pageA, DepthStandard)

		assert.True(t, out.Succeeded)
		assert.Equal(t, 0, out.ArtifactCount())
	})

	t.Run("should skip capture when disabled", func(t *testing.T) {
		insp := newFakeInspector()
		insp.pages[pageA] = elements
		shots := &fakeScreenshots{image: []byte("x")}
		s := newTestScraper(t, insp, WithScreenshotSource(shots), WithArtifactStore(newMemoryStore(t)))
		s.SetCaptureArtifacts(false)

		out := s.Scrape(context.Background(), pageA, DepthStandard)

		assert.Equal(t, 0, out.ArtifactCount())
		assert.Equal(t, 0, shots.calls)
	})
}

func TestScraper_CapturePostProcessing(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	insp := newFakeInspector()
	insp.pages[pageA] = []RawElement{button("#hero", 0)}
	store := newMemoryStore(t, artifact.WithCodec(artifact.NewImageCodec()))
	cfg := DefaultConfig()
	cfg.ThumbnailWidth, cfg.ThumbnailHeight = 200, 150
	cfg.Quality = 70
	s := newTestScraper(t, insp,
		WithConfig(cfg),
		WithScreenshotSource(&fakeScreenshots{image: buf.Bytes()}),
		WithArtifactStore(store))

	out := s.Scrape(context.Background(), pageA, DepthStandard)

	key := out.Elements[0].ArtifactKey
	require.NotEmpty(t, key)
	stored, format, err := image.DecodeConfig(bytes.NewReader(store.Get(key)))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 200, stored.Width)
	assert.Equal(t, 150, stored.Height)
}

func TestScraper_CaptureArtifact(t *testing.T) {
	store := newMemoryStore(t)
	s := newTestScraper(t, newFakeInspector(),
		WithScreenshotSource(&fakeScreenshots{image: []byte("png")}),
		WithArtifactStore(store))
	el := ElementDescriptor{Selector: "#logo", Kind: "img", Size: Size{Width: 40, Height: 40}}

	k1, ok := s.CaptureArtifact(context.Background(), pageA, el, "")
	require.True(t, ok)
	k2, ok := s.CaptureArtifact(context.Background(), pageA, el, "")
	require.True(t, ok)
	assert.NotEqual(t, k1, k2)

	k3, ok := s.CaptureArtifact(context.Background(), pageA, el, "logo")
	require.True(t, ok)
	assert.Equal(t, "logo", k3)
	assert.True(t, store.Exists("logo"))
	assert.Equal(t, 3, s.Stats().TotalArtifactsCaptured)

	t.Run("should fail without a screenshot source", func(t *testing.T) {
		bare := newTestScraper(t, newFakeInspector(), WithArtifactStore(store))
		_, ok := bare.CaptureArtifact(context.Background(), pageA, el, "")
		assert.False(t, ok)
	})
}

func TestScraper_CacheSettings(t *testing.T) {
	t.Run("should scrape every time with the cache disabled", func(t *testing.T) {
		insp := newFakeInspector()
		s := newTestScraper(t, insp)
		s.SetCacheEnabled(false)

		s.Scrape(context.Background(), pageA, DepthStandard)
		s.Scrape(context.Background(), pageA, DepthStandard)

		assert.Equal(t, 2, insp.Calls(pageA))
		assert.Equal(t, 0, s.CacheEntryCount())
	})

	t.Run("should expire entries past the max age", func(t *testing.T) {
		clock := &steppingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		insp := newFakeInspector()
		s := newTestScraper(t, insp, WithClock(clock.Now))
		s.SetCacheMaxAge(30 * time.Minute)

		s.Scrape(context.Background(), pageA, DepthStandard)
		assert.True(t, s.IsCached(pageA))

		clock.Advance(31 * time.Minute)
		assert.False(t, s.IsCached(pageA))
		s.Scrape(context.Background(), pageA, DepthStandard)
		assert.Equal(t, 2, insp.Calls(pageA))
	})

	t.Run("should never expire without a max age", func(t *testing.T) {
		clock := &steppingClock{now: time.Now()}
		s := newTestScraper(t, newFakeInspector(), WithClock(clock.Now))

		s.Scrape(context.Background(), pageA, DepthStandard)
		clock.Advance(1000 * time.Hour)
		assert.True(t, s.IsCached(pageA))
	})
}

func TestScraper_Stats(t *testing.T) {
	clock := &steppingClock{now: time.Now(), step: time.Millisecond}
	insp := newFakeInspector()
	insp.pages[pageA] = mixedPage()
	insp.errs["https://down.test"] = errors.New("dns failure")
	s := newTestScraper(t, insp, WithClock(clock.Now))
	ctx := context.Background()

	a := s.Scrape(ctx, pageA, DepthStandard)
	b := s.Scrape(ctx, "https://down.test", DepthStandard)

	stats := s.Stats()
	assert.Equal(t, 2, stats.ScrapeCount)
	assert.Equal(t, a.TotalCount, stats.TotalElementsDiscovered)
	assert.Equal(t, (a.Elapsed+b.Elapsed)/2, stats.AverageScrapeLatency)
	assert.Greater(t, stats.AverageScrapeLatency, time.Duration(0))
}

func TestScraper_Callbacks(t *testing.T) {
	insp := newFakeInspector()
	insp.pages[pageA] = mixedPage()
	s := newTestScraper(t, insp)

	var stages []string
	var percents []int
	var seen []string
	s.SetProgressCallback(func(percent int, stage string) {
		percents = append(percents, percent)
		stages = append(stages, stage)
	})
	s.SetElementDiscoveredCallback(func(el ElementDescriptor) {
		seen = append(seen, el.Selector)
	})

	s.Scrape(context.Background(), pageA, DepthStandard)
	s.Scrape(context.Background(), pageA, DepthStandard)

	assert.Equal(t, []int{0, 40, 90, 100}, percents)
	assert.Equal(t, []string{"inspecting", "classified", "captured", "complete"}, stages)
	assert.Len(t, seen, 6, "cache hits do not replay callbacks")
}

func TestScraper_Discover(t *testing.T) {
	insp := newFakeInspector()
	insp.pages[pageA] = mixedPage()
	s := newTestScraper(t, insp)
	ctx := context.Background()

	assert.Len(t, s.DiscoverInteractive(ctx, pageA), 4)
	assert.Len(t, s.DiscoverElements(ctx, pageA), 6)
	assert.Len(t, s.DiscoverByKind(ctx, pageA, "DIV"), 2)
	assert.Len(t, s.DiscoverButtons(ctx, pageA), 1)
	assert.Len(t, s.DiscoverLinks(ctx, pageA), 1)
	assert.Equal(t, 1, insp.Calls(pageA), "discovery helpers share the cache")

	out := s.ScrapeFast(ctx, "https://fast.test")
	assert.Equal(t, DepthQuick, out.Depth)
}

func TestScraper_ConcurrentSamePage(t *testing.T) {
	insp := newFakeInspector()
	insp.pages[pageA] = mixedPage()
	gate := make(chan struct{})
	insp.block[pageA] = gate
	insp.started = make(chan string, 16)
	s := newTestScraper(t, insp)

	const callers = 8
	results := make([]*Outcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Scrape(context.Background(), pageA, DepthStandard)
		}(i)
	}

	<-insp.started
	// Give the other callers time to join the in-flight run.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, insp.Calls(pageA))
	for i := 1; i < callers; i++ {
		assert.Equal(t, results[0], results[i])
	}
	results[0].Elements[0].Kind = "mutated"
	assert.Equal(t, "button", results[1].Elements[0].Kind, "joined callers get their own copy")
}

func TestScraper_JoinedCallerOutlivesCancelledLeader(t *testing.T) {
	insp := newFakeInspector()
	insp.pages[pageA] = mixedPage()
	gate := make(chan struct{})
	insp.block[pageA] = gate
	insp.started = make(chan string, 4)
	s := newTestScraper(t, insp)

	ctx, cancel := context.WithCancel(context.Background())
	leader := make(chan *Outcome)
	go func() { leader <- s.Scrape(ctx, pageA, DepthStandard) }()
	<-insp.started

	joined := make(chan *Outcome)
	go func() { joined <- s.Scrape(context.Background(), pageA, DepthStandard) }()
	// Give the second caller time to join the in-flight run.
	time.Sleep(20 * time.Millisecond)

	cancel()
	cancelled := <-leader
	assert.False(t, cancelled.Succeeded)

	// The live caller runs the pipeline again under its own context.
	require.Equal(t, pageA, <-insp.started)
	close(gate)
	out := <-joined

	assert.True(t, out.Succeeded, out.ErrorDetail)
	assert.Equal(t, len(mixedPage()), out.TotalCount)
	assert.Equal(t, 2, insp.Calls(pageA))
	assert.True(t, s.IsCached(pageA))
}

func TestScraper_ConcurrentDifferentPages(t *testing.T) {
	insp := newFakeInspector()
	gate := make(chan struct{})
	insp.block["https://slow.test"] = gate
	insp.pages["https://fast.test"] = []RawElement{button("#go", 1)}
	insp.started = make(chan string, 4)
	s := newTestScraper(t, insp)

	done := make(chan *Outcome)
	go func() {
		done <- s.Scrape(context.Background(), "https://slow.test", DepthStandard)
	}()
	require.Equal(t, "https://slow.test", <-insp.started)

	fast := s.Scrape(context.Background(), "https://fast.test", DepthStandard)
	assert.Equal(t, 1, fast.TotalCount, "a different page must not wait on the slow one")

	close(gate)
	slow := <-done
	assert.True(t, slow.Succeeded)
}

func TestConfigFrom(t *testing.T) {
	t.Run("should convert the file section", func(t *testing.T) {
		cfg, err := ConfigFrom(config.ScraperConfig{
			Depth: "deep", MaxElements: 42, Quality: 80, ThumbnailWidth: 200, ThumbnailHeight: 150,
		})
		require.NoError(t, err)
		assert.Equal(t, DepthDeep, cfg.Depth)
		assert.Equal(t, 42, cfg.MaxElements)
		assert.Equal(t, 80, cfg.Quality)
	})

	t.Run("should reject an unknown depth", func(t *testing.T) {
		_, err := ConfigFrom(config.ScraperConfig{Depth: "abyssal", MaxElements: 1})
		assert.ErrorIs(t, err, ErrUnknownDepth)
	})

	t.Run("should reject a non-positive cap", func(t *testing.T) {
		_, err := ConfigFrom(config.ScraperConfig{Depth: "quick"})
		assert.Error(t, err)
	})
}

func ExampleScraper_Scrape() {
	insp := newFakeInspector()
	insp.pages["https://shop.test"] = []RawElement{
		{Selector: "#buy", Kind: "button", Width: 80, Height: 30},
		{Selector: "p.price", Kind: "p", Width: 60, Height: 20},
	}
	s := New(insp, nil)

	out := s.Scrape(context.Background(), "https://shop.test", DepthQuick)
	fmt.Println(out.TotalCount, out.InteractiveCount, out.Succeeded)
	// Output: 2 1 true
}
