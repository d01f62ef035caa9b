package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/v0xg/pagegrab/internal/config"
)

// Config holds the scraper's tunables.
type Config struct {
	Depth            Depth
	CacheEnabled     bool
	MaxElements      int
	CaptureArtifacts bool
	// CacheMaxAge expires cache entries older than this. Zero disables expiry.
	CacheMaxAge time.Duration
	// ThumbnailWidth and ThumbnailHeight, when both positive, scale captures
	// down to fit the box before storing.
	ThumbnailWidth  int
	ThumbnailHeight int
	// Quality, when positive, re-encodes captures as JPEG.
	Quality int
}

// DefaultConfig returns the defaults: standard depth, cache on, 500 elements,
// capture on, raw captures.
func DefaultConfig() Config {
	return Config{
		Depth:            DepthStandard,
		CacheEnabled:     true,
		MaxElements:      500,
		CaptureArtifacts: true,
	}
}

// ConfigFrom converts the file/env configuration section.
func ConfigFrom(c config.ScraperConfig) (Config, error) {
	depth, err := ParseDepth(c.Depth)
	if err != nil {
		return Config{}, err
	}
	if c.MaxElements <= 0 {
		return Config{}, fmt.Errorf("max elements must be positive, got %d", c.MaxElements)
	}
	return Config{
		Depth:            depth,
		CacheEnabled:     c.CacheEnabled,
		MaxElements:      c.MaxElements,
		CaptureArtifacts: c.CaptureArtifacts,
		CacheMaxAge:      c.CacheMaxAge,
		ThumbnailWidth:   c.ThumbnailWidth,
		ThumbnailHeight:  c.ThumbnailHeight,
		Quality:          c.Quality,
	}, nil
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(s *Scraper) { s.cfg = cfg }
}

// WithScreenshotSource enables artifact capture from src.
func WithScreenshotSource(src ScreenshotSource) Option {
	return func(s *Scraper) { s.screenshots = src }
}

// WithArtifactStore sets the store captures are written to.
func WithArtifactStore(store ArtifactStore) Option {
	return func(s *Scraper) { s.store = store }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scraper) { s.now = now }
}

type cacheEntry struct {
	outcome  *Outcome
	storedAt time.Time
}

// Scraper discovers elements on single pages and caches the outcome per page.
//
// Concurrent Scrape calls for the same page share one pipeline run; calls for
// different pages run independently.
type Scraper struct {
	mu    sync.RWMutex
	cfg   Config
	cache map[string]cacheEntry
	stats Stats

	onElement  ElementCallback
	onProgress ProgressCallback

	inflight    singleflight.Group
	inspector   Inspector
	screenshots ScreenshotSource
	store       ArtifactStore
	now         func() time.Time
	logger      *zap.Logger
}

// New returns a scraper reading pages through inspector.
func New(inspector Inspector, logger *zap.Logger, opts ...Option) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scraper{
		cfg:       DefaultConfig(),
		cache:     make(map[string]cacheEntry),
		inspector: inspector,
		now:       time.Now,
		logger:    logger.Named("scraper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns a snapshot of the current configuration.
func (s *Scraper) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Scraper) SetDepth(d Depth) {
	s.mu.Lock()
	s.cfg.Depth = d
	s.mu.Unlock()
}

// SetCacheEnabled toggles caching. Existing entries are kept.
func (s *Scraper) SetCacheEnabled(enabled bool) {
	s.mu.Lock()
	s.cfg.CacheEnabled = enabled
	s.mu.Unlock()
}

// SetMaxElements ignores non-positive values.
func (s *Scraper) SetMaxElements(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.cfg.MaxElements = n
	s.mu.Unlock()
}

func (s *Scraper) SetCaptureArtifacts(enabled bool) {
	s.mu.Lock()
	s.cfg.CaptureArtifacts = enabled
	s.mu.Unlock()
}

func (s *Scraper) SetCacheMaxAge(d time.Duration) {
	s.mu.Lock()
	s.cfg.CacheMaxAge = d
	s.mu.Unlock()
}

func (s *Scraper) SetElementDiscoveredCallback(cb ElementCallback) {
	s.mu.Lock()
	s.onElement = cb
	s.mu.Unlock()
}

func (s *Scraper) SetProgressCallback(cb ProgressCallback) {
	s.mu.Lock()
	s.onProgress = cb
	s.mu.Unlock()
}

// Scrape returns the outcome for pageURL, from cache when possible. It never
// fails: discovery errors are reported through Outcome.Succeeded.
func (s *Scraper) Scrape(ctx context.Context, pageURL string, depth Depth) *Outcome {
	key := CacheKey(pageURL)

	if out, ok := s.lookup(key); ok {
		s.logger.Debug("Cache hit", zap.String("page", key))
		return out
	}

	for {
		v, err, shared := s.inflight.Do(key, func() (interface{}, error) {
			// Another caller may have filled the cache while we waited.
			if out, ok := s.lookup(key); ok {
				return out, nil
			}
			out := s.run(ctx, key, depth)
			s.storeOutcome(ctx, key, out)
			if !out.Succeeded && ctx.Err() != nil {
				return out, ctx.Err()
			}
			return out, nil
		})
		if shared {
			s.logger.Debug("Joined in-flight scrape", zap.String("page", key))
		}
		// A run abandoned by another caller's cancellation says nothing
		// about this caller's page.
		if err != nil && ctx.Err() == nil {
			s.logger.Debug("Retrying scrape cancelled by another caller", zap.String("page", key))
			continue
		}
		return v.(*Outcome).Clone()
	}
}

// ScrapeFast is Scrape at quick depth.
func (s *Scraper) ScrapeFast(ctx context.Context, pageURL string) *Outcome {
	return s.Scrape(ctx, pageURL, DepthQuick)
}

// DiscoverElements scrapes at the configured depth and returns every element.
func (s *Scraper) DiscoverElements(ctx context.Context, pageURL string) []ElementDescriptor {
	return s.Scrape(ctx, pageURL, s.Config().Depth).Elements
}

// DiscoverInteractive scrapes at standard depth and keeps interactive elements.
func (s *Scraper) DiscoverInteractive(ctx context.Context, pageURL string) []ElementDescriptor {
	return FilterInteractive(s.Scrape(ctx, pageURL, DepthStandard).Elements)
}

// DiscoverByKind scrapes at the configured depth and keeps elements of kind.
func (s *Scraper) DiscoverByKind(ctx context.Context, pageURL, kind string) []ElementDescriptor {
	return FilterByKind(s.DiscoverElements(ctx, pageURL), kind)
}

func (s *Scraper) DiscoverButtons(ctx context.Context, pageURL string) []ElementDescriptor {
	return s.DiscoverByKind(ctx, pageURL, "button")
}

func (s *Scraper) DiscoverLinks(ctx context.Context, pageURL string) []ElementDescriptor {
	return s.DiscoverByKind(ctx, pageURL, "link")
}

// CaptureArtifact captures el on demand and returns the artifact key. An
// empty key generates a fresh one, so repeated calls never collide.
func (s *Scraper) CaptureArtifact(ctx context.Context, pageURL string, el ElementDescriptor, key string) (string, bool) {
	if key == "" {
		key = newArtifactKey(CacheKey(pageURL), el)
	}
	if !s.capture(ctx, CacheKey(pageURL), el, key, s.Config()) {
		return "", false
	}

	s.mu.Lock()
	s.stats.TotalArtifactsCaptured++
	s.mu.Unlock()
	return key, true
}

// IsCached reports whether a fresh entry exists for pageURL.
func (s *Scraper) IsCached(pageURL string) bool {
	_, ok := s.GetCached(pageURL)
	return ok
}

// GetCached returns a copy of the cached outcome for pageURL, ignoring
// whether caching is currently enabled.
func (s *Scraper) GetCached(pageURL string) (*Outcome, bool) {
	key := CacheKey(pageURL)

	s.mu.RLock()
	entry, ok := s.cache[key]
	maxAge := s.cfg.CacheMaxAge
	s.mu.RUnlock()

	if !ok || !IsCacheValid(entry.storedAt, maxAge, s.now()) {
		return nil, false
	}
	return entry.outcome.Clone(), true
}

func (s *Scraper) InvalidateCache(pageURL string) {
	key := CacheKey(pageURL)
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	s.logger.Debug("Invalidated cache entry", zap.String("page", key))
}

// ClearCache drops every entry. Lifetime statistics are kept.
func (s *Scraper) ClearCache() {
	s.mu.Lock()
	n := len(s.cache)
	s.cache = make(map[string]cacheEntry)
	s.mu.Unlock()
	s.logger.Debug("Cleared cache", zap.Int("entries", n))
}

func (s *Scraper) CacheEntryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Stats returns a snapshot of the lifetime counters.
func (s *Scraper) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// lookup returns a cache hit when caching is enabled, evicting stale entries.
func (s *Scraper) lookup(key string) (*Outcome, bool) {
	s.mu.RLock()
	enabled := s.cfg.CacheEnabled
	entry, ok := s.cache[key]
	maxAge := s.cfg.CacheMaxAge
	s.mu.RUnlock()

	if !enabled || !ok {
		return nil, false
	}
	if !IsCacheValid(entry.storedAt, maxAge, s.now()) {
		s.mu.Lock()
		if cur, ok := s.cache[key]; ok && cur.storedAt.Equal(entry.storedAt) {
			delete(s.cache, key)
		}
		s.mu.Unlock()
		s.logger.Debug("Cache entry expired", zap.String("page", key))
		return nil, false
	}
	return entry.outcome.Clone(), true
}

func (s *Scraper) storeOutcome(ctx context.Context, key string, out *Outcome) {
	// A cancelled run says nothing about the page.
	if !out.Succeeded && ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.CacheEnabled {
		return
	}
	s.cache[key] = cacheEntry{outcome: out.Clone(), storedAt: s.now()}
}

// run is the uncached discovery, classification and capture pipeline.
func (s *Scraper) run(ctx context.Context, pageURL string, depth Depth) *Outcome {
	cfg := s.Config()
	start := s.now()
	log := s.logger.With(zap.String("page", pageURL), zap.Stringer("depth", depth))

	s.reportProgress(0, "inspecting")
	raw, err := s.inspector.Inspect(ctx, pageURL, depth)
	if err != nil {
		out := &Outcome{
			PageURL:     pageURL,
			Depth:       depth,
			Elements:    []ElementDescriptor{},
			Elapsed:     s.now().Sub(start),
			Succeeded:   false,
			ErrorDetail: err.Error(),
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Info("Discovery cancelled", zap.Error(err))
		} else {
			log.Warn("Discovery failed", zap.Error(err))
		}
		s.record(out)
		s.reportProgress(100, "failed")
		return out
	}

	discoveredAt := s.now()
	elements := make([]ElementDescriptor, 0, len(raw))
	for _, r := range raw {
		elements = append(elements, ElementDescriptor{
			Selector:      r.Selector,
			Kind:          r.Kind,
			Text:          r.Text,
			TargetURL:     r.URL,
			Position:      Point{X: r.X, Y: r.Y},
			Size:          Size{Width: r.Width, Height: r.Height},
			IsInteractive: IsInteractive(r.Kind, r.Interactive),
			DiscoveredAt:  discoveredAt,
		})
	}
	discovered := len(elements)
	if discovered > cfg.MaxElements {
		elements = OptimizeElementList(elements, cfg.MaxElements)
		log.Debug("Optimized element list", zap.Int("discovered", discovered), zap.Int("kept", len(elements)))
	}
	s.reportProgress(40, "classified")

	if cfg.CaptureArtifacts {
		s.captureInteractive(ctx, pageURL, elements, cfg)
	}
	s.reportProgress(90, "captured")

	out := &Outcome{
		PageURL:         pageURL,
		Depth:           depth,
		Elements:        elements,
		TotalCount:      len(elements),
		DiscoveredCount: discovered,
		Succeeded:       true,
	}
	for _, el := range elements {
		if el.IsInteractive {
			out.InteractiveCount++
		}
	}
	out.Elapsed = s.now().Sub(start)

	s.record(out)
	s.notifyElements(elements)
	s.reportProgress(100, "complete")

	log.Info("Scrape complete",
		zap.Int("elements", out.TotalCount),
		zap.Int("interactive", out.InteractiveCount),
		zap.Int("artifacts", out.ArtifactCount()),
		zap.Duration("elapsed", out.Elapsed))
	return out
}

func (s *Scraper) captureInteractive(ctx context.Context, pageURL string, elements []ElementDescriptor, cfg Config) {
	if s.screenshots == nil || s.store == nil {
		s.logger.Debug("Artifact capture skipped: no screenshot source or store")
		return
	}
	for i := range elements {
		if !elements[i].IsInteractive {
			continue
		}
		key := newArtifactKey(pageURL, elements[i])
		if s.capture(ctx, pageURL, elements[i], key, cfg) {
			elements[i].ArtifactKey = key
		}
	}
}

// capture screenshots one element into the store. Failures are logged and
// reported as false; they never abort a scrape.
func (s *Scraper) capture(ctx context.Context, pageURL string, el ElementDescriptor, key string, cfg Config) bool {
	if s.screenshots == nil || s.store == nil {
		return false
	}
	log := s.logger.With(zap.String("page", pageURL), zap.String("selector", el.Selector))

	data, err := s.screenshots.Capture(ctx, pageURL, el.Bounds())
	if err != nil {
		log.Warn("Artifact capture failed", zap.Error(err))
		return false
	}
	if cfg.ThumbnailWidth > 0 && cfg.ThumbnailHeight > 0 {
		if data, err = s.store.Thumbnail(data, cfg.ThumbnailWidth, cfg.ThumbnailHeight); err != nil {
			log.Warn("Artifact thumbnail failed", zap.Error(err))
			return false
		}
	}
	if cfg.Quality > 0 {
		if data, err = s.store.Compress(data, cfg.Quality); err != nil {
			log.Warn("Artifact compression failed", zap.Error(err))
			return false
		}
	}
	if !s.store.Put(key, data) {
		log.Warn("Artifact store rejected capture", zap.String("key", key))
		return false
	}
	log.Debug("Captured artifact", zap.String("key", key), zap.Int("size", len(data)))
	return true
}

// record folds one fresh outcome into the lifetime counters. Failed scrapes
// count toward the latency average.
func (s *Scraper) record(out *Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.ScrapeCount++
	s.stats.TotalElementsDiscovered += out.TotalCount
	s.stats.TotalArtifactsCaptured += out.ArtifactCount()
	s.stats.AverageScrapeLatency += (out.Elapsed - s.stats.AverageScrapeLatency) / time.Duration(s.stats.ScrapeCount)
}

func (s *Scraper) reportProgress(percent int, stage string) {
	s.mu.RLock()
	cb := s.onProgress
	s.mu.RUnlock()
	if cb != nil {
		cb(percent, stage)
	}
}

func (s *Scraper) notifyElements(elements []ElementDescriptor) {
	s.mu.RLock()
	cb := s.onElement
	s.mu.RUnlock()
	if cb == nil {
		return
	}
	for _, el := range elements {
		cb(el)
	}
}

func newArtifactKey(pageURL string, el ElementDescriptor) string {
	return "el-" + fingerprint(pageURL, UniqueSelector(el)) + "-" + uuid.NewString()
}
