package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/v0xg/pagegrab/internal/scraper"
)

// ExhaustedDetail is the ErrorDetail of the outcome RunNext returns once the
// queue is empty.
const ExhaustedDetail = "no pages remaining in session"

// Scraper is the part of scraper.Scraper a session drives.
type Scraper interface {
	Scrape(ctx context.Context, pageURL string, depth scraper.Depth) *scraper.Outcome
}

// ProgressFunc is called after each page with the number of completed pages,
// the queue length and the page just processed.
type ProgressFunc func(completed, total int, pageURL string)

// Progress is a snapshot of the queue cursor.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Remaining int `json:"remaining"`
}

// Option configures a Session.
type Option func(*Session)

// WithConcurrency lets RunAll scrape up to n pages at once. Progress is still
// reported in queue order.
func WithConcurrency(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(s *Session) { s.onProgress = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session sequences scrapes over a FIFO queue of pages.
type Session struct {
	// run serializes RunAll and RunNext; they share one cursor.
	run sync.Mutex

	mu         sync.Mutex
	pages      []string
	cursor     int
	active     bool
	startedAt  time.Time
	endedAt    time.Time
	onProgress ProgressFunc

	scraper     Scraper
	concurrency int
	now         func() time.Time
	logger      *zap.Logger
}

// New returns an idle session driving scr.
func New(scr Scraper, logger *zap.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		scraper:     scr,
		concurrency: 1,
		now:         time.Now,
		logger:      logger.Named("session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) SetProgressCallback(fn ProgressFunc) {
	s.mu.Lock()
	s.onProgress = fn
	s.mu.Unlock()
}

// AddPage appends a page to the queue.
func (s *Session) AddPage(pageURL string) {
	s.mu.Lock()
	s.pages = append(s.pages, pageURL)
	s.mu.Unlock()
}

// AddPages appends pages in order.
func (s *Session) AddPages(pageURLs []string) {
	s.mu.Lock()
	s.pages = append(s.pages, pageURLs...)
	s.mu.Unlock()
}

// Start marks the session active. It is a no-op when already active.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.startedAt = s.now()
	s.endedAt = time.Time{}
	s.logger.Info("Session started", zap.Int("pages", len(s.pages)-s.cursor))
}

// End marks the session completed and freezes its duration. It is a no-op
// when not active.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	s.endedAt = s.now()
	s.logger.Info("Session ended",
		zap.Int("completed", s.cursor),
		zap.Int("total", len(s.pages)),
		zap.Duration("duration", s.endedAt.Sub(s.startedAt)))
}

func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Duration is the time since Start, or zero when the session is not active.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return 0
	}
	return s.now().Sub(s.startedAt)
}

// FinalDuration is the Start to End time of the last completed run.
func (s *Session) FinalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active || s.endedAt.IsZero() {
		return 0
	}
	return s.endedAt.Sub(s.startedAt)
}

func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Progress{
		Completed: s.cursor,
		Total:     len(s.pages),
		Remaining: len(s.pages) - s.cursor,
	}
}

// RunAll scrapes every remaining page and returns the outcomes in queue
// order. Pages added while it runs are left for a later call. It does not
// call End.
func (s *Session) RunAll(ctx context.Context, depth scraper.Depth) []*scraper.Outcome {
	s.run.Lock()
	defer s.run.Unlock()

	s.mu.Lock()
	pending := append([]string(nil), s.pages[s.cursor:]...)
	s.mu.Unlock()

	s.logger.Debug("Running session",
		zap.Int("pages", len(pending)),
		zap.Stringer("depth", depth),
		zap.Int("concurrency", s.concurrency))

	results := make([]*scraper.Outcome, len(pending))
	if s.concurrency <= 1 || len(pending) <= 1 {
		for i, page := range pending {
			results[i] = s.scraper.Scrape(ctx, page, depth)
			s.advance(page, results[i])
		}
		return results
	}

	done := make([]chan struct{}, len(pending))
	for i := range done {
		done[i] = make(chan struct{})
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		for i, page := range pending {
			i, page := i, page
			g.Go(func() error {
				results[i] = s.scraper.Scrape(ctx, page, depth)
				close(done[i])
				return nil
			})
		}
	}()

	// Report strictly in queue order, whatever order the workers finish in.
	for i, page := range pending {
		<-done[i]
		s.advance(page, results[i])
	}
	<-submitted
	_ = g.Wait()
	return results
}

// RunNext scrapes the page at the cursor. Once the queue is exhausted it
// returns an unsuccessful outcome with ExhaustedDetail and false.
func (s *Session) RunNext(ctx context.Context, depth scraper.Depth) (*scraper.Outcome, bool) {
	s.run.Lock()
	defer s.run.Unlock()

	s.mu.Lock()
	if s.cursor >= len(s.pages) {
		s.mu.Unlock()
		return &scraper.Outcome{
			Depth:       depth,
			Elements:    []scraper.ElementDescriptor{},
			ErrorDetail: ExhaustedDetail,
		}, false
	}
	page := s.pages[s.cursor]
	s.mu.Unlock()

	out := s.scraper.Scrape(ctx, page, depth)
	s.advance(page, out)
	return out, true
}

// advance moves the cursor past page and reports progress on the calling
// goroutine.
func (s *Session) advance(page string, out *scraper.Outcome) {
	s.mu.Lock()
	s.cursor++
	completed, total := s.cursor, len(s.pages)
	cb := s.onProgress
	s.mu.Unlock()

	s.logger.Debug("Page complete",
		zap.String("page", page),
		zap.Bool("succeeded", out.Succeeded),
		zap.Int("elements", out.TotalCount),
		zap.Int("completed", completed),
		zap.Int("total", total))

	if cb != nil {
		cb(completed, total, page)
	}
}
