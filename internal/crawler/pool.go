package crawler

import (
	"io"
	"slices"
	"sync"
)

// pagePool keeps loaded pages by URL so captures can reuse them. Pages are
// pinned while in use; only idle pages are evicted once the pool grows past
// its limit.
type pagePool[P io.Closer] struct {
	mu    sync.Mutex
	limit int
	pages map[string]*pooledPage[P]
	order []string // least recently added first
}

type pooledPage[P io.Closer] struct {
	page     P
	refs     int
	detached bool // replaced under its URL; closed on last release
}

func newPagePool[P io.Closer](limit int) *pagePool[P] {
	return &pagePool[P]{limit: limit, pages: make(map[string]*pooledPage[P])}
}

// pin returns the page held for url with an extra reference. With idleOnly
// set, a page another caller is using is not handed out.
func (p *pagePool[P]) pin(url string, idleOnly bool) (*pooledPage[P], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pp, ok := p.pages[url]
	if !ok || (idleOnly && pp.refs > 0) {
		return nil, false
	}
	pp.refs++
	return pp, true
}

// add registers page under url, pinned once, and replaces any previous page
// for that url.
func (p *pagePool[P]) add(url string, page P) *pooledPage[P] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.pages[url]; ok {
		old.detached = true
		if old.refs == 0 {
			_ = old.page.Close()
		}
		p.order = slices.DeleteFunc(p.order, func(u string) bool { return u == url })
	}
	pp := &pooledPage[P]{page: page, refs: 1}
	p.pages[url] = pp
	p.order = append(p.order, url)
	p.trimLocked()
	return pp
}

// release drops a reference taken by pin or add.
func (p *pagePool[P]) release(pp *pooledPage[P]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pp.refs--
	if pp.refs > 0 {
		return
	}
	if pp.detached {
		_ = pp.page.Close()
		return
	}
	p.trimLocked()
}

func (p *pagePool[P]) trimLocked() {
	excess := len(p.order) - p.limit
	if excess <= 0 {
		return
	}
	kept := p.order[:0]
	for _, url := range p.order {
		pp := p.pages[url]
		if excess > 0 && pp.refs == 0 {
			_ = pp.page.Close()
			delete(p.pages, url)
			excess--
			continue
		}
		kept = append(kept, url)
	}
	p.order = kept
}

func (p *pagePool[P]) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pages)
}

func (p *pagePool[P]) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pp := range p.pages {
		_ = pp.page.Close()
	}
	p.pages = make(map[string]*pooledPage[P])
	p.order = nil
}
