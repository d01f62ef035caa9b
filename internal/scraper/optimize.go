package scraper

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"time"
)

// MinElementSize is the smallest width or height kept when a result list is
// optimized.
const MinElementSize = 10

var interactiveKinds = map[string]bool{
	"button": true,
	"link":   true,
	"input":  true,
}

// IsInteractive reports whether an element of kind is interactive. The hint
// from the inspector always wins.
func IsInteractive(kind string, hint bool) bool {
	return hint || interactiveKinds[strings.ToLower(kind)]
}

// ShouldSkipElement reports whether el is too small to be worth keeping.
func ShouldSkipElement(el ElementDescriptor) bool {
	return el.Size.Width < MinElementSize || el.Size.Height < MinElementSize
}

// OptimizeElementList drops undersized elements and truncates the rest to limit
// in discovery order. The result is deterministic for a given input.
func OptimizeElementList(elements []ElementDescriptor, limit int) []ElementDescriptor {
	if limit <= 0 {
		return []ElementDescriptor{}
	}
	out := make([]ElementDescriptor, 0, min(len(elements), limit))
	for _, el := range elements {
		if len(out) >= limit {
			break
		}
		if ShouldSkipElement(el) {
			continue
		}
		out = append(out, el)
	}
	return out
}

// FilterByKind returns the elements whose kind matches, ignoring case.
func FilterByKind(elements []ElementDescriptor, kind string) []ElementDescriptor {
	var out []ElementDescriptor
	for _, el := range elements {
		if strings.EqualFold(el.Kind, kind) {
			out = append(out, el)
		}
	}
	return out
}

// FilterInteractive returns the interactive elements.
func FilterInteractive(elements []ElementDescriptor) []ElementDescriptor {
	var out []ElementDescriptor
	for _, el := range elements {
		if el.IsInteractive {
			out = append(out, el)
		}
	}
	return out
}

// UniqueSelector disambiguates selectors that match more than one node by
// appending the element's position.
func UniqueSelector(el ElementDescriptor) string {
	return fmt.Sprintf("%s@%d,%d", el.Selector, int(el.Position.X), int(el.Position.Y))
}

// CacheKey normalizes a page identity. Scheme and host are lowercased and the
// fragment dropped; strings that are not URLs are only trimmed.
func CacheKey(pageURL string) string {
	trimmed := strings.TrimSpace(pageURL)
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return trimmed
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// IsCacheValid reports whether an entry stored at storedAt is still fresh.
// A non-positive maxAge never expires.
func IsCacheValid(storedAt time.Time, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return true
	}
	return now.Sub(storedAt) < maxAge
}

func fingerprint(parts ...string) string {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
