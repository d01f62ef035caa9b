package scraper

import (
	"context"
	"time"
)

// Point is a position in CSS pixels relative to the viewport.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is an element's width and height in CSS pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Bounds is the region handed to a ScreenshotSource.
type Bounds struct {
	Point
	Size
}

// ElementDescriptor is one discovered element.
type ElementDescriptor struct {
	Selector      string    `json:"selector"`
	Kind          string    `json:"kind"` // button, link, input, select, ...
	Text          string    `json:"text,omitempty"`
	TargetURL     string    `json:"targetUrl,omitempty"`
	Position      Point     `json:"position"`
	Size          Size      `json:"size"`
	IsInteractive bool      `json:"isInteractive"`
	ArtifactKey   string    `json:"artifactKey,omitempty"`
	DiscoveredAt  time.Time `json:"discoveredAt"`
}

// Bounds returns the element's region.
func (e ElementDescriptor) Bounds() Bounds {
	return Bounds{Point: e.Position, Size: e.Size}
}

// Outcome is the result of one scrape attempt. Outcomes handed out by the
// scraper are private copies; mutating one never affects the cache.
type Outcome struct {
	PageURL          string              `json:"pageUrl"`
	Depth            Depth               `json:"depth"`
	Elements         []ElementDescriptor `json:"elements"`
	TotalCount       int                 `json:"totalCount"`
	InteractiveCount int                 `json:"interactiveCount"`
	// DiscoveredCount is the raw inspector count before optimization.
	DiscoveredCount int           `json:"discoveredCount"`
	Elapsed         time.Duration `json:"elapsed"`
	Succeeded       bool          `json:"succeeded"`
	ErrorDetail     string        `json:"errorDetail,omitempty"`
}

// Clone returns a deep copy of o.
func (o *Outcome) Clone() *Outcome {
	if o == nil {
		return nil
	}
	c := *o
	if o.Elements != nil {
		c.Elements = make([]ElementDescriptor, len(o.Elements))
		copy(c.Elements, o.Elements)
	}
	return &c
}

// ArtifactCount returns how many elements carry an artifact key.
func (o *Outcome) ArtifactCount() int {
	n := 0
	for _, el := range o.Elements {
		if el.ArtifactKey != "" {
			n++
		}
	}
	return n
}

// Stats is a snapshot of lifetime scrape counters. Cache clears leave it
// untouched.
type Stats struct {
	TotalElementsDiscovered int           `json:"totalElementsDiscovered"`
	TotalArtifactsCaptured  int           `json:"totalArtifactsCaptured"`
	AverageScrapeLatency    time.Duration `json:"averageScrapeLatency"`
	ScrapeCount             int           `json:"scrapeCount"`
}

// RawElement is what an Inspector reports for one element.
type RawElement struct {
	Selector    string
	Kind        string
	Text        string
	URL         string
	X, Y        float64
	Width       float64
	Height      float64
	Interactive bool
}

// Inspector discovers elements on a page.
type Inspector interface {
	Inspect(ctx context.Context, pageURL string, depth Depth) ([]RawElement, error)
}

// ScreenshotSource captures the pixels of a region of a page.
type ScreenshotSource interface {
	Capture(ctx context.Context, pageURL string, region Bounds) ([]byte, error)
}

// ArtifactStore is the subset of the artifact store the capture path needs.
type ArtifactStore interface {
	Put(key string, data []byte) bool
	Thumbnail(data []byte, maxWidth, maxHeight int) ([]byte, error)
	Compress(data []byte, quality int) ([]byte, error)
}

// ElementCallback is invoked for every element kept in a fresh outcome.
type ElementCallback func(el ElementDescriptor)

// ProgressCallback reports pipeline progress for a single scrape.
type ProgressCallback func(percent int, stage string)
