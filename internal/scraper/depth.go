package scraper

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Depth is the thoroughness tier of a scrape. The scraper only forwards it;
// inspectors use TargetRange and LatencyBand to size their work.
type Depth int

const (
	DepthQuick Depth = iota
	DepthStandard
	DepthDeep
)

// ErrUnknownDepth is returned by ParseDepth for unrecognized names.
var ErrUnknownDepth = errors.New("unknown scrape depth")

func (d Depth) String() string {
	switch d {
	case DepthQuick:
		return "quick"
	case DepthStandard:
		return "standard"
	case DepthDeep:
		return "deep"
	default:
		return fmt.Sprintf("depth(%d)", int(d))
	}
}

// Valid reports whether d is one of the defined tiers.
func (d Depth) Valid() bool {
	return d >= DepthQuick && d <= DepthDeep
}

// ParseDepth accepts quick, standard or deep in any case.
func ParseDepth(s string) (Depth, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quick":
		return DepthQuick, nil
	case "standard":
		return DepthStandard, nil
	case "deep":
		return DepthDeep, nil
	}
	return DepthStandard, fmt.Errorf("%w: %q", ErrUnknownDepth, s)
}

// TargetRange is the element count an inspector should aim for.
func (d Depth) TargetRange() (min, max int) {
	switch d {
	case DepthQuick:
		return 50, 100
	case DepthDeep:
		return 400, 700
	default:
		return 200, 400
	}
}

// LatencyBand is the expected inspection cost of the tier.
func (d Depth) LatencyBand() time.Duration {
	switch d {
	case DepthQuick:
		return 50 * time.Millisecond
	case DepthDeep:
		return 800 * time.Millisecond
	default:
		return 200 * time.Millisecond
	}
}

func (d Depth) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDepth, int(d))
	}
	return []byte(d.String()), nil
}

func (d *Depth) UnmarshalText(text []byte) error {
	parsed, err := ParseDepth(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
