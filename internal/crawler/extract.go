package crawler

import (
	"fmt"

	"github.com/go-rod/rod"

	"github.com/v0xg/pagegrab/internal/scraper"
)

// extractJS walks the DOM in tiers. Tier 0 is buttons, inputs and links;
// tier 1 adds selects, toggles and ARIA/handler-driven controls; tier 2 adds
// static content (headings, images, labels, list items). Coordinates are
// document-relative so they can be used as screenshot clips directly.
const extractJS = `(opts) => {
	const elements = [];
	const seen = new Set();

	// Helper to check if a class name is a valid CSS identifier
	function isValidCSSClass(cls) {
		if (!cls || cls.length === 0) return false;
		if (/^[0-9]/.test(cls)) return false;
		if (/^-[0-9]/.test(cls)) return false;
		if (/[.:#\[\]()>~+*\/\\]/.test(cls)) return false;
		return true;
	}

	// Helper to generate unique selector
	function getSelector(el) {
		if (el.id && isValidCSSClass(el.id)) return '#' + el.id;
		if (el.name) return el.tagName.toLowerCase() + '[name="' + el.name + '"]';

		if (el.className && typeof el.className === 'string') {
			const validClasses = el.className.trim().split(/\s+/).filter(isValidCSSClass).slice(0, 2);
			if (validClasses.length > 0) {
				const selector = el.tagName.toLowerCase() + '.' + validClasses.join('.');
				try {
					if (document.querySelectorAll(selector).length === 1) return selector;
				} catch (e) {
					// Invalid selector, fall through
				}
			}
		}

		// Fallback to nth-child
		const parent = el.parentElement;
		if (parent && parent !== document.documentElement) {
			const index = Array.from(parent.children).indexOf(el) + 1;
			return getSelector(parent) + ' > ' + el.tagName.toLowerCase() + ':nth-child(' + index + ')';
		}
		return el.tagName.toLowerCase();
	}

	function add(el, kind, interactive) {
		if (elements.length >= opts.max) return;
		if (!el.offsetParent && el.tagName !== 'BODY') return; // Not visible
		const selector = getSelector(el);
		if (seen.has(selector)) return;
		seen.add(selector);
		const r = el.getBoundingClientRect();
		elements.push({
			selector: selector,
			kind: kind,
			text: (el.textContent || el.value || el.placeholder || el.alt || '').trim().slice(0, 80),
			url: el.href || el.src || '',
			x: r.left + window.scrollX,
			y: r.top + window.scrollY,
			width: r.width,
			height: r.height,
			interactive: interactive
		});
	}

	document.querySelectorAll('button, [role="button"], input[type="submit"], input[type="button"]')
		.forEach(el => add(el, 'button', true));
	document.querySelectorAll('input:not([type="hidden"]):not([type="submit"]):not([type="button"]):not([type="checkbox"]):not([type="radio"]), textarea')
		.forEach(el => add(el, 'input', true));
	document.querySelectorAll('a[href]').forEach(el => {
		const href = el.getAttribute('href');
		if (href.startsWith('javascript:')) return;
		add(el, 'link', true);
	});

	if (opts.tier >= 1) {
		document.querySelectorAll('select').forEach(el => add(el, 'select', true));
		document.querySelectorAll('input[type="checkbox"], input[type="radio"]').forEach(el => add(el, el.type, true));
		document.querySelectorAll('[role="link"], [role="tab"], [role="menuitem"], [onclick], [tabindex]:not([tabindex="-1"]), summary')
			.forEach(el => add(el, el.tagName.toLowerCase(), true));
	}

	if (opts.tier >= 2) {
		document.querySelectorAll('h1, h2, h3, h4, h5, h6').forEach(el => add(el, 'heading', false));
		document.querySelectorAll('img').forEach(el => add(el, 'image', false));
		document.querySelectorAll('label').forEach(el => add(el, 'label', false));
		document.querySelectorAll('li, p').forEach(el => add(el, el.tagName.toLowerCase(), false));
	}

	return elements;
}`

// extractElements runs extractJS sized by the depth's target range.
func extractElements(page *rod.Page, depth scraper.Depth) ([]scraper.RawElement, error) {
	_, max := depth.TargetRange()
	tier := 1
	switch depth {
	case scraper.DepthQuick:
		tier = 0
	case scraper.DepthDeep:
		tier = 2
	}

	res, err := page.Eval(extractJS, map[string]int{"tier": tier, "max": max})
	if err != nil {
		return nil, fmt.Errorf("failed to extract elements: %w", err)
	}

	var elements []scraper.RawElement
	for _, v := range res.Value.Arr() {
		elements = append(elements, scraper.RawElement{
			Selector:    v.Get("selector").Str(),
			Kind:        v.Get("kind").Str(),
			Text:        v.Get("text").Str(),
			URL:         v.Get("url").Str(),
			X:           v.Get("x").Num(),
			Y:           v.Get("y").Num(),
			Width:       v.Get("width").Num(),
			Height:      v.Get("height").Num(),
			Interactive: v.Get("interactive").Bool(),
		})
	}
	return elements, nil
}
