package headless

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
)

// ErrOffScope is returned when a render navigated away from the job's host.
var ErrOffScope = errors.New("render left crawl scope")

// PageRenderer loads a page and returns its rendered DOM.
type PageRenderer interface {
	Render(ctx context.Context, pageURL string) (Page, error)
}

// Renderer swaps app-shell responses for their rendered DOM.
type Renderer struct {
	pages    PageRenderer
	detector *Detector
}

// NewRenderer builds a Renderer. minTextRunes is the Detector threshold.
func NewRenderer(pages PageRenderer, minTextRunes int) *Renderer {
	return &Renderer{pages: pages, detector: NewDetector(minTextRunes)}
}

// Promote renders resp when the detector flags it and reports whether it
// did. The rendered page keeps the status and headers of the HTTP response;
// its body, final URL and links come from the DOM. With a non-empty scope a
// render that ends on another host is rejected with ErrOffScope.
func (r *Renderer) Promote(ctx context.Context, resp crawler.FetchResponse, scope string) (crawler.FetchResponse, bool, error) {
	if !r.detector.ShouldRender(resp) {
		return resp, false, nil
	}
	page, err := r.pages.Render(ctx, resp.URL)
	if err != nil {
		return resp, false, err
	}
	if scope != "" && crawler.Host(page.URL) != scope {
		return resp, false, fmt.Errorf("%s ended on %s: %w", resp.URL, page.URL, ErrOffScope)
	}
	links, err := extractLinks(page.URL, page.HTML)
	if err != nil {
		return resp, false, err
	}

	rendered := resp
	rendered.URL = page.URL
	rendered.Body = []byte(page.HTML)
	rendered.Duration += page.Duration
	rendered.Links = links
	rendered.Rendered = true
	return rendered, true, nil
}
