package headless

import (
	"bytes"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
)

// DefaultMinTextRunes is the visible text below which a page is suspected
// of being rendered client side.
const DefaultMinTextRunes = 200

// Markers left in the static HTML by common client-side frameworks.
var appRootMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// Detector decides whether a plain HTTP response should be rendered again in
// a browser before extraction.
type Detector struct {
	MinTextRunes int
}

// NewDetector creates a Detector. A non-positive threshold uses the default.
func NewDetector(minTextRunes int) *Detector {
	if minTextRunes <= 0 {
		minTextRunes = DefaultMinTextRunes
	}
	return &Detector{MinTextRunes: minTextRunes}
}

// ShouldRender reports whether resp is an HTML page that carries too little
// visible text and either an app root marker or mostly script.
func (d *Detector) ShouldRender(resp crawler.FetchResponse) bool {
	if resp.Rendered || resp.StatusCode != http.StatusOK || !crawler.IsHTMLContentType(resp.Headers) {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}
	scripts := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts += len(s.Text())
		if src, ok := s.Attr("src"); ok && src != "" {
			// External bundles count as a full screen of script.
			scripts += 1024
		}
	})
	doc.Find("script, style, noscript, template").Remove()
	text := utf8.RuneCountInString(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
	if text >= d.MinTextRunes {
		return false
	}

	for _, marker := range appRootMarkers {
		if bytes.Contains(resp.Body, marker) {
			return true
		}
	}
	return scripts > 0 && scripts*100/len(resp.Body) >= 25
}
