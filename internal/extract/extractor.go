// Package extract turns raw HTML into the fields the index needs: title,
// meta description, detected language and a body/boilerplate split.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
)

// MissingDescription is stored when a page has no usable meta description.
const MissingDescription = "NAN"

// Result holds the fields extracted from one page.
type Result struct {
	Title          string
	Description    string
	HasDescription bool
	Language       string
	Body           string
	Boilerplate    string
}

// Detector returns the ISO 639-1 code for text, or "" when unknown.
type Detector func(text string) string

// Option customizes an Extractor.
type Option func(*Extractor)

// WithDetector overrides language detection.
func WithDetector(d Detector) Option {
	return func(e *Extractor) {
		if d != nil {
			e.detect = d
		}
	}
}

// Extractor extracts page content using the profiles of a Catalog.
type Extractor struct {
	catalog *Catalog
	detect  Detector
}

// New builds an Extractor backed by catalog.
func New(catalog *Catalog, opts ...Option) *Extractor {
	if catalog == nil {
		catalog = NewCatalog()
	}
	e := &Extractor{catalog: catalog, detect: detectLanguage}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract parses body and splits its visible text into informative content
// and boilerplate. It returns crawler.ErrNonHTML for documents that carry no
// HTML markup and crawler.ErrUnsupportedLanguage when the detected language
// has no profile.
func (e *Extractor) Extract(body []byte, pageURL string) (Result, error) {
	if !hasHTMLMarkup(body) {
		return Result{}, crawler.ErrNonHTML
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	res := Result{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: MissingDescription,
	}
	if content, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok && content != "" {
		res.Description = strings.TrimSpace(content)
		res.HasDescription = res.Description != ""
	}

	var paragraphs []paragraph
	if len(doc.Nodes) > 0 {
		paragraphs = segment(doc.Nodes[0])
	}

	texts := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		texts = append(texts, p.text)
	}
	res.Language = e.detect(strings.Join(texts, "\n"))
	profile, ok := e.catalog.Lookup(res.Language)
	if !ok {
		return res, fmt.Errorf("%s (%q): %w", pageURL, res.Language, crawler.ErrUnsupportedLanguage)
	}

	classify(paragraphs, profile)
	var good, bad []string
	for _, p := range paragraphs {
		if p.class == classGood {
			good = append(good, p.text)
		} else {
			bad = append(bad, p.text)
		}
	}
	res.Body = strings.Join(good, "\n")
	res.Boilerplate = strings.Join(bad, "\n")
	return res, nil
}

func detectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	return info.Lang.Iso6391()
}

// hasHTMLMarkup reports whether the first element of body is an HTML element.
// The html, head and body tags are optional, so an HTML5 page may open with
// any of its content elements. Feeds and other XML vocabularies open with
// elements HTML does not know.
func hasHTMLMarkup(body []byte) bool {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) != 0 {
				return true
			}
			// Custom elements always contain a hyphen.
			return bytes.IndexByte(name, '-') > 0
		}
	}
}
