package headless

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
)

// extractLinks returns the absolute http(s) anchors of a rendered page,
// resolved against pageURL, with rel="nofollow" flagged.
func extractLinks(pageURL, html string) ([]crawler.Link, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %q: %w", pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse rendered dom: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = ref
		}
	}

	var links []crawler.Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := base.Parse(strings.TrimSpace(href))
		if err != nil || ref.Host == "" {
			return
		}
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return
		}
		ref.Fragment = ""
		rel, _ := s.Attr("rel")
		links = append(links, crawler.Link{URL: ref.String(), NoFollow: hasToken(rel, "nofollow")})
	})
	return links, nil
}

func hasToken(list, token string) bool {
	for _, t := range strings.Fields(strings.ToLower(list)) {
		if t == token {
			return true
		}
	}
	return false
}
