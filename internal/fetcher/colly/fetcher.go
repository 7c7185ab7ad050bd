// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
)

// DefaultTimeout matches the download timeout of the indexer.
const DefaultTimeout = 100 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Transport     http.RoundTripper
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	robots        *robotsGate
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Transport and timeout live on the shared HTTP
// backend, so they are configured once here rather than per request.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))

	base := cfg.Transport
	if base == nil {
		base = newHTTPTransport()
	}
	robots := newRobotsGate(base)
	c.WithTransport(robots)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.SetRequestTimeout(timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		robots:        robots,
	}
}

// Fetch executes a single HTTP GET using Colly and returns the final
// response along with the links found on the page. When the request honours
// robots.txt but the host's file could not be fetched, the response is
// flagged with RobotsFallback.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		links    []crawler.Link
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request)
	f.configureCollectorHooks(collector, request, start, &result, &links, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	result.Links = links
	if f.respectsRobots(request) {
		if u, err := url.Parse(request.URL); err == nil && f.robots.assumedAllowed(u.Host) {
			result.RobotsFallback = true
		}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(request crawler.FetchRequest) *colly.Collector {
	collector := f.baseCollector.Clone()
	// Each job's frontier deduplicates; the clone shares the visited store.
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.respectsRobots(request)
	if request.AllowedHost != "" {
		collector.AllowedDomains = []string{strings.ToLower(request.AllowedHost)}
	}
	return collector
}

// respectsRobots applies the job's robots decision over the fetcher default.
func (f *Fetcher) respectsRobots(request crawler.FetchRequest) bool {
	if request.RespectRobotsProvided {
		return request.RespectRobots
	}
	return f.cfg.RespectRobots
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	links *[]crawler.Link,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if link, ok := toLink(e.Request.AbsoluteURL(e.Attr("href")), e.Attr("rel")); ok {
			*links = append(*links, link)
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// toLink keeps absolute http(s) links and flags rel="nofollow".
func toLink(abs, rel string) (crawler.Link, bool) {
	if abs == "" {
		return crawler.Link{}, false
	}
	u, err := url.Parse(abs)
	if err != nil || u.Host == "" {
		return crawler.Link{}, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return crawler.Link{}, false
	}
	nofollow := false
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		if token == "nofollow" {
			nofollow = true
			break
		}
	}
	return crawler.Link{URL: abs, NoFollow: nofollow}, true
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
