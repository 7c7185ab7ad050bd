package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
)

// DefaultMaxRedirects bounds the redirect chain followed by Resolve.
const DefaultMaxRedirects = 10

var errRedirectLimit = errors.New("too many redirects")

// CanonicalizerConfig controls start-URL resolution.
type CanonicalizerConfig struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	Transport    http.RoundTripper
}

// Canonicalizer resolves a start URL by following its 301, 302 and 303
// redirects.
type Canonicalizer struct {
	client    *http.Client
	userAgent string
}

// NewCanonicalizer builds a Canonicalizer.
func NewCanonicalizer(cfg CanonicalizerConfig) *Canonicalizer {
	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.Response != nil && !followable(req.Response.StatusCode) {
				return http.ErrUseLastResponse
			}
			if len(via) > maxRedirects {
				return errRedirectLimit
			}
			return nil
		},
	}
	return &Canonicalizer{client: client, userAgent: cfg.UserAgent}
}

// Resolve returns the URL the redirect chain of rawURL ends at. Failures are
// reported as *crawler.CanonicalizationError.
func (c *Canonicalizer) Resolve(ctx context.Context, rawURL string) (string, error) {
	if _, err := crawler.NormalizeURL(rawURL); err != nil {
		return "", &crawler.CanonicalizationError{URL: rawURL, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &crawler.CanonicalizationError{URL: rawURL, Err: err}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", &crawler.CanonicalizationError{URL: rawURL, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()
	if resp.Request == nil || resp.Request.URL == nil {
		return "", &crawler.CanonicalizationError{URL: rawURL, Err: errors.New("no final request")}
	}
	return resp.Request.URL.String(), nil
}

func followable(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		return true
	default:
		return false
	}
}
