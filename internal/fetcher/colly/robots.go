package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/sitesearch-indexer/internal/metrics"
)

const allowAllRobots = "User-agent: *\nAllow: /"

var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsGate sits under the collector. Page requests pass straight through.
// robots.txt requests that time out are retried, and a host whose requests all
// time out is served an allow-all file and remembered, so pages fetched from
// it under a robots-respecting job can be flagged.
type robotsGate struct {
	base    http.RoundTripper
	backoff []time.Duration

	mu          sync.RWMutex
	unreachable map[string]struct{}
}

func newRobotsGate(base http.RoundTripper) *robotsGate {
	return &robotsGate{
		base:        base,
		backoff:     defaultRobotsBackoff,
		unreachable: make(map[string]struct{}),
	}
}

func (g *robotsGate) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots gate: request without url")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := g.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", req.URL.Redacted(), err)
		}
		return resp, nil
	}
	return g.fetchRobots(req)
}

func (g *robotsGate) fetchRobots(req *http.Request) (*http.Response, error) {
	host := strings.ToLower(req.URL.Host)
	for attempt := 0; ; attempt++ {
		resp, err := g.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !timedOut(err) {
			return nil, fmt.Errorf("fetch robots.txt for %s: %w", host, err)
		}
		if attempt >= len(g.backoff) {
			break
		}
		if err := pause(req.Context(), g.backoff[attempt]); err != nil {
			return nil, err
		}
	}

	g.mu.Lock()
	g.unreachable[host] = struct{}{}
	g.mu.Unlock()
	metrics.ObserveRobotsFallback(req.URL.Hostname())
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        make(http.Header),
		Request:       req,
	}, nil
}

// assumedAllowed reports whether robots.txt for host never answered and the
// allow-all file stands in for it.
func (g *robotsGate) assumedAllowed(host string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.unreachable[strings.ToLower(host)]
	return ok
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots.txt retry: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
