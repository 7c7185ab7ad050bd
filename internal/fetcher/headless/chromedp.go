// Package headless renders JavaScript-heavy pages in headless Chrome and
// decides which pages need it.
package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// DefaultNavigationTimeout bounds one page render.
const DefaultNavigationTimeout = 45 * time.Second

// settleDelay lets late scripts finish mutating the DOM before it is read.
const settleDelay = 500 * time.Millisecond

// Config controls the browser.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// ExecPath overrides the Chrome binary; empty uses the chromedp lookup.
	ExecPath string
}

// Page is the DOM of a page after its scripts ran.
type Page struct {
	URL      string
	HTML     string
	Duration time.Duration
}

// Browser renders pages in tabs of one shared headless Chrome process.
type Browser struct {
	cfg       Config
	slots     chan struct{}
	allocator context.Context
	shutdown  context.CancelFunc
}

// NewBrowser prepares a chromedp allocator. Chrome itself starts with the
// first render. MaxParallel of zero leaves tabs unbounded.
func NewBrowser(cfg Config) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	b := &Browser{cfg: cfg}
	if cfg.MaxParallel > 0 {
		b.slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	b.allocator, b.shutdown = chromedp.NewExecAllocator(context.Background(), opts...)
	return b, nil
}

// Close stops Chrome.
func (b *Browser) Close() {
	b.shutdown()
}

// Render loads pageURL in a fresh tab and returns the document once the body
// is ready and scripts had time to settle. Robots rules are not consulted;
// only pages the HTTP fetcher already retrieved are rendered.
func (b *Browser) Render(ctx context.Context, pageURL string) (Page, error) {
	if err := b.acquire(ctx); err != nil {
		return Page{}, err
	}
	defer b.release()

	tab, closeTab := chromedp.NewContext(b.allocator)
	defer closeTab()
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()
	tab, cancel := context.WithTimeout(tab, b.cfg.NavigationTimeout)
	defer cancel()

	var page Page
	start := time.Now()
	err := chromedp.Run(tab,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if b.cfg.UserAgent == "" {
				return nil
			}
			return emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx)
		}),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.Location(&page.URL),
		chromedp.OuterHTML("html", &page.HTML, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, fmt.Errorf("render %s: %w", pageURL, ctx.Err())
		}
		return Page{}, fmt.Errorf("render %s: %w", pageURL, err)
	}
	if page.URL == "" {
		page.URL = pageURL
	}
	page.Duration = time.Since(start)
	return page, nil
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.slots == nil {
		return nil
	}
	select {
	case b.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for browser tab: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.slots != nil {
		<-b.slots
	}
}
