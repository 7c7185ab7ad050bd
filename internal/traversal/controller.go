package traversal

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
)

// Config controls the traversal of one job.
type Config struct {
	// MaxPages bounds the fetches issued per job (default 500).
	MaxPages int
	// Workers bounds concurrent visits; 1 gives a cooperative loop.
	Workers int
}

// Visit is what a visitor reports back for one fetched entry.
type Visit struct {
	State crawler.EntryState
	Links []crawler.Link
}

// Tracker records intermediate transitions (extracted, scored) of an entry.
type Tracker func(state crawler.EntryState)

// Visitor fetches and processes a single URL. It must return a terminal state;
// anything else is recorded as failed.
type Visitor func(ctx context.Context, url string, track Tracker) Visit

// Controller drives the frontier state machine for index jobs. Separate calls
// to Run share no mutable state.
type Controller struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Controller.
func New(cfg Config, logger *zap.Logger) *Controller {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = crawler.DefaultMaxPages
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, logger: logger}
}

// WithMaxPages returns a copy of the controller using a different page cap.
func (c *Controller) WithMaxPages(maxPages int) *Controller {
	if maxPages <= 0 || maxPages == c.cfg.MaxPages {
		return c
	}
	cfg := c.cfg
	cfg.MaxPages = maxPages
	return &Controller{cfg: cfg, logger: c.logger}
}

// Run visits start and, when scope is non-empty, every admitted link reachable
// from it. It blocks until in-flight visits drain.
func (c *Controller) Run(ctx context.Context, start, scope string, visit Visitor) (Summary, error) {
	frontier := NewFrontier(scope, c.cfg.MaxPages)
	seed, err := frontier.Seed(start)
	if err != nil {
		return Summary{}, fmt.Errorf("traversal: %w", err)
	}

	sem := semaphore.NewWeighted(int64(c.cfg.Workers))
	var wg sync.WaitGroup
	var schedule func(e *Entry)
	schedule = func(e *Entry) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				frontier.Transition(e, crawler.EntryDone)
				return
			}
			defer sem.Release(1)
			if ctx.Err() != nil {
				frontier.Transition(e, crawler.EntryDone)
				return
			}
			if !frontier.Reserve(e) {
				c.logger.Debug("page cap reached", zap.String("url", e.URL), zap.Int("max_pages", c.cfg.MaxPages))
				return
			}

			result := visit(ctx, e.URL, func(state crawler.EntryState) {
				frontier.Transition(e, state)
			})
			state := result.State
			if !state.Terminal() {
				state = crawler.EntryFailed
			}
			frontier.Transition(e, state)

			for _, link := range result.Links {
				if next, ok := frontier.Admit(link); ok {
					schedule(next)
				}
			}
		}()
	}

	schedule(seed)
	wg.Wait()

	summary := frontier.Summary()
	c.logger.Debug("traversal finished",
		zap.String("start", seed.URL),
		zap.String("scope", scope),
		zap.Int("fetched", summary.Fetched),
		zap.Bool("cap_reached", summary.CapReached),
	)
	return summary, nil
}
