// Package paginate drives the page-by-page scrape loop: one page at a
// time, tracking consecutive whole-page failures and deciding when the
// run stops.
package paginate

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/pagegrab/pagegrab/internal/extract"
	"github.com/pagegrab/pagegrab/internal/fetch"
	"github.com/pagegrab/pagegrab/internal/logger"
	"github.com/pagegrab/pagegrab/internal/session"
	"github.com/pagegrab/pagegrab/internal/sink"
)

// Reason is the terminal state of a run. None of these are errors: the
// accumulated records are flushed whichever reason halted the loop.
type Reason string

const (
	// ReachedPageLimit means the configured page ceiling was hit.
	ReachedPageLimit Reason = "reached_page_limit"

	// NoMoreContent means a page fetched fine but contained zero
	// records, signalling the last real page has been passed.
	NoMoreContent Reason = "no_more_content"

	// TooManyConsecutiveFailures means sustained whole-page failures
	// crossed the threshold. Isolated failed pages are tolerated; a
	// sustained streak means the site is actively rejecting us and
	// hammering on would make it worse.
	TooManyConsecutiveFailures Reason = "too_many_consecutive_failures"

	// Cancelled means the run context was cancelled mid-loop.
	Cancelled Reason = "cancelled"
)

// PageRequest identifies one page of the catalogue.
type PageRequest struct {
	Page int
	URL  string
}

// PageFetcher is the retry-wrapped fetch capability the loop drives.
type PageFetcher interface {
	Do(ctx context.Context, url string) (fetch.Content, error)
}

// RecordExtractor turns raw markup into records.
type RecordExtractor interface {
	Extract(html string) ([]extract.Record, error)
}

// Config bounds a pagination run.
type Config struct {
	BaseURL string

	// PagePattern is the fmt pattern appended to BaseURL to derive a
	// page URL. %d receives the 1-based page number.
	PagePattern string

	// MaxPages is the page ceiling. Zero means discover the ceiling
	// from the first page's pager widget, defaulting to one page when
	// no pager is found.
	MaxPages int

	// FailureThreshold is the consecutive whole-page failure count
	// that halts the run.
	FailureThreshold int

	// PageDelayMin/Max bound the random politeness pause between
	// pages, mimicking human-paced browsing. Zero disables it.
	PageDelayMin time.Duration
	PageDelayMax time.Duration
}

// Controller runs the strictly sequential pagination loop. Page N+1 is
// never requested before page N's outcome is known, which is what keeps
// the consecutive-failure count meaningful.
type Controller struct {
	cfg       Config
	fetcher   PageFetcher
	extractor RecordExtractor
	out       *sink.Sink

	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a pagination controller.
func New(cfg Config, f PageFetcher, ex RecordExtractor, out *sink.Sink, rng *rand.Rand) *Controller {
	if cfg.PagePattern == "" {
		cfg.PagePattern = "page-%d.html"
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 3
	}
	if cfg.PageDelayMax < cfg.PageDelayMin {
		cfg.PageDelayMax = cfg.PageDelayMin
	}
	return &Controller{
		cfg:       cfg,
		fetcher:   f,
		extractor: ex,
		out:       out,
		rng:       rng,
		sleep:     sleepCtx,
	}
}

// SetSleep overrides the inter-page pause, for tests.
func (c *Controller) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	c.sleep = fn
}

// PageURL derives the URL for a page number.
func (c *Controller) PageURL(page int) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + fmt.Sprintf(c.cfg.PagePattern, page)
}

// Run executes the loop until a terminal state and returns the halt
// reason. Records land in the sink as pages succeed; the caller flushes
// the sink once after Run returns, whatever the reason.
func (c *Controller) Run(ctx context.Context) Reason {
	maxPages := c.cfg.MaxPages
	discover := maxPages == 0
	consecutiveFailures := 0

	for page := 1; ; page++ {
		if maxPages > 0 && page > maxPages {
			logger.Info("halting run", "reason", ReachedPageLimit, "pages", maxPages)
			return ReachedPageLimit
		}
		if err := ctx.Err(); err != nil {
			logger.Info("halting run", "reason", Cancelled, "page", page)
			return Cancelled
		}

		req := PageRequest{Page: page, URL: c.PageURL(page)}
		logger.Info("fetching page", "page", req.Page, "url", session.RedactURL(req.URL))

		content, err := c.fetcher.Do(ctx, req.URL)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("halting run", "reason", Cancelled, "page", page)
				return Cancelled
			}
			consecutiveFailures++
			logger.Warn("page failed",
				"page", req.Page,
				"consecutive_failures", consecutiveFailures,
				"threshold", c.cfg.FailureThreshold,
				"error", err)
			if consecutiveFailures >= c.cfg.FailureThreshold {
				logger.Info("halting run",
					"reason", TooManyConsecutiveFailures,
					"failures", consecutiveFailures)
				return TooManyConsecutiveFailures
			}
			if discover {
				// The pager never got read; without a ceiling the run
				// would be unbounded. One page is the floor.
				maxPages = 1
				discover = false
				logger.Warn("page limit discovery failed, limiting run to one page")
			}
			continue
		}

		records, err := c.extractor.Extract(content.HTML)
		if err != nil {
			consecutiveFailures++
			logger.Warn("page extraction failed",
				"page", req.Page,
				"consecutive_failures", consecutiveFailures,
				"error", err)
			if consecutiveFailures >= c.cfg.FailureThreshold {
				logger.Info("halting run",
					"reason", TooManyConsecutiveFailures,
					"failures", consecutiveFailures)
				return TooManyConsecutiveFailures
			}
			if discover {
				maxPages = 1
				discover = false
				logger.Warn("page limit discovery failed, limiting run to one page")
			}
			continue
		}

		if discover && page == 1 {
			if n := extract.MaxPage(content.HTML); n > 0 {
				maxPages = n
			} else {
				maxPages = 1
			}
			discover = false
			logger.Info("page limit discovered", "pages", maxPages)
		}

		if len(records) == 0 {
			logger.Info("halting run", "reason", NoMoreContent, "page", req.Page)
			return NoMoreContent
		}

		consecutiveFailures = 0
		c.out.Append(records...)
		logger.Info("page scraped",
			"page", req.Page,
			"records", len(records),
			"total", c.out.Len())

		if err := c.pause(ctx); err != nil {
			logger.Info("halting run", "reason", Cancelled, "page", page)
			return Cancelled
		}
	}
}

// pause waits the random inter-page delay.
func (c *Controller) pause(ctx context.Context) error {
	if c.cfg.PageDelayMax <= 0 {
		return ctx.Err()
	}
	span := c.cfg.PageDelayMax - c.cfg.PageDelayMin
	d := c.cfg.PageDelayMin
	if span > 0 {
		if c.rng != nil {
			d += time.Duration(c.rng.Int63n(int64(span) + 1))
		} else {
			d += time.Duration(rand.Int63n(int64(span) + 1))
		}
	}
	return c.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
