// Package retry wraps a single page fetch with bounded attempts and
// randomized backoff, rotating identity on every attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/pagegrab/pagegrab/internal/fetch"
	"github.com/pagegrab/pagegrab/internal/identity"
	"github.com/pagegrab/pagegrab/internal/logger"
	"github.com/pagegrab/pagegrab/internal/session"
)

// ErrAttemptsExhausted marks a page whose retry budget ran out. The
// page is skipped and counts toward the consecutive-failure threshold.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Config bounds a controller.
type Config struct {
	// MaxAttempts is the hard cap of fetch attempts per page,
	// regardless of failure kind mix.
	MaxAttempts int

	// MinDelay and MaxDelay bound the uniformly random wait between
	// attempts. The randomness is deliberate: fixed backoff produces a
	// detectable periodic request pattern.
	MinDelay time.Duration
	MaxDelay time.Duration

	// Timeout applies per attempt.
	Timeout time.Duration

	// WaitSelector is passed through to browser transports.
	WaitSelector string
}

// Controller retries one page fetch. Each attempt presents a fresh
// identity so a failed attempt's proxy and user agent are not reused on
// the retry of the same page.
type Controller struct {
	cfg      Config
	fetcher  fetch.Fetcher
	pool     *identity.Pool
	sessions session.Manager
	sess     *session.Session

	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a retry controller. rng may be nil to use the shared
// source; the sleep function is injectable for tests.
func New(cfg Config, f fetch.Fetcher, pool *identity.Pool, mgr session.Manager, sess *session.Session, rng *rand.Rand) *Controller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Controller{
		cfg:      cfg,
		fetcher:  f,
		pool:     pool,
		sessions: mgr,
		sess:     sess,
		rng:      rng,
		sleep:    sleepCtx,
	}
}

// SetSleep overrides the inter-attempt wait, for tests.
func (c *Controller) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	c.sleep = fn
}

// Do fetches url with at most MaxAttempts attempts. Success and fatal
// failures short-circuit; only retryable failures consume the budget.
// An authentication-expiry signal triggers one session refresh for this
// page before the next attempt.
func (c *Controller) Do(ctx context.Context, url string) (fetch.Content, error) {
	var lastErr error
	refreshed := false
	logURL := session.RedactURL(url)

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		id := c.pool.Select()
		opts := fetch.Options{
			Identity:     id,
			Timeout:      c.cfg.Timeout,
			Headers:      c.sess.Headers(),
			Cookies:      c.sess.Cookies(),
			WaitSelector: c.cfg.WaitSelector,
		}

		content, err := c.fetcher.Fetch(ctx, url, opts)
		if err == nil {
			logger.Debug("page fetch succeeded",
				"url", logURL,
				"attempt", attempt,
				"status", content.StatusCode)
			return content, nil
		}

		if fetch.IsFatal(err) {
			logger.Warn("page fetch failed fatally",
				"url", logURL,
				"attempt", attempt,
				"error", err)
			return content, err
		}

		lastErr = err
		logger.Warn("page fetch attempt failed",
			"url", logURL,
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
			"proxy", id.Proxy,
			"error", err)

		if errors.Is(err, fetch.ErrAuthExpired) && !refreshed {
			refreshed = true
			if rerr := c.sessions.Refresh(ctx, c.sess); rerr != nil {
				logger.Warn("session refresh failed", "error", rerr)
			}
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, c.backoff()); err != nil {
			return fetch.Content{}, fetch.Retryable("run cancelled during backoff", err)
		}
	}

	logger.Error("retry budget exhausted",
		"url", logURL,
		"attempts", c.cfg.MaxAttempts,
		"last_error", lastErr)
	return fetch.Content{}, fmt.Errorf("%w after %d attempts: %w",
		ErrAttemptsExhausted, c.cfg.MaxAttempts, lastErr)
}

// backoff draws a uniformly random delay in [MinDelay, MaxDelay].
func (c *Controller) backoff() time.Duration {
	span := c.cfg.MaxDelay - c.cfg.MinDelay
	if span <= 0 {
		return c.cfg.MinDelay
	}
	var jitter time.Duration
	if c.rng != nil {
		jitter = time.Duration(c.rng.Int63n(int64(span) + 1))
	} else {
		jitter = time.Duration(rand.Int63n(int64(span) + 1))
	}
	return c.cfg.MinDelay + jitter
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
