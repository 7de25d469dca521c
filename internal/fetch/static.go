package fetch

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/pagegrab/pagegrab/internal/logger"
)

// StaticConfig holds configuration for the static fetcher.
type StaticConfig struct {
	Timeout time.Duration
}

// StaticFetcher issues plain HTTP requests through Colly. Each fetch
// uses a fresh collector so per-attempt proxy and user-agent settings
// never bleed between attempts.
type StaticFetcher struct {
	config StaticConfig
}

// NewStatic creates a new static fetcher.
func NewStatic(cfg StaticConfig) *StaticFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &StaticFetcher{config: cfg}
}

// Fetch retrieves page content using Colly.
func (f *StaticFetcher) Fetch(ctx context.Context, targetURL string, opts Options) (Content, error) {
	result := Content{
		URL:       targetURL,
		FetchedAt: time.Now(),
	}

	if err := ctx.Err(); err != nil {
		return result, Retryable("fetch cancelled", err)
	}

	c := colly.NewCollector(
		colly.UserAgent(opts.Identity.UserAgent),
		colly.IgnoreRobotsTxt(),
	)

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = f.config.Timeout
	}
	c.SetRequestTimeout(timeout)

	if opts.Identity.Proxy != "" {
		if err := c.SetProxy(opts.Identity.Proxy); err != nil {
			return result, Retryable("invalid proxy for attempt", err)
		}
	}

	if len(opts.Cookies) > 0 {
		if err := c.SetCookies(targetURL, opts.Cookies); err != nil {
			return result, Retryable("failed to set session cookies", err)
		}
	}

	if len(opts.Headers) > 0 {
		c.OnRequest(func(r *colly.Request) {
			for k, v := range opts.Headers {
				r.Headers.Set(k, v)
			}
		})
	}

	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.HTML = string(r.Body)
		logger.Debug("static fetch response received",
			"url", targetURL,
			"status", r.StatusCode,
			"body_size", len(r.Body))
	})

	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		result.StatusCode = status
		fetchErr = classifyTransport(status, err)
	})

	if err := c.Visit(targetURL); err != nil && fetchErr == nil {
		fetchErr = classifyTransport(result.StatusCode, err)
	}

	if fetchErr != nil {
		return result, fetchErr
	}
	if err := StatusError(result.StatusCode); err != nil {
		return result, err
	}
	return result, nil
}

// Close releases resources. The static fetcher holds none.
func (f *StaticFetcher) Close() error {
	return nil
}

// Type returns the fetcher type.
func (f *StaticFetcher) Type() string {
	return "static"
}

// classifyTransport maps a failed request to the outcome taxonomy. When
// an HTTP status is available it decides; otherwise the error was at the
// connection layer and is worth retrying with a fresh identity.
func classifyTransport(status int, err error) error {
	if status > 0 {
		if serr := StatusError(status); serr != nil {
			return serr
		}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return Retryable("request timed out", err)
	}
	return Retryable("connection failed", err)
}
