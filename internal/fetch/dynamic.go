package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/pagegrab/pagegrab/internal/logger"
)

// DynamicConfig holds configuration for the browser-driven fetcher.
type DynamicConfig struct {
	Timeout time.Duration

	// WaitSelector is the default content-readiness selector when a
	// fetch doesn't supply one.
	WaitSelector string
}

// DynamicFetcher renders pages in headless Chrome via chromedp. A fresh
// browser is launched per fetch so each attempt carries its own proxy
// and user-agent flags; everything is released when the attempt ends,
// whatever its outcome.
type DynamicFetcher struct {
	config DynamicConfig
}

// NewDynamic creates a new browser-driven fetcher.
func NewDynamic(cfg DynamicConfig) *DynamicFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	return &DynamicFetcher{config: cfg}
}

// Fetch navigates a headless browser to the URL and reads the rendered
// document once the readiness selector is visible. The wait is bounded
// by the per-attempt timeout: a wait timeout is retryable, a navigation
// or driver failure is fatal for the page.
func (f *DynamicFetcher) Fetch(ctx context.Context, targetURL string, opts Options) (Content, error) {
	result := Content{
		URL:       targetURL,
		FetchedAt: time.Now(),
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("incognito", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)
	if opts.Identity.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.Identity.UserAgent))
	}
	if opts.Identity.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Identity.Proxy))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = f.config.Timeout
	}
	timeoutCtx, cancelTimeout := context.WithTimeout(browserCtx, timeout)
	defer cancelTimeout()

	waitSelector := opts.WaitSelector
	if waitSelector == "" {
		waitSelector = f.config.WaitSelector
	}

	var html string
	actions := []chromedp.Action{
		chromedp.Navigate(targetURL),
		chromedp.WaitVisible(waitSelector),
		chromedp.OuterHTML("html", &html),
	}

	logger.Debug("dynamic fetch starting",
		"url", targetURL,
		"wait_selector", waitSelector,
		"timeout", timeout)

	if err := chromedp.Run(timeoutCtx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return result, Retryable("timed out waiting for page content", err)
		}
		if errors.Is(err, context.Canceled) {
			return result, Retryable("fetch cancelled", err)
		}
		return result, Fatal("browser navigation failed", err)
	}

	result.HTML = html
	result.StatusCode = 200 // rendered document implies a served page
	return result, nil
}

// Close releases browser resources. Browsers are scoped per fetch, so
// there is nothing held between attempts.
func (f *DynamicFetcher) Close() error {
	return nil
}

// Type returns the fetcher type.
func (f *DynamicFetcher) Type() string {
	return "dynamic"
}
