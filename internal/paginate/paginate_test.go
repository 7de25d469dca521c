package paginate

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pagegrab/pagegrab/internal/extract"
	"github.com/pagegrab/pagegrab/internal/fetch"
	"github.com/pagegrab/pagegrab/internal/logger"
	"github.com/pagegrab/pagegrab/internal/session"
	"github.com/pagegrab/pagegrab/internal/sink"
)

// fakePage scripts one page outcome: an error, or a record count.
type fakePage struct {
	err     error
	records int
	pager   string // optional pager markup included in the HTML
}

// fakeFetcher replays scripted pages in call order.
type fakeFetcher struct {
	pages []fakePage
	calls int
}

func (f *fakeFetcher) Do(ctx context.Context, url string) (fetch.Content, error) {
	i := f.calls
	f.calls++
	if i >= len(f.pages) {
		return fetch.Content{}, fetch.Fatal("script exhausted", nil)
	}
	p := f.pages[i]
	if p.err != nil {
		return fetch.Content{}, p.err
	}
	return fetch.Content{URL: url, HTML: fmt.Sprintf("%s#%d", p.pager, i), StatusCode: 200}, nil
}

// fakeExtractor produces the scripted record count for the page index
// embedded in the fake HTML. Records are named pN-rM so ordering is
// observable in the sink.
type fakeExtractor struct {
	pages []fakePage
}

func (e *fakeExtractor) Extract(html string) ([]extract.Record, error) {
	idx := strings.LastIndex(html, "#")
	i, err := strconv.Atoi(html[idx+1:])
	if err != nil {
		return nil, err
	}
	var records []extract.Record
	for r := 0; r < e.pages[i].records; r++ {
		records = append(records, extract.Record{
			Name:         fmt.Sprintf("p%d-r%d", i+1, r+1),
			Price:        "£1.00",
			Availability: "In stock",
		})
	}
	return records, nil
}

func run(t *testing.T, cfg Config, pages []fakePage) (Reason, *sink.Sink, *fakeFetcher) {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://example.test"
	}
	f := &fakeFetcher{pages: pages}
	out := sink.New(sink.FormatJSON)
	c := New(cfg, f, &fakeExtractor{pages: pages}, out, nil)
	c.SetSleep(func(ctx context.Context, d time.Duration) error { return nil })
	return c.Run(context.Background()), out, f
}

func names(out *sink.Sink) []string {
	var ns []string
	for _, r := range out.Records() {
		ns = append(ns, r.Name)
	}
	return ns
}

func TestController_Run_PageLimit(t *testing.T) {
	pages := []fakePage{{records: 2}, {records: 2}, {records: 2}, {records: 2}}

	reason, out, f := run(t, Config{MaxPages: 3, FailureThreshold: 3}, pages)
	if reason != ReachedPageLimit {
		t.Fatalf("reason = %q, want %q", reason, ReachedPageLimit)
	}
	if f.calls != 3 {
		t.Errorf("expected exactly 3 page fetches, got %d", f.calls)
	}

	want := []string{"p1-r1", "p1-r2", "p2-r1", "p2-r2", "p3-r1", "p3-r2"}
	got := names(out)
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %q, want %q (page-then-document order)", i, got[i], want[i])
		}
	}
}

func TestController_Run_NoMoreContent(t *testing.T) {
	// Pages 1-3 return 2 records each, page 4 is empty: the run halts
	// normally with exactly 6 records.
	pages := []fakePage{{records: 2}, {records: 2}, {records: 2}, {records: 0}}

	reason, out, _ := run(t, Config{MaxPages: 10, FailureThreshold: 3}, pages)
	if reason != NoMoreContent {
		t.Fatalf("reason = %q, want %q", reason, NoMoreContent)
	}
	if out.Len() != 6 {
		t.Errorf("expected 6 records, got %d", out.Len())
	}
}

func TestController_Run_ConsecutiveFailuresHalt(t *testing.T) {
	pages := []fakePage{
		{records: 2},
		{err: fetch.Retryable("exhausted", nil)},
		{err: fetch.Retryable("exhausted", nil)},
		{err: fetch.Retryable("exhausted", nil)},
		{records: 2}, // never reached
	}

	reason, out, f := run(t, Config{MaxPages: 10, FailureThreshold: 3}, pages)
	if reason != TooManyConsecutiveFailures {
		t.Fatalf("reason = %q, want %q", reason, TooManyConsecutiveFailures)
	}
	if f.calls != 4 {
		t.Errorf("expected halt after the third consecutive failure, got %d fetches", f.calls)
	}

	// Records from the successful page survive, failed pages add none.
	want := []string{"p1-r1", "p1-r2"}
	got := names(out)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("accumulated records = %v, want %v", got, want)
	}
}

func TestController_Run_SuccessResetsFailureCounter(t *testing.T) {
	// Two failures, a success, then two more failures: the counter
	// reset means the threshold of 3 is never crossed.
	pages := []fakePage{
		{err: fetch.Retryable("exhausted", nil)},
		{err: fetch.Retryable("exhausted", nil)},
		{records: 1},
		{err: fetch.Retryable("exhausted", nil)},
		{err: fetch.Retryable("exhausted", nil)},
	}

	reason, out, f := run(t, Config{MaxPages: 5, FailureThreshold: 3}, pages)
	if reason != ReachedPageLimit {
		t.Fatalf("reason = %q, want %q (counter must reset on success)", reason, ReachedPageLimit)
	}
	if f.calls != 5 {
		t.Errorf("expected all 5 pages attempted, got %d", f.calls)
	}
	if out.Len() != 1 {
		t.Errorf("expected 1 record, got %d", out.Len())
	}
}

func TestController_Run_FatalPageSkipped(t *testing.T) {
	pages := []fakePage{
		{records: 1},
		{err: fetch.Fatal("not found", nil)},
		{records: 1},
	}

	reason, out, _ := run(t, Config{MaxPages: 3, FailureThreshold: 3}, pages)
	if reason != ReachedPageLimit {
		t.Fatalf("reason = %q, want %q", reason, ReachedPageLimit)
	}
	want := []string{"p1-r1", "p3-r1"}
	got := names(out)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("records = %v, want %v", got, want)
	}
}

func TestController_Run_Cancelled(t *testing.T) {
	f := &fakeFetcher{pages: []fakePage{{records: 1}, {records: 1}}}
	out := sink.New(sink.FormatJSON)
	c := New(Config{BaseURL: "https://example.test", MaxPages: 10, FailureThreshold: 3},
		f, &fakeExtractor{pages: f.pages}, out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	c.SetSleep(func(ctx context.Context, d time.Duration) error {
		cancel() // interrupt during the inter-page pause
		return ctx.Err()
	})
	c.cfg.PageDelayMin = time.Millisecond
	c.cfg.PageDelayMax = time.Millisecond

	reason := c.Run(ctx)
	if reason != Cancelled {
		t.Fatalf("reason = %q, want %q", reason, Cancelled)
	}
	// Whatever was accumulated before the interrupt stays available.
	if out.Len() != 1 {
		t.Errorf("expected 1 record accumulated before cancellation, got %d", out.Len())
	}
}

func TestController_Run_DiscoveryFailureLimitsToOnePage(t *testing.T) {
	// When the discovery page itself fails, the pager was never read.
	// The run falls back to a one-page ceiling instead of looping
	// unbounded.
	pages := []fakePage{
		{err: fetch.Retryable("exhausted", nil)},
		{records: 2}, // must never be reached
	}

	reason, out, f := run(t, Config{MaxPages: 0, FailureThreshold: 3}, pages)
	if reason != ReachedPageLimit {
		t.Fatalf("reason = %q, want %q", reason, ReachedPageLimit)
	}
	if f.calls != 1 {
		t.Errorf("expected only the failed discovery page fetched, got %d", f.calls)
	}
	if out.Len() != 0 {
		t.Errorf("expected no records, got %d", out.Len())
	}
}

func TestController_Run_LogsOmitCredentials(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.Init(logger.Options{Output: buf})
	defer logger.Init(logger.Options{})

	base, err := session.AuthorityURL("https://example.test/catalogue",
		session.Credentials{Username: "alice", Password: "hunter2secret"})
	if err != nil {
		t.Fatalf("AuthorityURL() error = %v", err)
	}

	pages := []fakePage{{records: 1}, {records: 0}}
	reason, _, _ := run(t, Config{BaseURL: base, MaxPages: 5, FailureThreshold: 3}, pages)
	if reason != NoMoreContent {
		t.Fatalf("reason = %q, want %q", reason, NoMoreContent)
	}

	if strings.Contains(buf.String(), "hunter2secret") {
		t.Errorf("password leaked into log output: %q", buf.String())
	}
	if strings.Contains(buf.String(), "alice:") {
		t.Errorf("userinfo leaked into log output: %q", buf.String())
	}
}

func TestController_Run_DiscoversPageLimit(t *testing.T) {
	pager := `<ul class="pager"><li class="current">Page 1 of 2</li></ul>`
	pages := []fakePage{
		{records: 2, pager: pager},
		{records: 2},
		{records: 2}, // beyond the discovered limit
	}

	reason, out, f := run(t, Config{MaxPages: 0, FailureThreshold: 3}, pages)
	if reason != ReachedPageLimit {
		t.Fatalf("reason = %q, want %q", reason, ReachedPageLimit)
	}
	if f.calls != 2 {
		t.Errorf("discovered limit of 2 pages, but %d pages fetched", f.calls)
	}
	if out.Len() != 4 {
		t.Errorf("expected 4 records, got %d", out.Len())
	}
}

func TestController_PageURL(t *testing.T) {
	c := New(Config{BaseURL: "https://example.test/catalogue/", PagePattern: "page-%d.html"},
		nil, nil, nil, nil)

	got := c.PageURL(3)
	want := "https://example.test/catalogue/page-3.html"
	if got != want {
		t.Errorf("PageURL(3) = %q, want %q", got, want)
	}
}
