// Package fetch defines the page-retrieval capability and its failure
// taxonomy. Two transports implement it: a plain HTTP client and a
// headless-browser client. Callers stay transport-agnostic and decide
// retry behavior from the error classification alone.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pagegrab/pagegrab/internal/identity"
)

// Fetcher abstracts page fetching strategies.
type Fetcher interface {
	// Fetch retrieves page content from a URL using the given identity
	// and session material. Failures are classified: check the result
	// with IsRetryable, IsFatal and errors.Is(err, ErrAuthExpired).
	Fetch(ctx context.Context, url string, opts Options) (Content, error)

	// Close releases any resources (browser instances, etc.).
	Close() error

	// Type returns a string identifying the fetcher type
	// (e.g., "static", "dynamic").
	Type() string
}

// Options controls a single fetch attempt.
type Options struct {
	Identity identity.Identity
	Timeout  time.Duration

	// Session material supplied by the session manager.
	Headers map[string]string
	Cookies []*http.Cookie

	// WaitSelector is the content-readiness condition for browser
	// transports: a CSS selector that must be visible before the
	// rendered document is read. Bounded by Timeout.
	WaitSelector string
}

// Content represents a successfully fetched page.
type Content struct {
	URL        string
	HTML       string
	StatusCode int
	FetchedAt  time.Time
}

// Kind classifies a fetch failure.
type Kind int

const (
	// KindRetryable covers transient conditions: timeouts, connection
	// errors, rate limiting, server errors, expired sessions.
	KindRetryable Kind = iota

	// KindFatal covers unrecoverable per-page conditions such as
	// not-found or a crashed browser. The page is skipped; the run
	// continues.
	KindFatal
)

// ErrAuthExpired marks an authentication-class failure mid-run. It is
// retryable; the retry controller re-establishes the session once
// before the next attempt.
var ErrAuthExpired = errors.New("authentication expired")

// Error is a classified fetch failure.
type Error struct {
	Kind   Kind
	Status int // HTTP status when known, otherwise 0
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable wraps err as a transient fetch failure.
func Retryable(reason string, err error) error {
	return &Error{Kind: KindRetryable, Reason: reason, Err: err}
}

// Fatal wraps err as an unrecoverable per-page failure.
func Fatal(reason string, err error) error {
	return &Error{Kind: KindFatal, Reason: reason, Err: err}
}

// IsRetryable reports whether err is a transient fetch failure.
func IsRetryable(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindRetryable
}

// IsFatal reports whether err is an unrecoverable per-page failure.
func IsFatal(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindFatal
}

// StatusError classifies an HTTP status code into the failure taxonomy.
// It returns nil for 2xx.
func StatusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &Error{
			Kind:   KindRetryable,
			Status: code,
			Reason: fmt.Sprintf("authentication rejected with status %d", code),
			Err:    ErrAuthExpired,
		}
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return &Error{
			Kind:   KindRetryable,
			Status: code,
			Reason: fmt.Sprintf("server returned status %d", code),
		}
	default:
		// Remaining 4xx (not-found and friends) won't improve on retry.
		return &Error{
			Kind:   KindFatal,
			Status: code,
			Reason: fmt.Sprintf("unrecoverable status %d", code),
		}
	}
}
