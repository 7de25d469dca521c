package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pagegrab/pagegrab/internal/identity"
)

func TestStaticFetcher_Fetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := NewStatic(StaticConfig{Timeout: 5 * time.Second})
	content, err := f.Fetch(context.Background(), srv.URL, Options{
		Identity: identity.Identity{UserAgent: "test-agent"},
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if content.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", content.StatusCode)
	}
	if content.HTML != "<html><body>hello</body></html>" {
		t.Errorf("unexpected body: %q", content.HTML)
	}
}

func TestStaticFetcher_Fetch_SendsIdentityAndSession(t *testing.T) {
	var gotUA, gotAuth, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		if c, err := r.Cookie("sid"); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewStatic(StaticConfig{})
	_, err := f.Fetch(context.Background(), srv.URL, Options{
		Identity: identity.Identity{UserAgent: "rotated-agent"},
		Headers:  map[string]string{"Authorization": "Basic abc123"},
		Cookies:  []*http.Cookie{{Name: "sid", Value: "s3cret"}},
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if gotUA != "rotated-agent" {
		t.Errorf("user agent = %q, want %q", gotUA, "rotated-agent")
	}
	if gotAuth != "Basic abc123" {
		t.Errorf("authorization = %q, want %q", gotAuth, "Basic abc123")
	}
	if gotCookie != "s3cret" {
		t.Errorf("cookie = %q, want %q", gotCookie, "s3cret")
	}
}

func TestStaticFetcher_Fetch_NotFoundIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewStatic(StaticConfig{})
	_, err := f.Fetch(context.Background(), srv.URL, Options{})
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !IsFatal(err) {
		t.Errorf("404 should be fatal for the page, got %v", err)
	}
}

func TestStaticFetcher_Fetch_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewStatic(StaticConfig{})
	_, err := f.Fetch(context.Background(), srv.URL, Options{})
	if err == nil {
		t.Fatal("expected error for 500")
	}
	if !IsRetryable(err) {
		t.Errorf("500 should be retryable, got %v", err)
	}
}

func TestStaticFetcher_Fetch_UnauthorizedSignalsExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := NewStatic(StaticConfig{})
	_, err := f.Fetch(context.Background(), srv.URL, Options{})
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if !IsRetryable(err) {
		t.Errorf("401 should be retryable, got %v", err)
	}
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("401 should signal session expiry, got %v", err)
	}
}

func TestStaticFetcher_Fetch_ConnectionErrorIsRetryable(t *testing.T) {
	// A server that is already closed refuses connections.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := NewStatic(StaticConfig{Timeout: 2 * time.Second})
	_, err := f.Fetch(context.Background(), url, Options{})
	if err == nil {
		t.Fatal("expected error for refused connection")
	}
	if !IsRetryable(err) {
		t.Errorf("connection error should be retryable, got %v", err)
	}
}

func TestStaticFetcher_Fetch_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewStatic(StaticConfig{})
	_, err := f.Fetch(ctx, srv.URL, Options{})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestStaticFetcher_Type(t *testing.T) {
	f := NewStatic(StaticConfig{})
	if f.Type() != "static" {
		t.Errorf("Type() = %q, want %q", f.Type(), "static")
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
