package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestFetcher(t *testing.T, opts Options) *Fetcher {
	t.Helper()
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestFetchSendsUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "ruleguard-test" {
			t.Errorf("User-Agent=%q, want=ruleguard-test", got)
		}
		_, _ = w.Write([]byte("DOMAIN,a.com\n"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, Options{UserAgent: "ruleguard-test"})
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != "DOMAIN,a.com\n" {
		t.Fatalf("body=%q", body)
	}
}

func TestFetchHTTPStatusNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(t, Options{Attempts: 3})
	_, err := f.Fetch(context.Background(), srv.URL)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fe.Code != "HTTP_STATUS" || fe.Status != http.StatusNotFound {
		t.Fatalf("code=%q status=%d", fe.Code, fe.Status)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("hits=%d, want=1", n)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, Options{Attempts: 3})
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil || string(body) != "ok" {
		t.Fatalf("body=%q err=%v", body, err)
	}
}

func TestFetchTooLargeAndNotUTF8(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/big" {
			_, _ = w.Write([]byte(strings.Repeat("a", 64)))
			return
		}
		_, _ = w.Write([]byte{0xff, 0xfe, 0xfd})
	}))
	defer srv.Close()

	f := newTestFetcher(t, Options{MaxBytes: 16})
	var fe *FetchError
	if _, err := f.Fetch(context.Background(), srv.URL+"/big"); !errors.As(err, &fe) || fe.Code != "TOO_LARGE" {
		t.Fatalf("err=%v, want TOO_LARGE", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/bin"); !errors.As(err, &fe) || fe.Code != "NOT_UTF8" {
		t.Fatalf("err=%v, want NOT_UTF8", err)
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	f := newTestFetcher(t, Options{Timeout: 50 * time.Millisecond, Attempts: 1})
	_, err := f.Fetch(context.Background(), srv.URL)
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Code != "FETCH_TIMEOUT" {
		t.Fatalf("err=%v, want FETCH_TIMEOUT", err)
	}
}

func TestLoadLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.list")
	if err := os.WriteFile(path, []byte("DOMAIN,b.com\n"), 0644); err != nil {
		t.Fatal(err)
	}
	f := newTestFetcher(t, Options{})
	body, err := f.Load(context.Background(), path)
	if err != nil || string(body) != "DOMAIN,b.com\n" {
		t.Fatalf("body=%q err=%v", body, err)
	}
	if _, err := f.Load(context.Background(), path+".missing"); err == nil {
		t.Fatal("missing file loaded")
	}
}

func TestFetchRejectsScheme(t *testing.T) {
	f := newTestFetcher(t, Options{})
	_, err := f.Fetch(context.Background(), "ftp://example.com/x")
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Code != "INVALID_URL" {
		t.Fatalf("err=%v, want INVALID_URL", err)
	}
}
