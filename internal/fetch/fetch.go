package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
	"unicode/utf8"

	"github.com/avast/retry-go/v4"

	"github.com/winspan/ruleguard/internal/netx"
	"github.com/winspan/ruleguard/pkg/utils"
)

// Options 下载参数
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBytes     int64
	MaxRedirects int
	Proxy        string
	Attempts     uint
}

// FetchError 下载失败，Code 用于报告分组
type FetchError struct {
	URL    string
	Code   string
	Status int
	Cause  error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Code, e.URL)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Cause }

// temporary reports whether a retry may succeed.
func (e *FetchError) temporary() bool {
	return e.Code == "FETCH_TIMEOUT" || e.Code == "FETCH_FAILED" || e.Status >= 500
}

var (
	errTooManyRedirects  = errors.New("too many redirects")
	errRedirectBadScheme = errors.New("redirect target scheme is not http/https")
)

// Fetcher 读取本地或远程规则源
type Fetcher struct {
	client *http.Client
	opts   Options
}

// New 创建 Fetcher
func New(opts Options) (*Fetcher, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = 5
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = 32 << 20
	}
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}

	client, err := netx.NewHTTPClient(opts.Proxy, opts.Timeout)
	if err != nil {
		return nil, err
	}
	maxRedirects := opts.MaxRedirects
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return errTooManyRedirects
		}
		if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
			return errRedirectBadScheme
		}
		return nil
	}
	return &Fetcher{client: client, opts: opts}, nil
}

// Load returns the raw bytes of a local path or a remote URL.
func (f *Fetcher) Load(ctx context.Context, location string) ([]byte, error) {
	if !utils.IsRemote(location) {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("读取规则源失败: %w", err)
		}
		return data, nil
	}
	return f.Fetch(ctx, location)
}

// Fetch downloads a remote rule source, retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			b, err := f.fetchOnce(ctx, rawURL)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(f.opts.Attempts),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var fe *FetchError
			return errors.As(err, &fe) && fe.temporary()
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &FetchError{URL: rawURL, Code: "INVALID_URL", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Code: "INVALID_URL", Cause: err}
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, errTooManyRedirects) || errors.Is(err, errRedirectBadScheme) {
			return nil, &FetchError{URL: rawURL, Code: "BAD_REDIRECT", Cause: err}
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, &FetchError{URL: rawURL, Code: "FETCH_TIMEOUT", Cause: err}
		}
		return nil, &FetchError{URL: rawURL, Code: "FETCH_FAILED", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: rawURL, Code: "HTTP_STATUS", Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Code: "FETCH_FAILED", Cause: err}
	}
	if int64(len(body)) > f.opts.MaxBytes {
		return nil, &FetchError{URL: rawURL, Code: "TOO_LARGE", Cause: fmt.Errorf("body exceeds %d bytes", f.opts.MaxBytes)}
	}
	if !utf8.Valid(body) {
		return nil, &FetchError{URL: rawURL, Code: "NOT_UTF8"}
	}
	return body, nil
}
