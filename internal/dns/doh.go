// Package dns decides whether the domains referenced by rule files still
// exist, by querying DNS-over-HTTPS resolvers and falling back to WHOIS.
package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	mdns "github.com/miekg/dns"
	"github.com/tidwall/gjson"

	"github.com/winspan/ruleguard/internal/storage"
	"github.com/winspan/ruleguard/pkg/logger"
)

const maxDoHResponse = 64 << 10

var (
	// ErrCircuitOpen 上游处于熔断期
	ErrCircuitOpen = errors.New("resolver circuit open")
	errServFail    = errors.New("resolver returned SERVFAIL")
)

// ResolverError 上游查询失败，携带上游名称
type ResolverError struct {
	Resolver string
	Domain   string
	QType    string
	Cause    error
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("resolver %s: %s %s: %v", e.Resolver, e.Domain, e.QType, e.Cause)
}

func (e *ResolverError) Unwrap() error { return e.Cause }

// ClientOptions DoH 客户端参数
type ClientOptions struct {
	HTTPClient  *http.Client
	Cache       *storage.Cache
	Attempts    uint
	RetryDelay  time.Duration
	PositiveTTL time.Duration
	NegativeTTL time.Duration
	Logger      *logger.Logger
	Now         func() time.Time
}

// Client 通过 DoH 上游查询记录，应答（包括空应答）写入缓存
type Client struct {
	http        *http.Client
	cache       *storage.Cache
	attempts    uint
	retryDelay  time.Duration
	positiveTTL time.Duration
	negativeTTL time.Duration
	breaker     *breaker
	log         *logger.Logger
}

// NewClient 创建 DoH 客户端
func NewClient(opts ClientOptions) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Attempts == 0 {
		opts.Attempts = 5
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if opts.PositiveTTL == 0 {
		opts.PositiveTTL = 24 * time.Hour
	}
	if opts.NegativeTTL == 0 {
		opts.NegativeTTL = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		http:        opts.HTTPClient,
		cache:       opts.Cache,
		attempts:    opts.Attempts,
		retryDelay:  opts.RetryDelay,
		positiveTTL: opts.PositiveTTL,
		negativeTTL: opts.NegativeTTL,
		breaker:     newBreaker(opts.Now),
		log:         opts.Logger,
	}
}

// Health 返回各上游熔断状态
func (c *Client) Health() []UpstreamHealth { return c.breaker.snapshot() }

func cacheKey(up *Upstream, domain string, qtype uint16) string {
	return "doh|" + up.Name + "|" + domain + "|" + mdns.TypeToString[qtype]
}

// Query returns the answer data of qtype records for domain. An NXDOMAIN
// or NODATA response is an empty slice with a nil error.
func (c *Client) Query(ctx context.Context, up *Upstream, domain string, qtype uint16) ([]string, error) {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	typ := mdns.TypeToString[qtype]
	key := cacheKey(up, domain, qtype)

	if c.cache != nil {
		if raw, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			var answers []string
			if json.Unmarshal(raw, &answers) == nil {
				resolverRequests.WithLabelValues(up.Name, typ, "cache").Inc()
				c.log.Debug("DoH 缓存命中 %s %s %s", up.Name, domain, typ)
				return answers, nil
			}
		}
	}

	if !c.breaker.available(up.Name) {
		resolverRequests.WithLabelValues(up.Name, typ, "skipped").Inc()
		return nil, &ResolverError{Resolver: up.Name, Domain: domain, QType: typ, Cause: ErrCircuitOpen}
	}

	var answers []string
	err := retry.Do(
		func() error {
			if up.limiter != nil {
				if err := up.limiter.Wait(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
			}
			start := time.Now()
			var err error
			if up.Format == "json" {
				answers, err = c.exchangeJSON(ctx, up, domain, qtype)
			} else {
				answers, err = c.exchangeWire(ctx, up, domain, qtype)
			}
			resolverLatency.WithLabelValues(up.Name).Observe(time.Since(start).Seconds())
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("重试 %s %s %s (%d): %v", up.Name, domain, typ, n+1, err)
		}),
	)
	if err != nil {
		c.breaker.failure(up.Name)
		resolverRequests.WithLabelValues(up.Name, typ, "error").Inc()
		return nil, &ResolverError{Resolver: up.Name, Domain: domain, QType: typ, Cause: err}
	}
	c.breaker.success(up.Name)

	result := "empty"
	ttl := c.negativeTTL
	if len(answers) > 0 {
		result = "answer"
		ttl = c.positiveTTL
	}
	resolverRequests.WithLabelValues(up.Name, typ, result).Inc()

	if c.cache != nil {
		if answers == nil {
			answers = []string{}
		}
		raw, _ := json.Marshal(answers)
		if err := c.cache.Set(ctx, key, raw, ttl); err != nil {
			c.log.Warn("写入 DoH 缓存失败: %v", err)
		}
	}
	return answers, nil
}

func (c *Client) exchangeWire(ctx context.Context, up *Upstream, domain string, qtype uint16) ([]string, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(domain), qtype)
	msg.RecursionDesired = true
	msg.Id = 0
	packed, err := msg.Pack()
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("pack query: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, up.URL, bytes.NewReader(packed))
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	resp := new(mdns.Msg)
	if err := resp.Unpack(body); err != nil {
		return nil, fmt.Errorf("unpack response: %w", err)
	}

	switch resp.Rcode {
	case mdns.RcodeSuccess, mdns.RcodeNameError:
	case mdns.RcodeServerFailure:
		return nil, errServFail
	default:
		return nil, fmt.Errorf("rcode %s", mdns.RcodeToString[resp.Rcode])
	}

	var out []string
	for _, rr := range resp.Answer {
		if rr.Header().Rrtype != qtype {
			continue
		}
		switch v := rr.(type) {
		case *mdns.A:
			out = append(out, v.A.String())
		case *mdns.AAAA:
			out = append(out, v.AAAA.String())
		case *mdns.NS:
			out = append(out, strings.TrimSuffix(v.Ns, "."))
		default:
			out = append(out, strings.TrimPrefix(rr.String(), rr.Header().String()))
		}
	}
	return out, nil
}

func (c *Client) exchangeJSON(ctx context.Context, up *Upstream, domain string, qtype uint16) ([]string, error) {
	u, err := url.Parse(up.URL)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	q := u.Query()
	q.Set("name", domain)
	q.Set("type", mdns.TypeToString[qtype])
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("Accept", "application/dns-json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid json response")
	}

	switch status := gjson.GetBytes(body, "Status").Int(); status {
	case int64(mdns.RcodeSuccess), int64(mdns.RcodeNameError):
	case int64(mdns.RcodeServerFailure):
		return nil, errServFail
	default:
		return nil, fmt.Errorf("rcode %d", status)
	}

	var out []string
	gjson.GetBytes(body, "Answer").ForEach(func(_, rr gjson.Result) bool {
		if uint16(rr.Get("type").Int()) == qtype {
			out = append(out, strings.TrimSuffix(rr.Get("data").String(), "."))
		}
		return true
	})
	return out, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("http status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Unrecoverable(err)
		}
		return nil, err
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDoHResponse))
}
