package dns

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/likexian/whois"
	"golang.org/x/net/proxy"
)

// WhoisResult 解析后的 WHOIS 结果
type WhoisResult struct {
	Raw    string
	Fields map[string]string
}

// Empty reports whether the lookup produced nothing usable.
func (r *WhoisResult) Empty() bool {
	return r == nil || (strings.TrimSpace(r.Raw) == "" && len(r.Fields) == 0)
}

// Whoiser 查询域名注册信息
type Whoiser interface {
	Lookup(ctx context.Context, domain string) (*WhoisResult, error)
}

// WhoisClient 基于 likexian/whois 的实现，带重试
type WhoisClient struct {
	client   *whois.Client
	attempts uint
	delay    time.Duration
}

// NewWhoisClient 创建 WHOIS 客户端
func NewWhoisClient(dialer proxy.Dialer, timeout time.Duration, attempts uint) *WhoisClient {
	c := whois.NewClient().SetTimeout(timeout)
	if dialer != nil {
		c.SetDialer(dialer)
	}
	if attempts == 0 {
		attempts = 3
	}
	return &WhoisClient{client: c, attempts: attempts, delay: time.Second}
}

// Lookup queries WHOIS for domain, retrying transport failures.
func (w *WhoisClient) Lookup(ctx context.Context, domain string) (*WhoisResult, error) {
	var raw string
	err := retry.Do(
		func() error {
			var err error
			raw, err = w.client.Whois(domain)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(w.attempts),
		retry.Delay(w.delay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return &WhoisResult{Raw: raw, Fields: parseWhoisFields(raw)}, nil
}

// parseWhoisFields collects "Key: Value" lines, first occurrence wins.
func parseWhoisFields(raw string) map[string]string {
	fields := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ">>>") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		if _, seen := fields[k]; !seen {
			fields[k] = v
		}
	}
	return fields
}

// registered reports whether a WHOIS reply describes a registered domain.
func registered(res *WhoisResult, keywords []string) bool {
	if res.Empty() {
		return false
	}
	text := strings.ToLower(res.Raw)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}
