// Package netx builds the outbound dialers and HTTP clients shared by the
// fetcher, the DoH client and the WHOIS client.
package netx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// Dialer 返回出站拨号器：配置了 socks5 代理时经代理拨号，否则直连
func Dialer(proxyURL string) (proxy.Dialer, error) {
	if proxyURL == "" {
		return proxy.Direct, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("解析代理地址失败: %w", err)
	}
	d, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("创建 SOCKS5 拨号器失败: %w", err)
	}
	return d, nil
}

// NewHTTPClient 创建带超时的 HTTP 客户端
func NewHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	d, err := Dialer(proxyURL)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 8
	if proxyURL != "" {
		// 代理模式下不再读取环境变量中的 HTTP 代理
		transport.Proxy = nil
		transport.DialContext = dialContext(d)
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

func dialContext(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}
}
