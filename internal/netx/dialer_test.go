package netx

import (
	"net/http"
	"testing"
	"time"

	"golang.org/x/net/proxy"
)

func TestDialerDirect(t *testing.T) {
	d, err := Dialer("")
	if err != nil {
		t.Fatalf("Dialer: %v", err)
	}
	if d != proxy.Direct {
		t.Fatalf("dialer=%T, want proxy.Direct", d)
	}
}

func TestDialerSOCKS5(t *testing.T) {
	d, err := Dialer("socks5://127.0.0.1:1080")
	if err != nil {
		t.Fatalf("Dialer: %v", err)
	}
	if d == proxy.Direct {
		t.Fatal("socks5 url produced a direct dialer")
	}
	if _, err := Dialer("gopher://127.0.0.1:70"); err == nil {
		t.Fatal("unsupported scheme accepted")
	}
}

func TestNewHTTPClient(t *testing.T) {
	c, err := NewHTTPClient("socks5://127.0.0.1:1080", 3*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	tr := c.Transport.(*http.Transport)
	if tr.Proxy != nil || tr.DialContext == nil {
		t.Fatal("proxied transport not configured")
	}
	if c.Timeout != 3*time.Second {
		t.Fatalf("timeout=%s", c.Timeout)
	}
}
