package dns

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	mdns "github.com/miekg/dns"

	"github.com/winspan/ruleguard/internal/storage"
	"github.com/winspan/ruleguard/pkg/logger"
)

// wireServer answers A queries for example.com and NXDOMAIN otherwise.
func wireServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/dns-message" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		req := new(mdns.Msg)
		if err := req.Unpack(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := new(mdns.Msg)
		resp.SetReply(req)
		q := req.Question[0]
		if q.Name == "example.com." && q.Qtype == mdns.TypeA {
			rr, _ := mdns.NewRR("example.com. 300 IN A 93.184.216.34")
			resp.Answer = append(resp.Answer, rr)
		} else {
			resp.Rcode = mdns.RcodeNameError
		}
		packed, _ := resp.Pack()
		w.Header().Set("Content-Type", "application/dns-message")
		_, _ = w.Write(packed)
	}))
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cache, err := storage.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return NewClient(ClientOptions{
		Cache:      cache,
		Attempts:   2,
		RetryDelay: time.Millisecond,
		Logger:     logger.Discard(),
	})
}

func TestWireQueryAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := wireServer(t, &hits)
	defer srv.Close()

	c := newTestClient(t)
	up := &Upstream{Name: "wire", URL: srv.URL, Format: "wire"}
	ctx := context.Background()

	got, err := c.Query(ctx, up, "Example.com.", mdns.TypeA)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0] != "93.184.216.34" {
		t.Fatalf("answers=%v", got)
	}
	if _, err := c.Query(ctx, up, "example.com", mdns.TypeA); err != nil {
		t.Fatalf("cached Query: %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("server hits=%d, want=1", n)
	}
}

func TestWireNXDomainIsEmpty(t *testing.T) {
	var hits atomic.Int32
	srv := wireServer(t, &hits)
	defer srv.Close()

	c := newTestClient(t)
	up := &Upstream{Name: "wire", URL: srv.URL, Format: "wire"}
	for i := 0; i < 2; i++ {
		got, err := c.Query(context.Background(), up, "missing.example", mdns.TypeNS)
		if err != nil || len(got) != 0 {
			t.Fatalf("answers=%v err=%v, want empty", got, err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("negative answer not cached, hits=%d", n)
	}
}

func TestJSONQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") != "example.com" || r.URL.Query().Get("type") != "NS" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/dns-json")
		_, _ = io.WriteString(w, `{"Status":0,"Answer":[
			{"name":"example.com.","type":2,"TTL":300,"data":"a.iana-servers.net."},
			{"name":"example.com.","type":46,"TTL":300,"data":"sig"},
			{"name":"example.com.","type":2,"TTL":300,"data":"b.iana-servers.net."}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t)
	up := &Upstream{Name: "json", URL: srv.URL + "/resolve", Format: "json"}
	got, err := c.Query(context.Background(), up, "example.com", mdns.TypeNS)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 || got[0] != "a.iana-servers.net" || got[1] != "b.iana-servers.net" {
		t.Fatalf("answers=%v", got)
	}
}

func TestServFailRetriesThenOpensCircuit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"Status":2}`)
	}))
	defer srv.Close()

	c := newTestClient(t)
	up := &Upstream{Name: "broken", URL: srv.URL, Format: "json"}
	ctx := context.Background()

	for i := 0; i < circuitFailThreshold; i++ {
		_, err := c.Query(ctx, up, "example.com", mdns.TypeA)
		var re *ResolverError
		if !errors.As(err, &re) || re.Resolver != "broken" || !errors.Is(err, errServFail) {
			t.Fatalf("query %d: err=%v, want ResolverError wrapping SERVFAIL", i, err)
		}
	}
	if n := hits.Load(); n != int32(2*circuitFailThreshold) {
		t.Fatalf("server hits=%d, want=%d", n, 2*circuitFailThreshold)
	}

	_, err := c.Query(ctx, up, "example.com", mdns.TypeA)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err=%v, want ErrCircuitOpen", err)
	}
	if n := hits.Load(); n != int32(2*circuitFailThreshold) {
		t.Fatalf("open circuit still hit the server")
	}
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t)
	up := &Upstream{Name: "forbidden", URL: srv.URL, Format: "wire"}
	if _, err := c.Query(context.Background(), up, "example.com", mdns.TypeA); err == nil {
		t.Fatal("403 accepted")
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("server hits=%d, want=1", n)
	}
}

func TestBreakerRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBreaker(func() time.Time { return now })
	for i := 0; i < circuitFailThreshold; i++ {
		b.failure("x")
	}
	if b.available("x") {
		t.Fatal("breaker not open")
	}
	now = now.Add(circuitOpenDuration)
	if !b.available("x") {
		t.Fatal("breaker still open after cool-down")
	}
	b.success("x")
	if h := b.snapshot(); len(h) != 1 || !h[0].Healthy {
		t.Fatalf("snapshot=%+v", h)
	}
}

func TestRegisteredKeywords(t *testing.T) {
	res := &WhoisResult{Raw: "Domain Name: A.COM\nStatus: ok", Fields: parseWhoisFields("Domain Name: A.COM\nStatus: ok")}
	if !registered(res, []string{"no match for"}) {
		t.Fatal("registered domain rejected")
	}
	if res.Fields["domain name"] != "A.COM" {
		t.Fatalf("fields=%v", res.Fields)
	}
	if registered(&WhoisResult{Raw: "NO MATCH FOR a.com"}, []string{"no match for"}) {
		t.Fatal("unregistered keyword ignored")
	}
	if registered(nil, nil) {
		t.Fatal("nil result counted as registered")
	}
}
