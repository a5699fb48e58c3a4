package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/winspan/ruleguard/internal/dns"
	"github.com/winspan/ruleguard/internal/merge"
	"github.com/winspan/ruleguard/internal/storage"
)

type fakeCache struct{ swept int64 }

func (f *fakeCache) Stats(ctx context.Context) (storage.CacheStats, error) {
	return storage.CacheStats{Hits: 3, Misses: 1, Entries: 7}, nil
}

func (f *fakeCache) SweepExpired(ctx context.Context) (int64, error) {
	f.swept++
	return 2, nil
}

type fakeOracle struct{ forgotten []string }

func (f *fakeOracle) Check(ctx context.Context, key string) (storage.Verdict, error) {
	if key == "broken.example" {
		return storage.Verdict{}, errors.New("resolver down")
	}
	return storage.Verdict{Domain: key, Alive: key != "dead.example"}, nil
}

func (f *fakeOracle) Forget(ctx context.Context, key string) error {
	f.forgotten = append(f.forgotten, key)
	return nil
}

type fakeJobs struct{ runs []string }

func (f *fakeJobs) Run(ctx context.Context, name string, force bool) (merge.JobStatus, bool) {
	if name != "ads" {
		return merge.JobStatus{}, false
	}
	f.runs = append(f.runs, name)
	return merge.JobStatus{Job: name, LastRun: time.Now(), Result: &merge.Result{Job: name, Rules: 5}}, true
}

func (f *fakeJobs) RunAll(ctx context.Context, force bool) []merge.JobStatus {
	f.runs = append(f.runs, "*")
	return []merge.JobStatus{{Job: "ads"}}
}

func (f *fakeJobs) Status() []merge.JobStatus { return []merge.JobStatus{{Job: "ads"}} }

type fakeHealth struct{}

func (fakeHealth) Health() []dns.UpstreamHealth {
	return []dns.UpstreamHealth{{Name: "cloudflare", Healthy: true}}
}

func newTestServer(t *testing.T, token string) (*httptest.Server, *fakeCache, *fakeJobs) {
	srv, cache, jobs, _ := newTestServerWithOracle(t, token)
	return srv, cache, jobs
}

func newTestServerWithOracle(t *testing.T, token string) (*httptest.Server, *fakeCache, *fakeJobs, *fakeOracle) {
	t.Helper()
	cache, jobs, oracle := &fakeCache{}, &fakeJobs{}, &fakeOracle{}
	r := chi.NewRouter()
	BindRoutes(r, Deps{Cache: cache, Oracle: oracle, Jobs: jobs, Resolvers: fakeHealth{}, Token: token})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, cache, jobs, oracle
}

func do(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")
	if resp := do(t, http.MethodGet, srv.URL+"/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/metrics", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status=%d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")
	if resp := do(t, http.MethodGet, srv.URL+"/api/cache/stats", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d, want=401", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/cache/stats", "wrong"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d, want=401", resp.StatusCode)
	}
	resp := do(t, http.MethodGet, srv.URL+"/api/cache/stats", "secret")
	var stats storage.CacheStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil || stats.Entries != 7 {
		t.Fatalf("stats=%+v err=%v", stats, err)
	}
}

func TestSweep(t *testing.T) {
	srv, cache, _ := newTestServer(t, "")
	resp := do(t, http.MethodPost, srv.URL+"/api/cache/sweep", "")
	var body map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["removed"] != 2 {
		t.Fatalf("body=%v err=%v", body, err)
	}
	if cache.swept != 1 {
		t.Fatalf("swept=%d", cache.swept)
	}
}

func TestCheckEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	if resp := do(t, http.MethodGet, srv.URL+"/api/check", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing domain status=%d", resp.StatusCode)
	}
	resp := do(t, http.MethodGet, srv.URL+"/api/check?domain=dead.example", "")
	var v storage.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil || v.Alive || v.Domain != "dead.example" {
		t.Fatalf("verdict=%+v err=%v", v, err)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/check?domain=broken.example", ""); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("broken status=%d", resp.StatusCode)
	}
}

func TestCheckRefreshForgetsVerdict(t *testing.T) {
	srv, _, _, oracle := newTestServerWithOracle(t, "")
	if resp := do(t, http.MethodGet, srv.URL+"/api/check?domain=a.example", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if len(oracle.forgotten) != 0 {
		t.Fatalf("forgotten=%v without refresh", oracle.forgotten)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/check?domain=a.example&refresh=true", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if len(oracle.forgotten) != 1 || oracle.forgotten[0] != "a.example" {
		t.Fatalf("forgotten=%v", oracle.forgotten)
	}
}

func TestMergeEndpoint(t *testing.T) {
	srv, _, jobs := newTestServer(t, "")
	if resp := do(t, http.MethodPost, srv.URL+"/api/merge?job=ads&force=true", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPost, srv.URL+"/api/merge?job=nope", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown job status=%d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPost, srv.URL+"/api/merge", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("run all status=%d", resp.StatusCode)
	}
	if len(jobs.runs) != 2 || jobs.runs[0] != "ads" || jobs.runs[1] != "*" {
		t.Fatalf("runs=%v", jobs.runs)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/merge", ""); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET merge status=%d", resp.StatusCode)
	}
}

func TestJobsAndResolvers(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	var st []merge.JobStatus
	if err := json.NewDecoder(do(t, http.MethodGet, srv.URL+"/api/jobs", "").Body).Decode(&st); err != nil || len(st) != 1 {
		t.Fatalf("jobs=%+v err=%v", st, err)
	}
	var h []dns.UpstreamHealth
	if err := json.NewDecoder(do(t, http.MethodGet, srv.URL+"/api/resolvers", "").Body).Decode(&h); err != nil || len(h) != 1 || !h[0].Healthy {
		t.Fatalf("resolvers=%+v err=%v", h, err)
	}
}
