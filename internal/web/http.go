package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/winspan/ruleguard/internal/dns"
	"github.com/winspan/ruleguard/internal/merge"
	"github.com/winspan/ruleguard/internal/storage"
)

// CacheStore 缓存管理
type CacheStore interface {
	Stats(ctx context.Context) (storage.CacheStats, error)
	SweepExpired(ctx context.Context) (int64, error)
}

// Oracle 单域名存活判定
type Oracle interface {
	Check(ctx context.Context, key string) (storage.Verdict, error)
	Forget(ctx context.Context, key string) error
}

// Jobs 合并任务调度
type Jobs interface {
	Run(ctx context.Context, name string, force bool) (merge.JobStatus, bool)
	RunAll(ctx context.Context, force bool) []merge.JobStatus
	Status() []merge.JobStatus
}

// ResolverHealth 上游熔断状态
type ResolverHealth interface {
	Health() []dns.UpstreamHealth
}

// Deps 管理接口依赖
type Deps struct {
	Cache     CacheStore
	Oracle    Oracle
	Jobs      Jobs
	Resolvers ResolverHealth
	Token     string
	// Timeout bounds ordinary requests; merges and checks use MergeTimeout.
	Timeout      time.Duration
	MergeTimeout time.Duration
}

type Api struct {
	deps Deps
}

// BindRoutes 注册管理接口
func BindRoutes(r *chi.Mux, deps Deps) {
	if deps.Timeout == 0 {
		deps.Timeout = 10 * time.Second
	}
	if deps.MergeTimeout == 0 {
		deps.MergeTimeout = 10 * time.Minute
	}
	api := &Api{deps: deps}

	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/healthz", api.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(pr chi.Router) {
		pr.Use(api.auth, middleware.Timeout(deps.Timeout))
		pr.Get("/api/cache/stats", api.getCacheStats)
		pr.Post("/api/cache/sweep", api.sweepCache)
		pr.Get("/api/jobs", api.getJobs)
		pr.Get("/api/resolvers", api.getResolvers)
	})
	r.Group(func(pr chi.Router) {
		pr.Use(api.auth, middleware.Timeout(deps.MergeTimeout))
		pr.Get("/api/check", api.check)
		pr.Post("/api/merge", api.merge)
	})
}

func (a *Api) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 如果token为空，跳过认证
		if a.deps.Token == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") || strings.TrimPrefix(h, "Bearer ") != a.deps.Token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *Api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// 获取缓存统计
func (a *Api) getCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.deps.Cache.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// 清理过期缓存
func (a *Api) sweepCache(w http.ResponseWriter, r *http.Request) {
	n, err := a.deps.Cache.SweepExpired(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

func (a *Api) check(w http.ResponseWriter, r *http.Request) {
	domain := strings.TrimSpace(r.URL.Query().Get("domain"))
	if domain == "" {
		http.Error(w, "missing domain", http.StatusBadRequest)
		return
	}
	// refresh=true 丢弃缓存判定后重新查询
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		if err := a.deps.Oracle.Forget(r.Context(), domain); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	v, err := a.deps.Oracle.Check(r.Context(), domain)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// 手动触发合并，job 为空时执行全部任务
func (a *Api) merge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	force, _ := strconv.ParseBool(q.Get("force"))
	name := q.Get("job")

	if name == "" {
		writeJSON(w, http.StatusOK, a.deps.Jobs.RunAll(r.Context(), force))
		return
	}
	st, ok := a.deps.Jobs.Run(r.Context(), name, force)
	if !ok {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	status := http.StatusOK
	if st.Error != "" {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, st)
}

func (a *Api) getJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Jobs.Status())
}

func (a *Api) getResolvers(w http.ResponseWriter, r *http.Request) {
	if a.deps.Resolvers == nil {
		writeJSON(w, http.StatusOK, []dns.UpstreamHealth{})
		return
	}
	writeJSON(w, http.StatusOK, a.deps.Resolvers.Health())
}
