package dns

import (
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/winspan/ruleguard/pkg/config"
)

// Upstream 一个 DoH 上游
type Upstream struct {
	Name   string
	URL    string
	Format string // wire | json

	limiter *rate.Limiter
}

// NewUpstreams 按配置创建上游列表，每个上游独立限速
func NewUpstreams(resolvers []config.Resolver, qps float64, burst int) []*Upstream {
	out := make([]*Upstream, 0, len(resolvers))
	for _, r := range resolvers {
		format := r.Format
		if format == "" {
			format = "wire"
		}
		up := &Upstream{Name: r.Name, URL: r.URL, Format: format}
		if qps > 0 {
			up.limiter = rate.NewLimiter(rate.Limit(qps), max(burst, 1))
		}
		out = append(out, up)
	}
	return out
}

// Sample 随机抽取 n 个上游
func Sample(ups []*Upstream, n int) []*Upstream {
	if n >= len(ups) {
		return lo.Shuffle(append([]*Upstream(nil), ups...))
	}
	return lo.Samples(ups, n)
}

type healthState struct {
	failures     int
	trippedUntil time.Time
}

// 简单熔断：连续失败 N 次后在 M 时间内跳过该上游
const (
	circuitFailThreshold = 3
	circuitOpenDuration  = 30 * time.Second
)

type breaker struct {
	mu     sync.Mutex
	states map[string]*healthState
	now    func() time.Time
}

func newBreaker(now func() time.Time) *breaker {
	return &breaker{states: make(map[string]*healthState), now: now}
}

func (b *breaker) available(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.states[name]
	return st == nil || !b.now().Before(st.trippedUntil)
}

func (b *breaker) failure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.states[name]
	if st == nil {
		st = &healthState{}
		b.states[name] = st
	}
	st.failures++
	if st.failures >= circuitFailThreshold {
		st.trippedUntil = b.now().Add(circuitOpenDuration)
		st.failures = 0
		circuitOpened.WithLabelValues(name).Inc()
	}
}

func (b *breaker) success(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st := b.states[name]; st != nil {
		st.failures = 0
		st.trippedUntil = time.Time{}
	}
}

// UpstreamHealth 上游熔断状态快照
type UpstreamHealth struct {
	Name         string    `json:"name"`
	Healthy      bool      `json:"healthy"`
	TrippedUntil time.Time `json:"tripped_until,omitempty"`
}

func (b *breaker) snapshot() []UpstreamHealth {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	out := make([]UpstreamHealth, 0, len(b.states))
	for name, st := range b.states {
		out = append(out, UpstreamHealth{Name: name, Healthy: !now.Before(st.trippedUntil), TrippedUntil: st.trippedUntil})
	}
	return out
}
