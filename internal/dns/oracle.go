package dns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mdns "github.com/miekg/dns"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"github.com/winspan/ruleguard/internal/keyedmutex"
	"github.com/winspan/ruleguard/internal/storage"
	"github.com/winspan/ruleguard/pkg/logger"
)

// Resolver 单个上游的记录查询
type Resolver interface {
	Query(ctx context.Context, up *Upstream, domain string, qtype uint16) ([]string, error)
}

// OracleOptions 存活判定参数
type OracleOptions struct {
	Resolver      Resolver
	Whois         Whoiser
	Cache         *storage.Cache
	Global        []*Upstream
	Domestic      []*Upstream
	SampleSize    int
	AliveTTL      time.Duration
	DeadTTL       time.Duration
	WhoisKeywords []string
	Logger        *logger.Logger
	Now           func() time.Time
	// Sample picks n upstreams from a pool; random by default.
	Sample func(ups []*Upstream, n int) []*Upstream
}

// Oracle 判定域名是否仍然存在
//
// 判定顺序：缓存 -> 主域 NS -> WHOIS -> 子域 A/AAAA（全球上游，再国内上游）。
// 同一主域或同一子域的并发判定只执行一次。
type Oracle struct {
	resolver   Resolver
	whois      Whoiser
	cache      *storage.Cache
	global     []*Upstream
	domestic   []*Upstream
	sampleSize int
	aliveTTL   time.Duration
	deadTTL    time.Duration
	keywords   []string
	log        *logger.Logger
	now        func() time.Time
	sample     func([]*Upstream, int) []*Upstream

	apexGroup keyedmutex.Group[storage.Verdict]
	hostGroup keyedmutex.Group[storage.Verdict]
	memo      sync.Map // domain key -> storage.Verdict
}

// NewOracle 创建存活判定器
func NewOracle(opts OracleOptions) *Oracle {
	o := &Oracle{
		resolver:   opts.Resolver,
		whois:      opts.Whois,
		cache:      opts.Cache,
		global:     opts.Global,
		domestic:   opts.Domestic,
		sampleSize: opts.SampleSize,
		aliveTTL:   opts.AliveTTL,
		deadTTL:    opts.DeadTTL,
		keywords:   opts.WhoisKeywords,
		log:        opts.Logger,
		now:        opts.Now,
		sample:     opts.Sample,
	}
	if o.sampleSize <= 0 {
		o.sampleSize = 2
	}
	if o.aliveTTL <= 0 {
		o.aliveTTL = 7 * 24 * time.Hour
	}
	if o.deadTTL <= 0 {
		o.deadTTL = 24 * time.Hour
	}
	if o.log == nil {
		o.log = logger.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.sample == nil {
		o.sample = Sample
	}
	return o
}

// NormalizeKey lower-cases and punycode-encodes a domain key. A leading
// "." marks a key that covers all subdomains and is kept.
func NormalizeKey(key string) (string, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	suffix := strings.HasPrefix(key, ".")
	domain := strings.TrimSuffix(strings.TrimPrefix(key, "."), ".")
	if domain == "" {
		return "", errors.New("empty domain")
	}
	if ascii, err := idna.ToASCII(domain); err == nil {
		domain = ascii
	}
	if suffix {
		return "." + domain, nil
	}
	return domain, nil
}

func apexOf(domain string) string {
	apex, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain
	}
	return apex
}

// IsDomainAlive never fails: any internal error or panic counts as alive so
// that a broken lookup never causes rules to be pruned.
func (o *Oracle) IsDomainAlive(ctx context.Context, key string) (alive bool) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("存活判定异常 %s: %v", key, r)
			livenessVerdicts.WithLabelValues("alive", "panic").Inc()
			alive = true
		}
	}()
	v, err := o.Check(ctx, key)
	if err != nil {
		o.log.Warn("存活判定失败 %s，按存活处理: %v", key, err)
		return true
	}
	return v.Alive
}

// Check returns the verdict for key, consulting the cache first.
func (o *Oracle) Check(ctx context.Context, key string) (storage.Verdict, error) {
	key, err := NormalizeKey(key)
	if err != nil {
		return storage.Verdict{}, err
	}
	if v, ok := o.lookup(ctx, key); ok {
		livenessVerdicts.WithLabelValues(verdictLabel(v.Alive), "cache").Inc()
		return v, nil
	}

	start := o.now()
	suffix := strings.HasPrefix(key, ".")
	domain := strings.TrimPrefix(key, ".")
	apex := apexOf(domain)

	apexVerdict, err := o.apexGroup.Do(ctx, apex, func(ctx context.Context) (v storage.Verdict, err error) {
		defer recoverInto(&err)
		return o.checkApex(ctx, apex)
	})
	if err != nil {
		return storage.Verdict{}, err
	}
	if key == apex {
		return apexVerdict, nil
	}

	var v storage.Verdict
	switch {
	case !apexVerdict.Alive:
		v = storage.Verdict{Domain: key, Alive: false, Meta: storage.VerdictMeta{Source: "apex"}}
	case suffix || domain == apex:
		v = storage.Verdict{Domain: key, Alive: true, Meta: storage.VerdictMeta{Source: apexVerdict.Meta.Source}}
	default:
		v, err = o.hostGroup.Do(ctx, domain, func(ctx context.Context) (v storage.Verdict, err error) {
			defer recoverInto(&err)
			return o.resolveHost(ctx, domain), nil
		})
		if err != nil {
			return storage.Verdict{}, err
		}
		v.Domain = key
	}
	if err := ctx.Err(); err != nil {
		return storage.Verdict{}, err
	}
	v.Meta.ResolveTimeMs = o.now().Sub(start).Milliseconds()
	return o.store(ctx, v), nil
}

func (o *Oracle) checkApex(ctx context.Context, apex string) (storage.Verdict, error) {
	if v, ok := o.lookup(ctx, apex); ok {
		return v, nil
	}
	start := o.now()

	for _, up := range o.sample(o.global, o.sampleSize) {
		if o.answered(ctx, up, apex, mdns.TypeNS) {
			return o.store(ctx, storage.Verdict{
				Domain: apex,
				Alive:  true,
				Meta:   storage.VerdictMeta{Source: "ns", ResolveTimeMs: o.now().Sub(start).Milliseconds()},
			}), nil
		}
	}
	if err := ctx.Err(); err != nil {
		return storage.Verdict{}, err
	}

	v := storage.Verdict{Domain: apex}
	if o.whois == nil {
		v.Alive = true
		v.Meta = storage.VerdictMeta{Source: "whois-error", ErrorCode: "WHOIS_UNAVAILABLE"}
	} else {
		res, err := o.whois.Lookup(ctx, apex)
		switch {
		case err != nil:
			o.log.Warn("WHOIS 查询失败 %s，按存活处理: %v", apex, err)
			v.Alive = true
			v.Meta = storage.VerdictMeta{Source: "whois-error", ErrorCode: "WHOIS_ERROR", ErrorMessage: err.Error()}
		default:
			v.Alive = registered(res, o.keywords)
			v.Meta = storage.VerdictMeta{Source: "whois"}
		}
	}
	v.Meta.ResolveTimeMs = o.now().Sub(start).Milliseconds()
	return o.store(ctx, v), nil
}

// resolveHost looks for A then AAAA answers on the global pool and then on
// the domestic pool, stopping at the first non-empty answer.
func (o *Oracle) resolveHost(ctx context.Context, domain string) storage.Verdict {
	passes := []struct {
		name string
		ups  []*Upstream
	}{
		{"global", o.global},
		{"domestic", o.domestic},
	}
	for _, pass := range passes {
		ups := o.sample(pass.ups, o.sampleSize)
		for _, qtype := range []uint16{mdns.TypeA, mdns.TypeAAAA} {
			for _, up := range ups {
				if o.answered(ctx, up, domain, qtype) {
					source := strings.ToLower(mdns.TypeToString[qtype]) + "-" + pass.name
					return storage.Verdict{Domain: domain, Alive: true, Meta: storage.VerdictMeta{Source: source}}
				}
			}
		}
	}
	return storage.Verdict{Domain: domain, Alive: false, Meta: storage.VerdictMeta{Source: "no-answer"}}
}

// answered treats a resolver failure as an empty answer.
func (o *Oracle) answered(ctx context.Context, up *Upstream, domain string, qtype uint16) bool {
	answers, err := o.resolver.Query(ctx, up, domain, qtype)
	if err != nil {
		o.log.Debug("查询失败 %s %s@%s: %v", domain, mdns.TypeToString[qtype], up.Name, err)
		return false
	}
	return len(answers) > 0
}

// Forget drops the stored verdicts of key and of its apex so the next
// Check queries the resolvers again.
func (o *Oracle) Forget(ctx context.Context, key string) error {
	key, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	keys := []string{key}
	if apex := apexOf(strings.TrimPrefix(key, ".")); apex != key {
		keys = append(keys, apex)
	}
	for _, k := range keys {
		o.memo.Delete(k)
		if o.cache == nil {
			continue
		}
		if err := o.cache.DeleteVerdict(ctx, k); err != nil {
			return fmt.Errorf("删除判定缓存失败: %w", err)
		}
	}
	return nil
}

func (o *Oracle) lookup(ctx context.Context, key string) (storage.Verdict, bool) {
	if raw, ok := o.memo.Load(key); ok {
		v := raw.(storage.Verdict)
		if o.now().Before(v.ExpiresAt) {
			return v, true
		}
		o.memo.Delete(key)
	}
	if o.cache == nil {
		return storage.Verdict{}, false
	}
	v, ok, err := o.cache.GetVerdict(ctx, key)
	if err != nil {
		o.log.Warn("读取判定缓存失败 %s: %v", key, err)
		return storage.Verdict{}, false
	}
	if ok {
		o.memo.Store(key, v)
	}
	return v, ok
}

func (o *Oracle) store(ctx context.Context, v storage.Verdict) storage.Verdict {
	// 无法判定而放行的结果按短 TTL 缓存
	ttl := o.deadTTL
	if v.Alive && v.Meta.ErrorCode == "" {
		ttl = o.aliveTTL
	}
	v.CheckedAt = o.now()
	v.ExpiresAt = v.CheckedAt.Add(ttl)
	if o.cache != nil {
		stored, err := o.cache.SetVerdict(ctx, v, ttl)
		if err != nil {
			o.log.Warn("写入判定缓存失败 %s: %v", v.Domain, err)
		} else {
			v = stored
		}
	}
	o.memo.Store(v.Domain, v)
	livenessVerdicts.WithLabelValues(verdictLabel(v.Alive), v.Meta.Source).Inc()
	o.log.Debug("判定 %s alive=%t source=%s", v.Domain, v.Alive, v.Meta.Source)
	return v
}

func verdictLabel(alive bool) string {
	if alive {
		return "alive"
	}
	return "dead"
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic: %v", r)
	}
}
