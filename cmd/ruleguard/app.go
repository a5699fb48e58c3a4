package main

import (
	"fmt"
	"time"

	"github.com/winspan/ruleguard/internal/dns"
	"github.com/winspan/ruleguard/internal/fetch"
	"github.com/winspan/ruleguard/internal/merge"
	"github.com/winspan/ruleguard/internal/netx"
	"github.com/winspan/ruleguard/internal/rule"
	"github.com/winspan/ruleguard/internal/storage"
	"github.com/winspan/ruleguard/pkg/config"
	"github.com/winspan/ruleguard/pkg/logger"
)

// app 持有进程级对象，命令按需创建其余组件
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	cache *storage.Cache
}

func newApp(cfg *config.Config) (*app, error) {
	log, err := logger.NewLogger(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	logger.SetDefault(log)

	cache, err := storage.Open(cfg.Cache.Path)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("打开缓存失败: %w", err)
	}
	return &app{cfg: cfg, log: log, cache: cache}, nil
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		a.log.Warn("关闭缓存失败: %v", err)
	}
	_ = a.log.Close()
}

func ruleOptions(cfg *config.Config) rule.Options {
	return rule.Options{
		NoResolve:        cfg.Rules.NoResolve,
		PreMatching:      cfg.Rules.PreMatching,
		ExtendedMatching: cfg.Rules.ExtendedMatching,
	}
}

func (a *app) engine(cfg *config.Config) (*merge.Engine, error) {
	fetcher, err := fetch.New(fetch.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout,
		MaxBytes:     cfg.Fetch.MaxBytes,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		Proxy:        cfg.Fetch.Proxy,
	})
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Rules.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("加载时区失败: %w", err)
	}
	return merge.NewEngine(fetcher, merge.Options{
		Rules:    ruleOptions(cfg),
		Location: loc,
		Store:    a.cache,
		Logger:   a.log,
	}), nil
}

func (a *app) oracle(cfg *config.Config) (*dns.Oracle, *dns.Client, error) {
	httpClient, err := netx.NewHTTPClient(cfg.Fetch.Proxy, cfg.Liveness.Timeout)
	if err != nil {
		return nil, nil, err
	}
	dialer, err := netx.Dialer(cfg.Fetch.Proxy)
	if err != nil {
		return nil, nil, err
	}

	client := dns.NewClient(dns.ClientOptions{
		HTTPClient:  httpClient,
		Cache:       a.cache,
		Attempts:    cfg.Liveness.Attempts,
		PositiveTTL: cfg.Cache.PositiveTTL,
		NegativeTTL: cfg.Cache.NegativeTTL,
		Logger:      a.log,
	})
	oracle := dns.NewOracle(dns.OracleOptions{
		Resolver:      client,
		Whois:         dns.NewWhoisClient(dialer, cfg.Liveness.WhoisTimeout, 3),
		Cache:         a.cache,
		Global:        dns.NewUpstreams(cfg.Resolvers.Global, cfg.Liveness.RateLimit, cfg.Liveness.RateBurst),
		Domestic:      dns.NewUpstreams(cfg.Resolvers.Domestic, cfg.Liveness.RateLimit, cfg.Liveness.RateBurst),
		SampleSize:    cfg.Liveness.SampleSize,
		AliveTTL:      cfg.Cache.AliveTTL,
		DeadTTL:       cfg.Cache.DeadTTL,
		WhoisKeywords: cfg.Liveness.WhoisKeywords,
		Logger:        a.log,
	})
	return oracle, client, nil
}
