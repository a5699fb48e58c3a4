package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置结构
type Config struct {
	// 日志配置
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`

	// 缓存配置
	Cache struct {
		Path          string        `yaml:"path"`
		AliveTTL      time.Duration `yaml:"alive_ttl"`
		DeadTTL       time.Duration `yaml:"dead_ttl"`
		PositiveTTL   time.Duration `yaml:"positive_ttl"`
		NegativeTTL   time.Duration `yaml:"negative_ttl"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"cache"`

	Resolvers struct {
		Global   []Resolver `yaml:"global"`
		Domestic []Resolver `yaml:"domestic"`
	} `yaml:"resolvers"`

	// 存活检测配置
	Liveness struct {
		Concurrency   int           `yaml:"concurrency"`
		Attempts      uint          `yaml:"attempts"`
		Timeout       time.Duration `yaml:"timeout"`
		RateLimit     float64       `yaml:"rate_limit"`
		RateBurst     int           `yaml:"rate_burst"`
		SampleSize    int           `yaml:"sample_size"`
		WhoisTimeout  time.Duration `yaml:"whois_timeout"`
		WhoisKeywords []string      `yaml:"whois_keywords"`
	} `yaml:"liveness"`

	// 规则源下载配置
	Fetch struct {
		UserAgent    string        `yaml:"user_agent"`
		Timeout      time.Duration `yaml:"timeout"`
		MaxBytes     int64         `yaml:"max_bytes"`
		MaxRedirects int           `yaml:"max_redirects"`
		Proxy        string        `yaml:"proxy"`
	} `yaml:"fetch"`

	Rules struct {
		NoResolve        bool   `yaml:"no_resolve"`
		PreMatching      bool   `yaml:"pre_matching"`
		ExtendedMatching bool   `yaml:"extended_matching"`
		TimeZone         string `yaml:"time_zone"`
	} `yaml:"rules"`

	MergeJobs []MergeJob `yaml:"merge_jobs"`

	// 管理接口配置
	HTTP struct {
		Listen        string        `yaml:"listen"`
		Token         string        `yaml:"token"`
		MergeInterval time.Duration `yaml:"merge_interval"`
	} `yaml:"http"`
}

// Resolver DoH 上游
type Resolver struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	// Format is "wire" (RFC 8484) or "json".
	Format string `yaml:"format"`
}

// MergeJob 描述一个目标规则文件由哪些源合并而来
type MergeJob struct {
	Name        string   `yaml:"name"`
	Target      string   `yaml:"target"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Format      string   `yaml:"format"`
	Sources     []string `yaml:"sources"`
	ExtraRules  []string `yaml:"extra_rules"`
	// Dedup drops repeated lines and folds the existing target into the
	// merge; without it the target is rebuilt from sources alone.
	Dedup   bool `yaml:"dedup"`
	Cleanup bool `yaml:"cleanup"`
	// NoResolve is "add", "strip" or empty to leave lines as they are.
	NoResolve     string `yaml:"no_resolve"`
	DeleteSources bool   `yaml:"delete_sources"`
}

// DefaultConfigPaths 未指定配置文件时按顺序查找
var DefaultConfigPaths = []string{
	"configs/ruleguard.yaml",
	"ruleguard.yaml",
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("RULEGUARD_CONFIG")
	}
	if configPath == "" {
		configPath = findDefaultConfig()
	}

	var config Config
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	setDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return &config, nil
}

// Default 返回仅含默认值的配置
func Default() *Config {
	var config Config
	setDefaults(&config)
	return &config
}

func findDefaultConfig() string {
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// setDefaults 设置默认配置值
func setDefaults(config *Config) {
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
	if config.Logging.Output == "" {
		config.Logging.Output = "stderr"
	}

	if config.Cache.Path == "" {
		config.Cache.Path = "data/ruleguard.db"
	}
	if config.Cache.AliveTTL == 0 {
		config.Cache.AliveTTL = 7 * 24 * time.Hour
	}
	if config.Cache.DeadTTL == 0 {
		config.Cache.DeadTTL = 24 * time.Hour
	}
	if config.Cache.PositiveTTL == 0 {
		config.Cache.PositiveTTL = 24 * time.Hour
	}
	if config.Cache.NegativeTTL == 0 {
		config.Cache.NegativeTTL = time.Hour
	}
	if config.Cache.SweepInterval == 0 {
		config.Cache.SweepInterval = time.Hour
	}

	if len(config.Resolvers.Global) == 0 {
		config.Resolvers.Global = DefaultGlobalResolvers()
	}
	if len(config.Resolvers.Domestic) == 0 {
		config.Resolvers.Domestic = DefaultDomesticResolvers()
	}
	for _, list := range [][]Resolver{config.Resolvers.Global, config.Resolvers.Domestic} {
		for i := range list {
			if list[i].Format == "" {
				list[i].Format = "wire"
			}
			if list[i].Name == "" {
				if u, err := url.Parse(list[i].URL); err == nil {
					list[i].Name = u.Host
				}
			}
		}
	}

	if config.Liveness.Concurrency == 0 {
		config.Liveness.Concurrency = 48
	}
	if config.Liveness.Attempts == 0 {
		config.Liveness.Attempts = 5
	}
	if config.Liveness.Timeout == 0 {
		config.Liveness.Timeout = 10 * time.Second
	}
	if config.Liveness.RateLimit == 0 {
		config.Liveness.RateLimit = 20
	}
	if config.Liveness.RateBurst == 0 {
		config.Liveness.RateBurst = 10
	}
	if config.Liveness.SampleSize == 0 {
		config.Liveness.SampleSize = 2
	}
	if config.Liveness.WhoisTimeout == 0 {
		config.Liveness.WhoisTimeout = 15 * time.Second
	}
	if len(config.Liveness.WhoisKeywords) == 0 {
		config.Liveness.WhoisKeywords = DefaultWhoisKeywords()
	}

	if config.Fetch.UserAgent == "" {
		config.Fetch.UserAgent = "ruleguard/1.0 (+https://github.com/winspan/ruleguard)"
	}
	if config.Fetch.Timeout == 0 {
		config.Fetch.Timeout = 30 * time.Second
	}
	if config.Fetch.MaxBytes == 0 {
		config.Fetch.MaxBytes = 32 << 20
	}
	if config.Fetch.MaxRedirects == 0 {
		config.Fetch.MaxRedirects = 5
	}

	if config.Rules.TimeZone == "" {
		config.Rules.TimeZone = "Asia/Shanghai"
	}

	for i := range config.MergeJobs {
		if config.MergeJobs[i].Format == "" {
			config.MergeJobs[i].Format = "ruleset"
		}
		if config.MergeJobs[i].Title == "" {
			config.MergeJobs[i].Title = config.MergeJobs[i].Name
		}
	}

	if config.HTTP.Listen == "" {
		config.HTTP.Listen = "127.0.0.1:8080"
	}
	if config.HTTP.MergeInterval == 0 {
		config.HTTP.MergeInterval = 6 * time.Hour
	}
}

// validateConfig 验证配置
func validateConfig(config *Config) error {
	if config.Liveness.Concurrency < 1 {
		return fmt.Errorf("liveness.concurrency 必须为正数: %d", config.Liveness.Concurrency)
	}
	if config.Liveness.SampleSize < 1 {
		return fmt.Errorf("liveness.sample_size 必须为正数: %d", config.Liveness.SampleSize)
	}
	if config.Cache.AliveTTL <= config.Cache.DeadTTL {
		return fmt.Errorf("cache.alive_ttl (%s) 必须大于 cache.dead_ttl (%s)", config.Cache.AliveTTL, config.Cache.DeadTTL)
	}
	if config.Cache.PositiveTTL < config.Cache.NegativeTTL {
		return fmt.Errorf("cache.positive_ttl (%s) 不能小于 cache.negative_ttl (%s)", config.Cache.PositiveTTL, config.Cache.NegativeTTL)
	}

	for _, list := range [][]Resolver{config.Resolvers.Global, config.Resolvers.Domestic} {
		for _, r := range list {
			u, err := url.Parse(r.URL)
			if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
				return fmt.Errorf("无效的 DoH 地址: %q", r.URL)
			}
			if r.Format != "wire" && r.Format != "json" {
				return fmt.Errorf("resolver %s: 不支持的格式 %q", r.Name, r.Format)
			}
		}
	}

	if config.Fetch.Proxy != "" {
		u, err := url.Parse(config.Fetch.Proxy)
		if err != nil || u.Scheme != "socks5" {
			return fmt.Errorf("fetch.proxy 仅支持 socks5:// 地址: %q", config.Fetch.Proxy)
		}
	}

	if _, err := time.LoadLocation(config.Rules.TimeZone); err != nil {
		return fmt.Errorf("无效的时区 %q: %w", config.Rules.TimeZone, err)
	}

	seen := make(map[string]bool)
	for _, job := range config.MergeJobs {
		if strings.TrimSpace(job.Name) == "" {
			return fmt.Errorf("merge_jobs: 任务名称不能为空")
		}
		if seen[job.Name] {
			return fmt.Errorf("merge_jobs: 任务名称重复: %s", job.Name)
		}
		seen[job.Name] = true
		if job.Target == "" {
			return fmt.Errorf("merge_jobs[%s]: target 不能为空", job.Name)
		}
		switch job.NoResolve {
		case "", "add", "strip":
		default:
			return fmt.Errorf("merge_jobs[%s]: no_resolve 只能是 add、strip 或留空", job.Name)
		}
		switch job.Format {
		case "ruleset", "domainset":
		default:
			return fmt.Errorf("merge_jobs[%s]: 不支持的格式 %q", job.Name, job.Format)
		}
	}
	return nil
}

// Job 按名称查找合并任务
func (c *Config) Job(name string) (MergeJob, bool) {
	for _, job := range c.MergeJobs {
		if job.Name == name {
			return job, true
		}
	}
	return MergeJob{}, false
}
